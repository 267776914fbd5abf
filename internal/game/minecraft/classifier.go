// Package minecraft classifies vanilla/Paper server log lines into game events.
package minecraft

import (
	"fmt"
	"regexp"

	"github.com/reedfamily/mcbridge/internal/game"
)

// DefaultDeathMessageRegex matches vanilla death messages up to 1.21.3.
const DefaultDeathMessageRegex = `^[\w_]+ (died|drowned|blew up|fell|burned|froze|starved|suffocated|withered|walked into a cactus|experienced kinetic energy|discovered the floor was lava|tried to swim in lava|hit the ground|didn't want to live|went (up in flames|off with a bang)|walked into (fire|danger)|was (killed|shot|slain|pummeled|pricked|blown up|impaled|squashed|squished|skewered|poked|roasted|burnt|frozen|struck by lightning|fireballed|stung|doomed))`

// Priority is the evaluation order of the pattern table. Specific patterns
// come before general ones that could also match their text.
var Priority = [...]game.EventKind{
	game.KindDeath,
	game.KindAdvancement,
	game.KindMe,
	game.KindConnection,
	game.KindChat,
}

var (
	// prefixRe strips "[12:00:00] [Server thread/INFO]: ", "[12:00:00 INFO]: "
	// and mod-loader chains such as "[..] [..] [minecraft/DedicatedServer]: ".
	prefixRe      = regexp.MustCompile(`^\[[^\]]*\](?: \[[^\]]*\])*: (.*)$`)
	advancementRe = regexp.MustCompile(`^\w+ has (?:made the advancement|completed the challenge|reached the goal) \[.+\]$`)
	meRe          = regexp.MustCompile(`^\* (\w{1,16}) (.+)$`)
	connectionRe  = regexp.MustCompile(`^\w+ (?:joined|left) the game$`)
	chatRe        = regexp.MustCompile(`^(?:\[Not Secure\] )?<([^>]+)> (.*)$`)
)

// Options is the configuration snapshot a Classifier is built from.
type Options struct {
	ShowConnectionStatus bool
	ShowMeCommand        bool
	ShowDeathMessages    bool
	ShowAdvancements     bool
	// DeathMessageRegex overrides DefaultDeathMessageRegex; wording differs
	// between server versions (see DeathRegexForVersion).
	DeathMessageRegex string
	// ServerName prefixes the synthetic username of server-generated events.
	ServerName string
}

type rule struct {
	kind    game.EventKind
	re      *regexp.Regexp
	enabled bool
	extract func(m []string, payload string) (username, message string)
}

// Classifier evaluates an ordered pattern table. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	label string
	table []rule
}

var _ game.Classifier = (*Classifier)(nil)

// NewClassifier compiles the pattern table for opts.
func NewClassifier(opts Options) (*Classifier, error) {
	deathExpr := opts.DeathMessageRegex
	if deathExpr == "" {
		deathExpr = DefaultDeathMessageRegex
	}
	deathRe, err := regexp.Compile(deathExpr)
	if err != nil {
		return nil, fmt.Errorf("compile death message regex: %w", err)
	}

	c := &Classifier{label: "Server"}
	if opts.ServerName != "" {
		c.label = opts.ServerName + " - Server"
	}

	server := func(_ []string, payload string) (string, string) { return c.label, payload }
	rules := map[game.EventKind]rule{
		game.KindDeath:       {re: deathRe, enabled: opts.ShowDeathMessages, extract: server},
		game.KindAdvancement: {re: advancementRe, enabled: opts.ShowAdvancements, extract: server},
		game.KindMe: {re: meRe, enabled: opts.ShowMeCommand, extract: func(m []string, _ string) (string, string) {
			return c.label, "**" + m[1] + "** " + m[2]
		}},
		game.KindConnection: {re: connectionRe, enabled: opts.ShowConnectionStatus, extract: server},
		game.KindChat: {re: chatRe, enabled: true, extract: func(m []string, _ string) (string, string) {
			return m[1], m[2]
		}},
	}
	for _, kind := range Priority {
		r := rules[kind]
		r.kind = kind
		c.table = append(c.table, r)
	}
	return c, nil
}

// ParseLogLine classifies raw. Lines without a log prefix, and lines no
// enabled pattern matches, yield the null sentinel.
func (c *Classifier) ParseLogLine(raw string) game.LogLine {
	m := prefixRe.FindStringSubmatch(raw)
	if m == nil {
		return game.Null(raw)
	}
	payload := m[1]
	for _, r := range c.table {
		if !r.enabled {
			continue
		}
		sub := r.re.FindStringSubmatch(payload)
		if sub == nil {
			continue
		}
		username, message := r.extract(sub, payload)
		return game.LogLine{Type: r.kind, Username: username, Message: message, Raw: raw}
	}
	return game.Null(raw)
}
