// Package game holds the event schema shared by log classifiers and their consumers.
package game

// EventKind is the closed set of classification outcomes.
type EventKind string

const (
	KindChat        EventKind = "chat"
	KindConnection  EventKind = "connection"
	KindDeath       EventKind = "death"
	KindAdvancement EventKind = "advancement"
	KindMe          EventKind = "me"
	// KindNull marks a line that was seen and intentionally ignored.
	KindNull EventKind = "null"
)

// Valid reports whether k is one of the known kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindChat, KindConnection, KindDeath, KindAdvancement, KindMe, KindNull:
		return true
	}
	return false
}

// LogLine is one classified log line. It is a value type; consumers get their own copy.
type LogLine struct {
	Type     EventKind `json:"type"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
	Raw      string    `json:"raw"`
}

// Null returns the suppression sentinel for raw.
func Null(raw string) LogLine {
	return LogLine{Type: KindNull, Raw: raw}
}

// IsNull reports whether the line was suppressed rather than classified.
func (l LogLine) IsNull() bool {
	return l.Type == KindNull || l.Type == ""
}

// Classifier turns raw server log lines into events. Implementations must be
// pure: the same input always yields the same LogLine.
type Classifier interface {
	ParseLogLine(raw string) LogLine
}
