package minecraft

import (
	"strconv"
	"strings"
)

// KilledDeathMessageRegex matches the "Killed <player>" wording used from 1.21.4 on.
const KilledDeathMessageRegex = `Killed [\w_]+`

// CompareVersions compares dotted version strings numerically, treating
// missing or non-numeric components as 0. It returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < max(len(as), len(bs)); i++ {
		av, bv := component(as, i), component(bs, i)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, _ := strconv.Atoi(parts[i])
	return n
}

// DeathRegexForVersion picks the death message pattern for a server version.
// An empty version selects the default pattern.
func DeathRegexForVersion(version string) string {
	if version != "" && CompareVersions(version, "1.21.4") >= 0 {
		return KilledDeathMessageRegex
	}
	return DefaultDeathMessageRegex
}
