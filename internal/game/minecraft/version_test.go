package minecraft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.21.4", "1.21.4", 0},
		{"1.21", "1.21.0", 0},
		{"1.21.5", "1.21.4", 1},
		{"1.20.6", "1.21.4", -1},
		{"1.9", "1.10", -1},
		{"2", "1.99.99", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestDeathRegexForVersion(t *testing.T) {
	assert.Equal(t, KilledDeathMessageRegex, DeathRegexForVersion("1.21.4"))
	assert.Equal(t, KilledDeathMessageRegex, DeathRegexForVersion("1.21.10"))
	assert.Equal(t, DefaultDeathMessageRegex, DeathRegexForVersion("1.21.3"))
	assert.Equal(t, DefaultDeathMessageRegex, DeathRegexForVersion(""))
}
