package minecraft

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTellrawCommand(t *testing.T) {
	cmd, err := TellrawCommand("Alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, `tellraw @a [{"text":"<Alice> hello","color":"white"}]`, cmd)
}

func TestTellrawCommand_EscapesJSON(t *testing.T) {
	cmd, err := TellrawCommand("Eve", `"},{"selector":"@e"}]`)
	require.NoError(t, err)

	var comps []map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(cmd, "tellraw @a ")), &comps))
	require.Len(t, comps, 1)
	assert.Equal(t, `<Eve> "},{"selector":"@e"}]`, comps[0]["text"])
}
