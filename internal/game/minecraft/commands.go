package minecraft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ListCommand reports online players; it is harmless to send as a liveness probe.
const ListCommand = "list"

type textComponent struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// TellrawCommand renders a "tellraw @a" command showing message as chat from
// username. The text is JSON-encoded, so quotes and selectors are inert.
func TellrawCommand(username, message string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode([]textComponent{
		{Text: fmt.Sprintf("<%s> %s", username, message), Color: "white"},
	})
	if err != nil {
		return "", fmt.Errorf("encode tellraw: %w", err)
	}
	return "tellraw @a " + strings.TrimSuffix(buf.String(), "\n"), nil
}
