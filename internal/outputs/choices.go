package outputs

import (
	"fmt"
	"strings"
)

// Choice pairs a display label with the stable value stored in records.
type Choice struct {
	Label string
	Value int
}

// Choices is an ordered list of enumeration entries for an editor.
type Choices []Choice

// Labels returns the display labels in order.
func (cs Choices) Labels() []string {
	labels := make([]string, len(cs))
	for i, c := range cs {
		labels[i] = c.Label
	}
	return labels
}

// EncodeChoices maps a label to its stored value. Labels compare case
// insensitively.
func EncodeChoices(choices Choices, label string) (int, error) {
	for _, c := range choices {
		if strings.EqualFold(c.Label, label) {
			return c.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: choice %q", ErrNotFound, label)
}

// DecodeChoices maps a stored value back to its label.
func DecodeChoices(choices Choices, value int) (string, error) {
	for _, c := range choices {
		if c.Value == value {
			return c.Label, nil
		}
	}
	return "", fmt.Errorf("%w: choice value %d", ErrOutOfRange, value)
}
