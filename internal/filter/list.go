package filter

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// List is a name or prefix list read from YAML. It accepts a sequence or a
// single string split with ParseList, so "a, b;c" and [a, b, c] are equal.
type List []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *List) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = ParseList(value.Value)

		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return fmt.Errorf("decoding list: %w", err)
		}

		*l = items

		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list", value.Line)
	}
}
