package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/simon020286/nightly/matrix"
)

// MatrixConfig is the `strategy.matrix` section. Axis order follows the document.
type MatrixConfig struct {
	Axes    []matrix.Axis
	Include []map[string]string
	Exclude []map[string]string
}

// IsEmpty reports whether the matrix declares nothing
func (m MatrixConfig) IsEmpty() bool {
	return len(m.Axes) == 0 && len(m.Include) == 0
}

// Spec converts the section to a matrix specification
func (m MatrixConfig) Spec() matrix.Spec {
	return matrix.Spec{Axes: m.Axes, Include: m.Include, Exclude: m.Exclude}
}

// Cells expands the matrix
func (m MatrixConfig) Cells() []matrix.Cell {
	return matrix.Expand(m.Spec())
}

// UnmarshalYAML keeps scalar text untouched so that 3.10 stays "3.10"
func (m *MatrixConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: matrix must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		switch key.Value {
		case "include", "exclude":
			entries, err := decodeCombinations(value)
			if err != nil {
				return fmt.Errorf("matrix.%s: %w", key.Value, err)
			}
			if key.Value == "include" {
				m.Include = entries
			} else {
				m.Exclude = entries
			}
		default:
			if value.Kind != yaml.SequenceNode {
				return fmt.Errorf("line %d: matrix axis '%s' must be a list", value.Line, key.Value)
			}
			axis := matrix.Axis{Name: key.Value, Values: make([]string, 0, len(value.Content))}
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("line %d: matrix axis '%s' values must be scalars", item.Line, key.Value)
				}
				axis.Values = append(axis.Values, item.Value)
			}
			m.Axes = append(m.Axes, axis)
		}
	}
	return nil
}

func decodeCombinations(node *yaml.Node) ([]map[string]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of mappings", node.Line)
	}
	out := make([]map[string]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: expected a mapping", item.Line)
		}
		entry := make(map[string]string, len(item.Content)/2)
		for i := 0; i+1 < len(item.Content); i += 2 {
			v := item.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: values must be scalars", v.Line)
			}
			entry[item.Content[i].Value] = v.Value
		}
		out = append(out, entry)
	}
	return out, nil
}
