package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON returns the file contents as JSON so YAML and JSON share the strict
// decoder. Files without a .yaml/.yml extension are passed through.
func toJSON(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	var v any = map[string]any{}
	if len(doc.Content) > 0 {
		var err error
		if v, err = yamlValue(doc.Content[0], ""); err != nil {
			return nil, "yaml", fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("%s: re-encode: %w", filepath.Base(path), err)
	}
	return j, "yaml", nil
}

// yamlValue converts one node. field is the dotted path used in errors,
// e.g. "storage.dsn".
func yamlValue(n *yaml.Node, field string) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return yamlValue(n.Alias, field)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, val := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: %s: keys must be plain strings", k.Line, orRoot(field))
			}
			child := k.Value
			if field != "" {
				child = field + "." + k.Value
			}
			v, err := yamlValue(val, child)
			if err != nil {
				return nil, err
			}
			m[k.Value] = v
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for i, c := range n.Content {
			v, err := yamlValue(c, fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		if strings.HasPrefix(strings.TrimSpace(n.Value), "${") {
			return nil, placeholderError(n, field)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", n.Line, orRoot(field), err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("line %d: %s: unsupported YAML node", n.Line, orRoot(field))
}

// placeholderError explains that the file is not env-expanded and, where
// one exists, names the variable that overrides the field.
func placeholderError(n *yaml.Node, field string) error {
	if key, ok := envFields[field]; ok {
		return fmt.Errorf("line %d: %s: %s is not expanded; leave the field empty and set %s", n.Line, field, n.Value, key)
	}
	return fmt.Errorf("line %d: %s: %s is not expanded; config files take literal values", n.Line, orRoot(field), n.Value)
}

func orRoot(field string) string {
	if field == "" {
		return "(root)"
	}
	return field
}
