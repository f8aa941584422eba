package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes converts a YAML document to JSON so both formats go through
// the same strict decoder. JSON input is returned unchanged.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "yaml unmarshal")
	}
	if v == nil {
		return []byte("{}"), nil
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, errors.Wrap(err, "yaml->json marshal")
	}
	return j, nil
}

// normalizeYAML stringifies map keys so the tree can be JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
