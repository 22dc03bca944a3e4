// Package yamlx lets JSON-tagged types be read from YAML documents by
// converting YAML to JSON first, so one strict JSON decoder serves both.
package yamlx

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// IsYAMLPath reports whether path has a .yaml or .yml extension.
func IsYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ToJSON converts a YAML document to JSON bytes.
func ToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// PathToJSON converts data to JSON when path names a YAML file and returns it
// unchanged otherwise.
func PathToJSON(path string, data []byte) ([]byte, error) {
	if !IsYAMLPath(path) {
		return data, nil
	}
	return ToJSON(data)
}

// FromJSON re-encodes a JSON document as YAML. Integral numbers stay
// integers.
func FromJSON(j []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(strings.NewReader(string(j)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return yaml.Marshal(numbersToInts(v))
}

// stringKeys rewrites map[any]any nodes so the tree is JSON-marshalable.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

func numbersToInts(in any) any {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			x[k] = numbersToInts(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = numbersToInts(x[i])
		}
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	default:
		return in
	}
}
