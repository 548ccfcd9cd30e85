package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Antoinesrvt/architech/pkg/engine"
)

// loadProjectConfig reads a project configuration from a JSON or YAML file,
// chosen by extension. YAML is converted through JSON so both formats share
// the same field names.
func loadProjectConfig(path string) (*engine.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		data, err = json.Marshal(normalizeYAML(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML config: %w", err)
		}
	case ".json":
	default:
		return nil, fmt.Errorf("unsupported config format %q, use .json or .yaml", filepath.Ext(path))
	}

	cfg := &engine.ProjectConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// normalizeYAML rewrites map[interface{}]interface{} trees into
// map[string]interface{} so they marshal to JSON.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
