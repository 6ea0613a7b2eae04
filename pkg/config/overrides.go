package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Overrides holds configuration values set on the command line, keyed by
// the nested mapstructure path, e.g. {"adapters": {"gopher": {"port": "70"}}}.
type Overrides map[string]any

// Set stores value under a dotted key such as "adapters.gopher.root".
func (o Overrides) Set(key string, value any) {
	parts := strings.Split(key, ".")
	m := map[string]any(o)
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// ApplyOverrides decodes overrides on top of cfg. Values are weakly typed so
// raw flag strings ("4", "7070", "30s") land in int and duration fields.
// Fields not named in overrides are left untouched.
func ApplyOverrides(cfg *Config, overrides Overrides) error {
	if len(overrides) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create override decoder: %w", err)
	}

	if err := decoder.Decode(map[string]any(overrides)); err != nil {
		return fmt.Errorf("invalid command line override: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML, as printed by -print-config.
func Marshal(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
