package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type ProviderDecl struct {
	Name   string         `mapstructure:"name"`
	Type   string         `mapstructure:"type"`
	Params map[string]any `mapstructure:"params"`
}

type ProvidersFile struct {
	Providers []ProviderDecl    `mapstructure:"providers"`
	Bindings  map[string]string `mapstructure:"bindings"`
}

// LoadProvidersFile reads provider declarations from a YAML, JSON or TOML file.
// String params may reference environment variables as ${NAME}.
func LoadProvidersFile(path string) (*ProvidersFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var pf ProvidersFile
	if err := v.Unmarshal(&pf); err != nil {
		return nil, fmt.Errorf("unmarshal providers file: %w", err)
	}

	seen := make(map[string]struct{}, len(pf.Providers))
	for i := range pf.Providers {
		d := &pf.Providers[i]
		d.Name = strings.TrimSpace(d.Name)
		d.Type = strings.ToLower(strings.TrimSpace(d.Type))
		if d.Name == "" {
			return nil, fmt.Errorf("providers file: entry %d has no name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("providers file: duplicate provider %q", d.Name)
		}
		seen[d.Name] = struct{}{}
		d.Params = expandParams(d.Params)
	}
	if pf.Bindings == nil {
		pf.Bindings = map[string]string{}
	}
	return &pf, nil
}

func expandParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = os.ExpandEnv(s)
			continue
		}
		out[k] = v
	}
	return out
}
