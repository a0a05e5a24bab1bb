package config

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Loader is a kong.ConfigurationLoader reading YAML or TOML run configuration.
// Keys match flag names in either kebab-case or snake_case. Values set on the
// command line take precedence over the file.
func Loader(r io.Reader) (kong.Resolver, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	values, err := decodeValues(raw)
	if err != nil {
		return nil, err
	}
	return kong.ResolverFunc(func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		v, ok := lookup(values, flag.Name)
		if !ok {
			return nil, nil
		}
		return stringify(v), nil
	}), nil
}

// decodeValues tries YAML first and falls back to TOML.
func decodeValues(raw []byte) (map[string]any, error) {
	values := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return values, nil
	}
	yamlErr := yaml.Unmarshal(raw, &values)
	if yamlErr == nil {
		return values, nil
	}
	values = map[string]any{}
	if err := toml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("config is neither YAML (%v) nor TOML (%w)", yamlErr, err)
	}
	return values, nil
}

func lookup(values map[string]any, name string) (any, bool) {
	if v, ok := values[name]; ok {
		return v, true
	}
	v, ok := values[strings.ReplaceAll(name, "-", "_")]
	return v, ok
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, stringify(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
