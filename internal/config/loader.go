package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads path, resolves environment references and decodes it with
// defaults applied. It does not validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// LoadAndValidate loads config and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Parse decodes a YAML document with defaults applied. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnv(string(data), os.LookupEnv)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// expandEnv substitutes $VAR and ${VAR} references. ${VAR:-fallback} uses
// fallback when VAR is unset or empty; $$ is a literal dollar sign. Other
// references to unset variables are reported together in one error.
func expandEnv(s string, lookup func(string) (string, bool)) (string, error) {
	var missing []string

	out := os.Expand(s, func(ref string) string {
		if ref == "$" {
			return "$"
		}

		name, fallback, hasFallback := strings.Cut(ref, ":-")
		val, ok := lookup(name)
		switch {
		case ok && val != "":
			return val
		case hasFallback:
			return fallback
		case ok:
			return val
		}

		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return ""
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("config references unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
