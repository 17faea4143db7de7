package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvConfigPath names the env var holding a config file path, consulted
// when Load is called with an empty path.
const EnvConfigPath = "ETL_CONFIG"

const envPrefix = "ETL_"

// Load builds a Config by layering sources, lowest precedence first:
//  1. Default()
//  2. YAML file at path (or $ETL_CONFIG when path is empty)
//  3. environment variables prefixed ETL_
//
// Nested keys use a double underscore in env form: ETL_STORAGE__KIND
// becomes storage.kind. A missing explicit file is an error; a missing
// $ETL_CONFIG file is too, since the operator asked for it.
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("config: input_dir must not be empty")
	}
	if c.RejectedDir == "" {
		return fmt.Errorf("config: rejected_dir must not be empty")
	}
	if c.Storage.Kind == "" {
		return fmt.Errorf("config: storage.kind must not be empty")
	}
	if c.Storage.Kind != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn must not be empty for kind %q", c.Storage.Kind)
	}
	if c.Validation.AgeMin > c.Validation.AgeMax {
		return fmt.Errorf("config: validation.age_min %d exceeds age_max %d",
			c.Validation.AgeMin, c.Validation.AgeMax)
	}
	switch c.Metrics.Backend {
	case "", "none", "pushgateway", "datadog":
	default:
		return fmt.Errorf("config: unknown metrics.backend %q", c.Metrics.Backend)
	}
	if c.Metrics.Backend == "pushgateway" && c.Metrics.PushgatewayURL == "" {
		return fmt.Errorf("config: metrics.pushgateway_url required for pushgateway backend")
	}
	return nil
}
