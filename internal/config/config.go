// Package config loads application configuration from an optional YAML file
// with environment variable overrides (prefix PETSHOP_).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "PETSHOP_"
	configName = "petshop.yaml"

	// DefaultFallbackPassword is the legacy single-tenant admin default.
	// It is a configuration default, not a secret: override it in deployment
	// with PETSHOP_ADMIN_FALLBACKPASSWORD.
	DefaultFallbackPassword = "201812055"
)

// Config is the full application configuration.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	// GitHub repository acting as the shared object store (direct mode).
	GitHub struct {
		Owner  string `yaml:"owner"`
		Repo   string `yaml:"repo"`
		Token  string `yaml:"token"`
		Branch string `yaml:"branch"`
	} `yaml:"github"`

	// Proxy selects the alternate transport when BaseURL is set: requests go
	// through {baseUrl}/api/file and the GitHub token stays on the backend.
	Proxy struct {
		BaseURL string `yaml:"baseUrl"`
		APIKey  string `yaml:"apiKey"`
	} `yaml:"proxy"`

	HTTP struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"http"`

	Retry struct {
		Attempts uint64        `yaml:"attempts"`
		Backoff  time.Duration `yaml:"backoff"`
	} `yaml:"retry"`

	Data struct {
		Dir string `yaml:"dir"`
	} `yaml:"data"`

	Admin struct {
		FallbackPassword string `yaml:"fallbackPassword"`
	} `yaml:"admin"`

	Trial struct {
		Days int `yaml:"days"`
	} `yaml:"trial"`

	Retention struct {
		Days int `yaml:"days"`
	} `yaml:"retention"`
}

// UseProxy reports whether the alternate transport is configured.
func (c *Config) UseProxy() bool {
	return c.Proxy.BaseURL != ""
}

// New loads petshop.yaml from the given search paths (the file is optional)
// and applies environment overrides and defaults.
func New(searchPaths ...string) (*Config, error) {
	k := koanf.New(".")

	if path, ok := findConfigFile(searchPaths); ok {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	existing := k.Raw()

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.TrimPrefix(key, envPrefix)
			return canonicalizeEnvKey(key, existing), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func findConfigFile(searchPaths []string) (string, bool) {
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	for _, dir := range searchPaths {
		candidate := filepath.Join(dir, configName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = 3
	}
	if cfg.Retry.Backoff <= 0 {
		cfg.Retry.Backoff = 500 * time.Millisecond
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = defaultDataDir()
	}
	if cfg.Admin.FallbackPassword == "" {
		cfg.Admin.FallbackPassword = DefaultFallbackPassword
	}
	if cfg.Trial.Days <= 0 {
		cfg.Trial.Days = 10
	}
	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = 3
	}
}

func defaultDataDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "petshop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".petshop"
	}
	return filepath.Join(home, ".config", "petshop")
}

// canonicalizeEnvKey converts GITHUB_TOKEN to github.token, aligning each
// segment with keys already present in the YAML map so camelCase keys like
// admin.fallbackPassword keep their spelling.
func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}
	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (string, map[string]any, bool) {
	for key, value := range current {
		if strings.EqualFold(key, segment) {
			next, _ := value.(map[string]any)
			return key, next, true
		}
	}
	return "", nil, false
}
