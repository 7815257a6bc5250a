// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case nested under "credentials". For example
// CREDENTIALS_UAA_TOKEN_URL becomes credentials.uaa_token_url in YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Credential holds the immutable SAP UAA / AI Core connection parameters.
type Credential struct {
	UAATokenURL     string
	UAAClientID     string
	UAAClientSecret string
	AICoreAPIURl    string
	ResourceGroup   string
}

// ModelEntry is one configured model binding. Exactly one of DeploymentID or
// AICoreModelName should be set; if neither is set, Name itself is treated
// as the AI Core model name.
type ModelEntry struct {
	Name            string
	DeploymentID    string
	AICoreModelName string
}

// FallbackModels maps a family to the logical_name to use when no direct
// binding resolves for a model of that family.
type FallbackModels struct {
	OpenAI string
	Claude string
	Gemini string
}

// Config is the top-level configuration container.
type Config struct {
	Credential Credential

	// APIKeys is the list of keys inbound clients may present. Accepts the
	// legacy single-value API_KEY env var as a one-element equivalent.
	APIKeys []string

	// Port is the TCP port the HTTP server listens on. Default: 8900.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	LogLevel string

	// RefreshIntervalSecs is the Deployment Registry's background refresh period.
	RefreshIntervalSecs int

	// CORSOrigins is the allowed Access-Control-Allow-Origin list. Empty
	// (the default) allows any origin.
	CORSOrigins []string

	Models         []ModelEntry
	FallbackModels FallbackModels
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config.yaml: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8900)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REFRESH_INTERVAL_SECS", 600)

	cfg := &Config{
		Credential: Credential{
			UAATokenURL:     v.GetString("credentials.uaa_token_url"),
			UAAClientID:     v.GetString("credentials.uaa_client_id"),
			UAAClientSecret: v.GetString("credentials.uaa_client_secret"),
			AICoreAPIURl:    v.GetString("credentials.aicore_api_url"),
			ResourceGroup:   v.GetString("credentials.resource_group"),
		},
		APIKeys:             loadAPIKeys(v),
		Port:                v.GetInt("PORT"),
		LogLevel:            strings.ToLower(v.GetString("LOG_LEVEL")),
		RefreshIntervalSecs: v.GetInt("REFRESH_INTERVAL_SECS"),
		CORSOrigins:         loadCORSOrigins(v),
	}

	if v.IsSet("models") {
		var raw []struct {
			Name            string `mapstructure:"name"`
			DeploymentID    string `mapstructure:"deployment_id"`
			AICoreModelName string `mapstructure:"aicore_model_name"`
		}
		if err := v.UnmarshalKey("models", &raw); err != nil {
			return nil, fmt.Errorf("config: failed to parse models: %w", err)
		}
		for _, m := range raw {
			cfg.Models = append(cfg.Models, ModelEntry{
				Name:            m.Name,
				DeploymentID:    m.DeploymentID,
				AICoreModelName: m.AICoreModelName,
			})
		}
	}

	cfg.FallbackModels = FallbackModels{
		OpenAI: v.GetString("fallback_models.openai"),
		Claude: v.GetString("fallback_models.claude"),
		Gemini: v.GetString("fallback_models.gemini"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadAPIKeys reads API_KEYS (comma-separated) falling back to the legacy
// single-value API_KEY / credentials.api_key.
func loadAPIKeys(v *viper.Viper) []string {
	if raw := v.GetString("API_KEYS"); raw != "" {
		parts := strings.Split(raw, ",")
		keys := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				keys = append(keys, p)
			}
		}
		return keys
	}
	if raw := v.GetString("API_KEY"); raw != "" {
		return []string{raw}
	}
	if raw := v.GetString("credentials.api_key"); raw != "" {
		return []string{raw}
	}
	return nil
}

// loadCORSOrigins reads CORS_ORIGINS (comma-separated). Empty means "allow any".
func loadCORSOrigins(v *viper.Viper) []string {
	raw := v.GetString("CORS_ORIGINS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	var missing []string
	if c.Credential.UAATokenURL == "" {
		missing = append(missing, "CREDENTIALS_UAA_TOKEN_URL")
	}
	if c.Credential.UAAClientID == "" {
		missing = append(missing, "CREDENTIALS_UAA_CLIENT_ID")
	}
	if c.Credential.UAAClientSecret == "" {
		missing = append(missing, "CREDENTIALS_UAA_CLIENT_SECRET")
	}
	if c.Credential.AICoreAPIURl == "" {
		missing = append(missing, "CREDENTIALS_AICORE_API_URL")
	}
	if c.Credential.ResourceGroup == "" {
		missing = append(missing, "CREDENTIALS_RESOURCE_GROUP")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required credentials: %s", strings.Join(missing, ", "))
	}

	if len(c.APIKeys) == 0 {
		return fmt.Errorf("config: at least one API key is required (API_KEYS or API_KEY)")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.RefreshIntervalSecs <= 0 {
		return fmt.Errorf("config: REFRESH_INTERVAL_SECS must be positive, got %d", c.RefreshIntervalSecs)
	}

	// Fallback model names aren't cross-checked against c.Models here: a
	// fallback may resolve to an auto-discovered entry at refresh time, and
	// the Registry itself re-checks and logs a warning once per refresh if
	// one never resolves (spec §4.3).

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
