package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the bindings for variables whose names do not
// follow the IMAGELEDGER_ prefix scheme. Provider credentials keep the
// names they are issued under.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "IMAGELEDGER_DEBUG", validateEnvBool},

		// Provider credentials
		{"providers.flickr.api_key", "FLICKR_API_KEY", nil},
		{"providers.500px.consumer_key", "FIVEHUNDREDPX_CONSUMER_KEY", nil},
		{"providers.rijks.api_key", "RIJKS_API_KEY", nil},
		{"providers.nypl.token", "NYPL_API_TOKEN", nil},
		{"providers.europeana.api_key", "EUROPEANA_API_KEY", nil},

		// Record store and search
		{"database.type", "DATABASE_TYPE", validateEnvDatabaseType},
		{"database.mysql.password", "MYSQL_PASSWORD", nil},
		{"search.addresses", "ELASTICSEARCH_URL", validateEnvURLList},
		{"search.password", "ELASTICSEARCH_PASSWORD", nil},

		// Telemetry
		{"sentry.dsn", "SENTRY_DSN", validateEnvURL},
		{"http.timeout", "IMAGELEDGER_HTTP_TIMEOUT", validateEnvDuration},
	}
}

// bindEnvVars sets up environment variable bindings with validation.
// Prefixed keys are resolved by AutomaticEnv; explicit bindings are tried
// after the prefixed name.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(binding.ConfigKey, ".", "_"))
		names := []string{binding.ConfigKey, prefixed}
		if binding.EnvVar != prefixed {
			names = append(names, binding.EnvVar)
		}
		if err := v.BindEnv(names...); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvDatabaseType(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sqlite", "mysql":
		return nil
	}
	return fmt.Errorf("database type must be sqlite or mysql, got '%s'", value)
}

func validateEnvURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host, got '%s'", value)
	}
	return nil
}

// validateEnvURLList validates a comma separated list of URLs.
func validateEnvURLList(value string) error {
	for part := range strings.SplitSeq(value, ",") {
		if err := validateEnvURL(part); err != nil {
			return err
		}
	}
	return nil
}
