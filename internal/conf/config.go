// Package conf loads imageledger settings from config.yaml, environment
// variables and command line flags.
package conf

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/secrets"
)

//go:embed config.yaml
var configFiles []byte

// EnvPrefix prefixes every environment override, e.g.
// IMAGELEDGER_DATABASE_TYPE=mysql.
const EnvPrefix = "IMAGELEDGER"

// Settings is the root configuration.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	HTTP         HTTPSettings         `yaml:"http" mapstructure:"http"`
	Database     DatabaseSettings     `yaml:"database" mapstructure:"database"`
	Search       SearchSettings       `yaml:"search" mapstructure:"search"`
	Providers    ProvidersSettings    `yaml:"providers" mapstructure:"providers"`
	Ingest       IngestSettings       `yaml:"ingest" mapstructure:"ingest"`
	Sync         SyncSettings         `yaml:"sync" mapstructure:"sync"`
	Reindex      ReindexSettings      `yaml:"reindex" mapstructure:"reindex"`
	Metrics      MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Sentry       SentrySettings       `yaml:"sentry" mapstructure:"sentry"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
}

// HTTPSettings configures the shared outbound HTTP client.
type HTTPSettings struct {
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// DatabaseSettings selects and configures the record store.
type DatabaseSettings struct {
	Type               string         `yaml:"type" mapstructure:"type"` // sqlite or mysql
	SlowQueryThreshold time.Duration  `yaml:"slow_query_threshold" mapstructure:"slow_query_threshold"`
	SQLite             SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL              MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
}

type SQLiteSettings struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type MySQLSettings struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     string `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// SearchSettings configures the search index mirror. With Enabled false
// an in-memory index is used.
type SearchSettings struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Addresses     []string      `yaml:"addresses" mapstructure:"addresses"`
	Username      string        `yaml:"username" mapstructure:"username"`
	Password      string        `yaml:"password" mapstructure:"password"`
	Index         string        `yaml:"index" mapstructure:"index"`
	HealthStatus  string        `yaml:"health_status" mapstructure:"health_status"`
	HealthTimeout time.Duration `yaml:"health_timeout" mapstructure:"health_timeout"`
}

// ProviderCommon holds the request pacing shared by every provider.
type ProviderCommon struct {
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	Delay      time.Duration `yaml:"delay" mapstructure:"delay"`       // pause between page fetches
	PerPage    int           `yaml:"per_page" mapstructure:"per_page"` // records requested per page
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// ProvidersSettings carries per-provider credentials and pacing.
type ProvidersSettings struct {
	Flickr        FlickrSettings        `yaml:"flickr" mapstructure:"flickr"`
	FiveHundredPx FiveHundredPxSettings `yaml:"500px" mapstructure:"500px"`
	Rijks         RijksSettings         `yaml:"rijks" mapstructure:"rijks"`
	Met           MetSettings           `yaml:"met" mapstructure:"met"`
	NYPL          NYPLSettings          `yaml:"nypl" mapstructure:"nypl"`
	Europeana     EuropeanaSettings     `yaml:"europeana" mapstructure:"europeana"`
	Wikimedia     WikimediaSettings     `yaml:"wikimedia" mapstructure:"wikimedia"`
}

type FlickrSettings struct {
	ProviderCommon `yaml:",inline" mapstructure:",squash"`
	APIKey         string   `yaml:"api_key" mapstructure:"api_key"`
	Licenses       []string `yaml:"licenses" mapstructure:"licenses"`
	Search         string   `yaml:"search" mapstructure:"search"`
}

type FiveHundredPxSettings struct {
	ProviderCommon `yaml:",inline" mapstructure:",squash"`
	ConsumerKey    string   `yaml:"consumer_key" mapstructure:"consumer_key"`
	Licenses       []string `yaml:"licenses" mapstructure:"licenses"`
	Search         string   `yaml:"search" mapstructure:"search"`
}

type RijksSettings struct {
	ProviderCommon `yaml:",inline" mapstructure:",squash"`
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	Search         string `yaml:"search" mapstructure:"search"`
}

// MetSettings configures the Met collection handler. Object details are
// fetched by a bounded worker pool behind a shared rate limit.
type MetSettings struct {
	ProviderCommon `yaml:",inline" mapstructure:",squash"`
	DetailURL      string        `yaml:"detail_url" mapstructure:"detail_url"`
	ImageBaseURL   string        `yaml:"image_base_url" mapstructure:"image_base_url"`
	Workers        int           `yaml:"workers" mapstructure:"workers"`
	RateLimit      float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // detail requests per second
	CatalogTTL     time.Duration `yaml:"catalog_ttl" mapstructure:"catalog_ttl"`
}

// NYPLSettings configures the NYPL handler. With File set, records are read
// from an NDJSON export instead of the API.
type NYPLSettings struct {
	ProviderCommon `yaml:",inline" mapstructure:",squash"`
	Token          string `yaml:"token" mapstructure:"token"`
	DailyQuota     int    `yaml:"daily_quota" mapstructure:"daily_quota"`
	File           string `yaml:"file" mapstructure:"file"`
}

type EuropeanaSettings struct {
	ProviderCommon `yaml:",inline" mapstructure:",squash"`
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	ThumbnailURL   string `yaml:"thumbnail_url" mapstructure:"thumbnail_url"`
	Query          string `yaml:"query" mapstructure:"query"`
}

type WikimediaSettings struct {
	ProviderCommon `yaml:",inline" mapstructure:",squash"`
	SparqlURL      string        `yaml:"sparql_url" mapstructure:"sparql_url"`
	CacheTTL       time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// IngestSettings are the defaults for the ingest command.
type IngestSettings struct {
	ChunkSize     int  `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxResults    int  `yaml:"max_results" mapstructure:"max_results"`
	CheckExisting bool `yaml:"check_existing" mapstructure:"check_existing"`
}

// SyncSettings are the defaults for the sync command.
type SyncSettings struct {
	ChunkSize       int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	Lanes           int           `yaml:"lanes" mapstructure:"lanes"`
	Limit           int           `yaml:"limit" mapstructure:"limit"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	WithFingerprint bool          `yaml:"with_fingerprinting" mapstructure:"with_fingerprinting"`
}

// ReindexSettings are the defaults for the reindex command.
type ReindexSettings struct {
	ChunkSize  int           `yaml:"chunk_size" mapstructure:"chunk_size"`
	Workers    int           `yaml:"workers" mapstructure:"workers"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryWait  time.Duration `yaml:"retry_wait" mapstructure:"retry_wait"`
}

// MetricsSettings configures the prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
	Path    string `yaml:"path" mapstructure:"path"`
}

type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// NotificationSettings lists shoutrrr service URLs that receive run
// summaries.
type NotificationSettings struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	URLs      []string `yaml:"urls" mapstructure:"urls"`
	OnSuccess bool     `yaml:"on_success" mapstructure:"on_success"`
	OnFailure bool     `yaml:"on_failure" mapstructure:"on_failure"`
}

// FlagBinding maps a command line flag onto a config key so that an
// explicitly set flag overrides file and environment values.
type FlagBinding struct {
	Key  string
	Flag *pflag.Flag
}

// Load reads settings. configFile may be empty, in which case config.yaml
// is searched in the default paths. A missing file is not an error; the
// built-in defaults are used instead.
func Load(configFile string, bindings ...FlagBinding) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	if err := initViper(v, configFile); err != nil {
		return nil, err
	}

	if err := bindEnvVars(v); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}

	for _, b := range bindings {
		if b.Flag == nil {
			continue
		}
		if err := v.BindPFlag(b.Key, b.Flag); err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("flag", b.Flag.Name).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := secrets.ResolveAll(settings.credentialFields()); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	return settings, nil
}

// credentialFields lists the settings that may reference an environment
// variable or a secret file instead of holding the value.
func (s *Settings) credentialFields() map[string]*string {
	fields := map[string]*string{
		"database.mysql.password":      &s.Database.MySQL.Password,
		"search.password":              &s.Search.Password,
		"providers.flickr.api_key":     &s.Providers.Flickr.APIKey,
		"providers.500px.consumer_key": &s.Providers.FiveHundredPx.ConsumerKey,
		"providers.rijks.api_key":      &s.Providers.Rijks.APIKey,
		"providers.nypl.token":         &s.Providers.NYPL.Token,
		"providers.europeana.api_key":  &s.Providers.Europeana.APIKey,
		"sentry.dsn":                   &s.Sentry.DSN,
	}
	for i := range s.Notification.URLs {
		fields[fmt.Sprintf("notification.urls[%d]", i)] = &s.Notification.URLs[i]
	}
	return fields
}

// initViper points v at the config file and reads it.
func initViper(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		// An explicit path must exist; only the search falls back to defaults.
		if _, err := os.Stat(configFile); err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryFileIO).
				Context("config_file", configFile).
				Build()
		}
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Context("config_file", v.ConfigFileUsed()).
			Build()
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "imageledger"))
	}
	return append(paths, "/etc/imageledger")
}

// DefaultConfigYAML returns the annotated default configuration file.
func DefaultConfigYAML() []byte {
	return configFiles
}

// WriteDefaultConfig writes the annotated default config to path unless a
// file already exists there.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file %s already exists", path).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := os.WriteFile(path, configFiles, 0o600); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return nil
}

// SaveYAMLConfig writes settings to configPath through a temporary file so
// a reader never sees a partial file.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
