package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/openledger/imageledger/internal/license"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateDatabaseSettings(&settings.Database)...)
	ve.Errors = append(ve.Errors, validateSearchSettings(&settings.Search)...)
	ve.Errors = append(ve.Errors, validateProvidersSettings(&settings.Providers)...)

	if settings.Ingest.ChunkSize <= 0 {
		ve.Errors = append(ve.Errors, "ingest.chunk_size must be positive")
	}
	if settings.Sync.ChunkSize <= 0 {
		ve.Errors = append(ve.Errors, "sync.chunk_size must be positive")
	}
	if settings.Sync.Lanes <= 0 {
		ve.Errors = append(ve.Errors, "sync.lanes must be positive")
	}
	if settings.Sync.Limit < 0 {
		ve.Errors = append(ve.Errors, "sync.limit must not be negative")
	}
	if settings.Reindex.ChunkSize <= 0 || settings.Reindex.Workers <= 0 {
		ve.Errors = append(ve.Errors, "reindex.chunk_size and reindex.workers must be positive")
	}

	if settings.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(settings.Metrics.Listen); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("metrics.listen %q: %v", settings.Metrics.Listen, err))
		}
		if !strings.HasPrefix(settings.Metrics.Path, "/") {
			ve.Errors = append(ve.Errors, "metrics.path must start with /")
		}
	}

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if settings.Notification.Enabled && len(settings.Notification.URLs) == 0 {
		ve.Errors = append(ve.Errors, "notification.urls is required when notifications are enabled")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(db *DatabaseSettings) []string {
	var errs []string
	db.Type = strings.ToLower(db.Type)
	switch db.Type {
	case "sqlite":
		if db.SQLite.Path == "" {
			errs = append(errs, "database.sqlite.path is required")
		}
	case "mysql":
		if db.MySQL.Host == "" || db.MySQL.Database == "" {
			errs = append(errs, "database.mysql.host and database.mysql.database are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.type must be sqlite or mysql, got %q", db.Type))
	}
	return errs
}

func validateSearchSettings(s *SearchSettings) []string {
	if !s.Enabled {
		return nil
	}
	var errs []string
	if len(s.Addresses) == 0 {
		errs = append(errs, "search.addresses is required when search is enabled")
	}
	for _, addr := range s.Addresses {
		if u, err := url.Parse(addr); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("search.addresses: invalid URL %q", addr))
		}
	}
	switch s.HealthStatus {
	case "green", "yellow":
	default:
		errs = append(errs, fmt.Sprintf("search.health_status must be green or yellow, got %q", s.HealthStatus))
	}
	return errs
}

func validateProvidersSettings(p *ProvidersSettings) []string {
	var errs []string

	common := map[string]*ProviderCommon{
		"flickr":    &p.Flickr.ProviderCommon,
		"500px":     &p.FiveHundredPx.ProviderCommon,
		"rijks":     &p.Rijks.ProviderCommon,
		"met":       &p.Met.ProviderCommon,
		"nypl":      &p.NYPL.ProviderCommon,
		"europeana": &p.Europeana.ProviderCommon,
		"wikimedia": &p.Wikimedia.ProviderCommon,
	}
	for name, c := range common {
		if c.PerPage <= 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.per_page must be positive", name))
		}
		if c.Delay < 0 || c.RetryDelay < 0 || c.MaxRetries < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: delays and retries must not be negative", name))
		}
	}

	for _, sel := range p.Flickr.Licenses {
		if !license.IsKnownSelector(sel) {
			errs = append(errs, fmt.Sprintf("providers.flickr.licenses: unknown license %q", sel))
		}
	}
	for _, sel := range p.FiveHundredPx.Licenses {
		if !license.IsKnownSelector(sel) {
			errs = append(errs, fmt.Sprintf("providers.500px.licenses: unknown license %q", sel))
		}
	}

	if p.Met.Workers <= 0 {
		errs = append(errs, "providers.met.workers must be positive")
	}
	if p.Met.RateLimit <= 0 {
		errs = append(errs, "providers.met.rate_limit must be positive")
	}
	if p.NYPL.DailyQuota <= 0 {
		errs = append(errs, "providers.nypl.daily_quota must be positive")
	}
	return errs
}
