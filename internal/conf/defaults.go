package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/logger"
)

// Shared provider pacing defaults.
const (
	DefaultProviderDelay      = 2 * time.Second
	DefaultProviderMaxRetries = 3
	DefaultProviderRetryDelay = 2 * time.Second
)

// setDefaultConfig sets the default values for every configuration key.
// Every key must have a default so environment overrides are picked up by
// Unmarshal.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	// Logging
	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	// Outbound HTTP
	v.SetDefault("http.timeout", httpclient.DefaultTimeout)
	v.SetDefault("http.user_agent", httpclient.DefaultUserAgent)

	// Record store
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.slow_query_threshold", 500*time.Millisecond)
	v.SetDefault("database.sqlite.path", "imageledger.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "imageledger")

	// Search index
	v.SetDefault("search.enabled", false)
	v.SetDefault("search.addresses", []string{"http://localhost:9200"})
	v.SetDefault("search.username", "")
	v.SetDefault("search.password", "")
	v.SetDefault("search.index", "image")
	v.SetDefault("search.health_status", "yellow")
	v.SetDefault("search.health_timeout", 30*time.Second)

	// Providers
	setProviderDefaults(v, "flickr", "https://api.flickr.com/services/rest/", 500)
	v.SetDefault("providers.flickr.api_key", "")
	v.SetDefault("providers.flickr.licenses", []string{"ALL"})
	v.SetDefault("providers.flickr.search", "")

	setProviderDefaults(v, "500px", "https://api.500px.com/v1/photos/search", 100)
	v.SetDefault("providers.500px.consumer_key", "")
	v.SetDefault("providers.500px.licenses", []string{"ALL"})
	v.SetDefault("providers.500px.search", "")

	setProviderDefaults(v, "rijks", "https://www.rijksmuseum.nl/api/en/collection", 100)
	v.SetDefault("providers.rijks.api_key", "")
	v.SetDefault("providers.rijks.search", "")

	setProviderDefaults(v, "met", "https://www.metmuseum.org/api/collection/openaccessobjectids", 100)
	v.SetDefault("providers.met.detail_url", "https://www.metmuseum.org/api/collection/collectionobject/")
	v.SetDefault("providers.met.image_base_url", "https://images.metmuseum.org/crdimages/")
	v.SetDefault("providers.met.workers", 4)
	v.SetDefault("providers.met.rate_limit", 10.0)
	v.SetDefault("providers.met.catalog_ttl", 24*time.Hour)

	setProviderDefaults(v, "nypl", "https://api.repo.nypl.org/api/v1/items/search", 500)
	v.SetDefault("providers.nypl.token", "")
	v.SetDefault("providers.nypl.daily_quota", 10000)
	v.SetDefault("providers.nypl.file", "")

	setProviderDefaults(v, "europeana", "https://www.europeana.eu/api/v2/search.json", 100)
	v.SetDefault("providers.europeana.api_key", "")
	v.SetDefault("providers.europeana.thumbnail_url", "https://www.europeana.eu/api/v2/thumbnail-by-url.json")
	v.SetDefault("providers.europeana.query", `NOT PROVIDER:"Rijksmuseum"`)

	setProviderDefaults(v, "wikimedia", "https://www.wikidata.org/w/api.php", 100)
	v.SetDefault("providers.wikimedia.sparql_url", "https://query.wikidata.org/sparql")
	v.SetDefault("providers.wikimedia.cache_ttl", 6*time.Hour)

	// Command defaults
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.max_results", 5000)
	v.SetDefault("ingest.check_existing", false)

	v.SetDefault("sync.chunk_size", 1000)
	v.SetDefault("sync.lanes", 4)
	v.SetDefault("sync.limit", 0)
	v.SetDefault("sync.probe_timeout", 10*time.Second)
	v.SetDefault("sync.with_fingerprinting", false)

	v.SetDefault("reindex.chunk_size", 1000)
	v.SetDefault("reindex.workers", 4)
	v.SetDefault("reindex.max_retries", 5)
	v.SetDefault("reindex.retry_wait", 5*time.Second)

	// Observability
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.on_success", false)
	v.SetDefault("notification.on_failure", true)
}

func setProviderDefaults(v *viper.Viper, name, baseURL string, perPage int) {
	prefix := "providers." + name + "."
	v.SetDefault(prefix+"base_url", baseURL)
	v.SetDefault(prefix+"delay", DefaultProviderDelay)
	v.SetDefault(prefix+"per_page", perPage)
	v.SetDefault(prefix+"max_retries", DefaultProviderMaxRetries)
	v.SetDefault(prefix+"retry_delay", DefaultProviderRetryDelay)
}

// Defaults returns settings built from defaults only, ignoring files and
// the environment. Tests and the config init command use it.
func Defaults() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	settings := &Settings{}
	// Defaults always decode.
	_ = v.Unmarshal(settings)
	return settings
}
