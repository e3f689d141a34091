// Package app assembles the long-lived dependencies shared by the CLI
// commands: settings, logging, the record store, the search index, the
// outbound HTTP client, metrics, notifications and telemetry.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/openledger/imageledger/internal/buildinfo"
	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/datastore"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/notification"
	"github.com/openledger/imageledger/internal/observability"
	"github.com/openledger/imageledger/internal/observability/metrics"
	"github.com/openledger/imageledger/internal/provider"
	"github.com/openledger/imageledger/internal/searchindex"
	"github.com/openledger/imageledger/internal/telemetry"
)

// App holds the dependencies of one command invocation.
type App struct {
	Settings *conf.Settings
	// Logger is the unscoped root; components add their module name.
	Logger   logger.Logger
	Images   datastore.ImageRepository
	Tags     datastore.TagRepository
	Index    searchindex.Index
	Client   *httpclient.Client
	Metrics  *observability.Metrics
	Notifier *notification.Notifier
	Registry *provider.Registry

	central        *logger.CentralLogger
	store          datastore.Manager
	stopEndpoint   context.CancelFunc
	endpointDone   <-chan struct{}
	flushTelemetry func()
}

// Options are the inputs of Start that do not come from settings.
type Options struct {
	ConfigFile string
	Bindings   []conf.FlagBinding

	// Index replaces the index selected by search.enabled, for tests.
	Index searchindex.Index
	// Transport replaces the outbound HTTP transport, for tests.
	Transport http.RoundTripper
}

// Start loads settings and opens every dependency. On error everything
// opened so far is closed again.
func Start(ctx context.Context, opts Options) (a *App, err error) {
	settings, err := conf.Load(opts.ConfigFile, opts.Bindings...)
	if err != nil {
		return nil, err
	}
	if settings.Debug {
		enableDebug(&settings.Logging)
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logging").
			Build()
	}

	a = &App{
		Settings:       settings,
		Logger:         central.Module(""),
		Registry:       provider.NewDefaultRegistry(),
		central:        central,
		flushTelemetry: func() {},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	info := buildinfo.Get()
	a.flushTelemetry, err = telemetry.Init(telemetry.Options{
		Settings: &settings.Sentry,
		Release:  info.Release(),
	})
	if err != nil {
		return a, err
	}

	if settings.Metrics.Enabled {
		if a.Metrics, err = observability.NewMetrics(); err != nil {
			return a, errors.New(err).
				Component("app").
				Category(errors.CategoryConfiguration).
				Context("operation", "init_metrics").
				Build()
		}
		if err = a.startEndpoint(ctx); err != nil {
			return a, err
		}
	}

	a.Client = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.HTTP.Timeout,
		UserAgent:      settings.HTTP.UserAgent,
		Transport:      opts.Transport,
	})
	if a.Metrics != nil {
		a.Client.SetAfterResponseHook(a.Metrics.HTTPClient.ObserveResponse)
	}

	a.store, err = datastore.Open(storeConfig(&settings.Database), a.Logger)
	if err != nil {
		return a, err
	}
	db := a.store.DB()
	a.Images = datastore.NewImageRepository(db)
	a.Tags = datastore.NewTagRepository(db)

	a.Index = opts.Index
	if a.Index == nil {
		if a.Index, err = newIndex(&settings.Search, a.Logger); err != nil {
			return a, err
		}
	}

	if a.Notifier, err = notification.New(&settings.Notification, a.Logger); err != nil {
		return a, err
	}

	a.Logger.Module("cli").Debug("started",
		logger.String("version", info.Version),
		logger.String("database", a.store.Path()),
		logger.Bool("search_enabled", settings.Search.Enabled),
		logger.Bool("metrics_enabled", settings.Metrics.Enabled))
	return a, nil
}

func enableDebug(cfg *logger.LoggingConfig) {
	cfg.DefaultLevel = "debug"
	if cfg.Console != nil {
		cfg.Console.Level = "debug"
	}
}

func storeConfig(db *conf.DatabaseSettings) *datastore.Config {
	return &datastore.Config{
		Type:       db.Type,
		SQLitePath: db.SQLite.Path,
		MySQL: datastore.MySQLConfig{
			Host:     db.MySQL.Host,
			Port:     db.MySQL.Port,
			Username: db.MySQL.Username,
			Password: db.MySQL.Password,
			Database: db.MySQL.Database,
		},
		SlowQueryThreshold: db.SlowQueryThreshold,
	}
}

// newIndex returns the Elasticsearch index, or an in-memory one when search
// is disabled.
func newIndex(s *conf.SearchSettings, log logger.Logger) (searchindex.Index, error) {
	if !s.Enabled {
		log.Info("search disabled, using in-memory index")
		return searchindex.NewMemory(), nil
	}
	return searchindex.NewElastic(searchindex.ElasticConfig{
		Addresses:     s.Addresses,
		Username:      s.Username,
		Password:      s.Password,
		IndexName:     s.Index,
		HealthStatus:  s.HealthStatus,
		HealthTimeout: s.HealthTimeout,
	}, log)
}

func (a *App) startEndpoint(ctx context.Context) error {
	endpoint, err := observability.NewEndpoint(&a.Settings.Metrics, a.Metrics, a.Logger)
	if err != nil {
		return err
	}
	// The endpoint outlives ctx cancellation until Close so the final
	// counters of an interrupted run can still be scraped.
	endpointCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopEndpoint = cancel
	a.endpointDone = endpoint.Start(endpointCtx)
	return nil
}

// ProviderDeps returns the dependencies handed to provider constructors.
func (a *App) ProviderDeps() provider.Deps {
	return provider.Deps{
		Settings: a.Settings.Providers,
		Client:   a.Client,
		Logger:   a.Logger,
		Tags:     a.Tags,
		Licenses: provider.DefaultLicenseTable(),
	}
}

// Recorder returns a metrics recorder for component and provider.
func (a *App) Recorder(component, providerName string) metrics.Recorder {
	return a.Metrics.Recorder(component, providerName)
}

// Notify sends a run summary. Delivery failures are logged by the notifier
// and do not change the exit status.
func (a *App) Notify(ctx context.Context, s *notification.Summary) {
	_ = a.Notifier.Notify(ctx, s)
}

// Close releases everything Start opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	if a.Client != nil {
		a.Client.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.stopEndpoint != nil {
		a.stopEndpoint()
		select {
		case <-a.endpointDone:
		case <-time.After(metrics.ShutdownTimeout):
		}
	}
	if a.flushTelemetry != nil {
		a.flushTelemetry()
	}
	if a.central != nil {
		if err := a.central.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
