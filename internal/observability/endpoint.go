package observability

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
	metricspkg "github.com/openledger/imageledger/internal/observability/metrics"
)

// Endpoint serves the Prometheus scrape endpoint for the lifetime of a
// command run.
type Endpoint struct {
	echo          *echo.Echo
	listenAddress string
	path          string
	metrics       *Metrics
	log           logger.Logger
}

// NewEndpoint creates the scrape endpoint. It returns an error when metrics
// are disabled in settings.
func NewEndpoint(settings *conf.MetricsSettings, metrics *Metrics, log logger.Logger) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, errors.Newf("metrics endpoint not enabled in settings").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}

	path := settings.Path
	if path == "" {
		path = "/metrics"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET(path, echo.WrapHandler(metrics.Handler()))

	return &Endpoint{
		echo:          e,
		listenAddress: settings.Listen,
		path:          path,
		metrics:       metrics,
		log:           log.Module("metrics"),
	}, nil
}

// Start runs the HTTP server until ctx is done, then shuts it down
// gracefully. The returned channel is closed once the server has stopped.
func (e *Endpoint) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		e.log.Info("metrics endpoint starting",
			logger.String("address", e.listenAddress),
			logger.String("path", e.path))
		if err := e.echo.Start(e.listenAddress); err != nil && err != http.ErrServerClosed {
			e.log.Error("metrics HTTP server error", logger.Error(err))
		}
	}()

	go e.gracefulShutdown(ctx)

	return done
}

// gracefulShutdown waits for ctx and shuts the server down.
func (e *Endpoint) gracefulShutdown(ctx context.Context) {
	<-ctx.Done()
	e.log.Info("stopping metrics endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.echo.Shutdown(shutdownCtx); err != nil {
		e.log.Error("metrics endpoint shutdown error", logger.Error(err))
	}
}

// ServeHTTP lets the endpoint be exercised without a listener.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.echo.ServeHTTP(w, r)
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
