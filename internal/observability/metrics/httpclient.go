package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPClientMetrics counts outbound provider requests by host and status.
type HTTPClientMetrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
}

// NewHTTPClientMetrics creates and registers the outbound request metrics.
func NewHTTPClientMetrics(registry *prometheus.Registry) (*HTTPClientMetrics, error) {
	m := &HTTPClientMetrics{registry: registry}
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imageledger_http_client_requests_total",
		Help: "Total number of outbound HTTP requests by host, method and status code.",
	}, []string{"host", "method", "code"})
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP client metrics: %w", err)
	}
	return m, nil
}

// ObserveResponse has the signature of an httpclient after-response hook.
// Transport failures are counted with code "error".
func (m *HTTPClientMetrics) ObserveResponse(req *http.Request, resp *http.Response, err error) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	host := ""
	if req != nil && req.URL != nil {
		host = req.URL.Host
	}
	method := http.MethodGet
	if req != nil && req.Method != "" {
		method = req.Method
	}
	m.requestsTotal.WithLabelValues(host, method, code).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPClientMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPClientMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
}
