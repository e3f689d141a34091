package searchindex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"

	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/logger"
)

const (
	defaultIndexName     = "image"
	defaultHealthStatus  = "yellow"
	defaultHealthTimeout = 30 * time.Second
	healthPollInterval   = 2 * time.Second
)

// ElasticConfig configures an Elastic index.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	IndexName string

	// HealthStatus is the cluster status WaitForHealth waits for.
	HealthStatus string
	// HealthTimeout bounds a single cluster health request.
	HealthTimeout time.Duration

	// Transport overrides the HTTP transport, for tests.
	Transport http.RoundTripper
}

// Elastic is an Index backed by Elasticsearch.
type Elastic struct {
	es     *elasticsearch.Client
	cfg    ElasticConfig
	logger logger.Logger
}

// mapping is applied when the index is recreated.
const mapping = `{
  "settings": {"index": {"number_of_shards": 1, "number_of_replicas": 0}},
  "mappings": {
    "properties": {
      "identifier": {"type": "keyword"},
      "provider": {"type": "keyword"},
      "source": {"type": "keyword"},
      "foreign_identifier": {"type": "keyword"},
      "foreign_landing_url": {"type": "keyword", "index": false},
      "url": {"type": "keyword"},
      "thumbnail": {"type": "keyword", "index": false},
      "width": {"type": "integer"},
      "height": {"type": "integer"},
      "license": {"type": "keyword"},
      "license_version": {"type": "keyword"},
      "creator": {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "creator_url": {"type": "keyword", "index": false},
      "title": {"type": "text"},
      "tags": {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "created_on": {"type": "date"}
    }
  }
}`

// NewElastic creates an Elastic index client. No request is made until the
// first operation.
func NewElastic(cfg ElasticConfig, log logger.Logger) (*Elastic, error) {
	if cfg.IndexName == "" {
		cfg.IndexName = defaultIndexName
	}
	if cfg.HealthStatus == "" {
		cfg.HealthStatus = defaultHealthStatus
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
		// Retries are owned by the callers.
		DisableRetry: true,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("searchindex").
			Category(errors.CategoryConfiguration).
			Context("addresses", cfg.Addresses).
			Build()
	}

	return &Elastic{
		es:     es,
		cfg:    cfg,
		logger: log.Module("searchindex"),
	}, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// bulkAction is the action line of a _bulk request.
type bulkAction struct {
	Index  *bulkMeta `json:"index,omitempty"`
	Delete *bulkMeta `json:"delete,omitempty"`
}

type bulkMeta struct {
	ID string `json:"_id"`
}

// encodeUpserts renders docs as _bulk NDJSON with index actions.
func encodeUpserts(docs []Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range docs {
		if err := enc.Encode(bulkAction{Index: &bulkMeta{ID: docs[i].Identifier}}); err != nil {
			return nil, err
		}
		if err := enc.Encode(&docs[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// encodeDeletes renders identifiers as _bulk NDJSON with delete actions.
func encodeDeletes(identifiers []string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range identifiers {
		if err := enc.Encode(bulkAction{Delete: &bulkMeta{ID: id}}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// BulkUpsert indexes docs with their identifier as document id.
func (e *Elastic) BulkUpsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	body, err := encodeUpserts(docs)
	if err != nil {
		return e.indexError(err, "bulk_upsert")
	}
	return e.bulk(ctx, body, "bulk_upsert", len(docs))
}

// Delete removes documents by identifier. Items that are already gone are
// not errors.
func (e *Elastic) Delete(ctx context.Context, identifiers []string) error {
	if len(identifiers) == 0 {
		return nil
	}
	body, err := encodeDeletes(identifiers)
	if err != nil {
		return e.indexError(err, "bulk_delete")
	}
	return e.bulk(ctx, body, "bulk_delete", len(identifiers))
}

func (e *Elastic) bulk(ctx context.Context, body []byte, operation string, count int) error {
	start := time.Now()
	res, err := e.es.Bulk(bytes.NewReader(body),
		e.es.Bulk.WithContext(ctx),
		e.es.Bulk.WithIndex(e.cfg.IndexName),
	)
	if err != nil {
		return e.indexError(err, operation)
	}
	defer drain(res)

	if res.IsError() {
		return e.indexError(fmt.Errorf("bulk request failed: %s", res.Status()), operation)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return e.indexError(fmt.Errorf("decode bulk response: %w", err), operation)
	}

	if parsed.Errors {
		failed := 0
		var first string
		for _, item := range parsed.Items {
			for _, result := range item {
				if result.Error == nil || result.Status == http.StatusNotFound {
					continue
				}
				if failed == 0 {
					first = fmt.Sprintf("%s: %s", result.Error.Type, result.Error.Reason)
				}
				failed++
			}
		}
		if failed > 0 {
			return errors.Newf("%d of %d bulk items failed, first: %s", failed, count, first).
				Component("searchindex").
				Category(errors.CategorySearchIndex).
				Context("operation", operation).
				Context("index", e.cfg.IndexName).
				Build()
		}
	}

	e.logger.Debug("bulk request completed",
		logger.String("operation", operation),
		logger.Int("documents", count),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// WaitForHealth polls cluster health until the configured status is
// reached or ctx is done.
func (e *Elastic) WaitForHealth(ctx context.Context) error {
	for {
		ok, err := e.healthy(ctx)
		if ok {
			return nil
		}
		if err != nil {
			e.logger.Warn("search index not healthy yet", logger.Error(err))
		}

		timer := time.NewTimer(healthPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.New(ctx.Err()).
				Component("searchindex").
				Category(errors.CategoryCancellation).
				Context("operation", "wait_for_health").
				Build()
		case <-timer.C:
		}
	}
}

func (e *Elastic) healthy(ctx context.Context) (bool, error) {
	res, err := e.es.Cluster.Health(
		e.es.Cluster.Health.WithContext(ctx),
		e.es.Cluster.Health.WithWaitForStatus(e.cfg.HealthStatus),
		e.es.Cluster.Health.WithTimeout(e.cfg.HealthTimeout),
	)
	if err != nil {
		return false, err
	}
	defer drain(res)
	if res.IsError() {
		return false, fmt.Errorf("cluster health: %s", res.Status())
	}

	var health struct {
		Status   string `json:"status"`
		TimedOut bool   `json:"timed_out"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return false, err
	}
	if health.TimedOut {
		return false, fmt.Errorf("cluster status %q", health.Status)
	}
	return true, nil
}

// Recreate deletes the index if present and creates it with the mapping.
func (e *Elastic) Recreate(ctx context.Context) error {
	res, err := e.es.Indices.Delete([]string{e.cfg.IndexName},
		e.es.Indices.Delete.WithContext(ctx),
		e.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return e.indexError(err, "delete_index")
	}
	drain(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return e.indexError(fmt.Errorf("delete index: %s", res.Status()), "delete_index")
	}

	res, err = e.es.Indices.Create(e.cfg.IndexName,
		e.es.Indices.Create.WithContext(ctx),
		e.es.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))),
	)
	if err != nil {
		return e.indexError(err, "create_index")
	}
	defer drain(res)
	if res.IsError() {
		return e.indexError(fmt.Errorf("create index: %s", res.Status()), "create_index")
	}

	e.logger.Info("search index recreated", logger.String("index", e.cfg.IndexName))
	return nil
}

func (e *Elastic) indexError(err error, operation string) error {
	return errors.New(err).
		Component("searchindex").
		Category(errors.CategorySearchIndex).
		Context("operation", operation).
		Context("index", e.cfg.IndexName).
		Build()
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
