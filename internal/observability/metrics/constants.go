// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation names recorded by the pipeline components.
const (
	// OpFetchPage is a provider page request.
	OpFetchPage = "fetch_page"
	// OpNormalize is the conversion of one raw record.
	OpNormalize = "normalize"
	// OpChunkCommit is a store insert plus index upsert of one chunk.
	OpChunkCommit = "chunk_commit"
	// OpIndexUpsert is a bulk write to the search index.
	OpIndexUpsert = "index_upsert"
	// OpIndexDelete removes documents from the search index.
	OpIndexDelete = "index_delete"
	// OpProbe is a sync HEAD probe of an image URL.
	OpProbe = "probe"
	// OpFingerprint computes a perceptual hash during sync.
	OpFingerprint = "fingerprint"
	// OpRange is one reindex id range.
	OpRange = "range"
	// OpRun is a whole command run.
	OpRun = "run"
)

// Status label values.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusSkipped   = "skipped"
	StatusConflict  = "conflict"
	StatusAttempted = "attempted"
	StatusCommitted = "committed"
	StatusRemoved   = "removed"
	StatusDuplicate = "duplicate"
	StatusMalformed = "malformed"
)

// Histogram bucket configuration constants.
const (
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
