// Package metrics provides Prometheus metrics for the imageledger pipeline.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this abstraction so tests can swap in a TestRecorder.
type Recorder interface {
	// RecordOperation records a generic operation with its status.
	// The operation parameter describes what was performed (e.g., "fetch_page", "chunk_commit").
	// The status parameter indicates the outcome (e.g., "success", "error").
	RecordOperation(operation, status string)

	// AddRecords adds n records to the counter for operation and status,
	// e.g. ("normalize", "skipped").
	AddRecords(operation, status string, n int)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	// The errorType parameter categorizes the error (e.g., "network", "database").
	RecordError(operation, errorType string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) AddRecords(string, string, int) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}

var _ Recorder = NopRecorder{}
