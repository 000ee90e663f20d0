package audit

import "context"

// Recorder is the interface for writing audit records
type Recorder interface {
	// Record appends one audit entry
	Record(ctx context.Context, record *Record) error

	// Close flushes any buffered records
	Close() error
}

// NopRecorder discards every record. Used when auditing is disabled and
// in tests that do not assert on the trail.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, record *Record) error { return nil }
func (NopRecorder) Close() error                                     { return nil }
