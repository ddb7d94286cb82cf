// Package eventlog implements the two durable, append-only logs the pipeline
// runs on: the webhook event log and the pipeline job log. Both share one
// contract (append a record, update its status under a per-record lock,
// query by status oldest-first) and two interchangeable backends: a
// date-partitioned one-JSON-file-per-record tree (the default) and MongoDB.
package eventlog

import (
	"context"
	"errors"

	"bluefly-sync/internal/models"
)

var (
	// ErrInvalidStatus marks an unknown status value. This is a programming
	// error: callers must not retry.
	ErrInvalidStatus = errors.New("eventlog: invalid status")

	// ErrLockTimeout is returned when the per-record lock could not be
	// acquired within the bounded wait. Callers may retry with backoff.
	ErrLockTimeout = errors.New("eventlog: record lock timeout")

	// ErrNotFound is returned for an unknown record handle.
	ErrNotFound = errors.New("eventlog: record not found")
)

// StoredEvent pairs a webhook event with the opaque handle identifying its
// durable record.
type StoredEvent struct {
	Handle string
	Event  *models.WebhookEvent
}

// StoredJob pairs a pipeline job with its handle.
type StoredJob struct {
	Handle string
	Job    *models.PipelineJob
}

// WebhookStore is the durable log of raw webhook events. The log itself is
// the durable work queue: workers poll QueryByStatus(unread).
type WebhookStore interface {
	// Append durably records a new event and returns its handle. The event's
	// ReceivedAt and initial status are set by the store.
	Append(ctx context.Context, event *models.WebhookEvent) (string, error)
	// Get reads one record by handle.
	Get(ctx context.Context, handle string) (*models.WebhookEvent, error)
	// UpdateStatus atomically transitions the record's status and returns the
	// updated record. Unknown statuses fail with ErrInvalidStatus.
	UpdateStatus(ctx context.Context, handle string, status models.EventStatus) (*models.WebhookEvent, error)
	// QueryByStatus returns matching records oldest-first. date optionally
	// narrows the scan to one "YYYY-MM-DD" partition. Corrupt records are
	// skipped, never fatal.
	QueryByStatus(ctx context.Context, status models.EventStatus, date string) ([]StoredEvent, error)
}

// JobStore is the durable pipeline job trail.
type JobStore interface {
	// CreateJob records a new job in the queued state and returns its handle.
	CreateJob(ctx context.Context, sourceFile, topic string, productID int64, eventID string) (string, error)
	// Get reads one job by handle.
	Get(ctx context.Context, handle string) (*models.PipelineJob, error)
	// AppendStage appends a stage entry and sets the job's top-level status to
	// the stage name. A non-empty errMsg also sets the job's sticky error
	// field. Unknown stages fail with ErrInvalidStatus.
	AppendStage(ctx context.Context, handle string, stage models.JobStatus, data map[string]any, errMsg string) (*models.PipelineJob, error)
	// QueryByStatus returns matching jobs oldest-first.
	QueryByStatus(ctx context.Context, status models.JobStatus, date string) ([]StoredJob, error)
}
