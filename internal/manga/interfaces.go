package manga

import (
	"context"
	"io"
	"time"
)

// ChapterSource resolves chapter lists and chapter images from the upstream.
// Calls may take seconds and fail transiently.
type ChapterSource interface {
	Chapters(ctx context.Context, slug string) ([]Chapter, error)
	ChapterImages(ctx context.Context, slug string, chapter Chapter, index, total int) ([]string, error)
}

// Publisher delivers an assembled result to the caller's callback URL.
type Publisher interface {
	Send(ctx context.Context, callbackURL string, result JobResult) error
}

// EventPublisher pushes job outcome events to Pub/Sub (or similar).
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// JobStore records finished jobs for auditing.
type JobStore interface {
	RecordJob(ctx context.Context, record JobRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// JobRecord is the audit row written once per processed job.
type JobRecord struct {
	JobID      string    `json:"job_id"`
	Slug       string    `json:"slug"`
	Status     JobStatus `json:"status"`
	Chapters   int       `json:"chapters"`
	ErrorText  string    `json:"error_text,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Queue provides enqueue/dequeue semantics for jobs accepted over HTTP.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem wraps a job request waiting for a worker.
type QueueItem struct {
	RequestID string
	Request   JobRequest
	Submitted time.Time
}

// BlobStore persists catalogue dumps.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}
