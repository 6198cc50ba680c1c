package domain

import "context"

// Notifier delivers operator alerts for the named event.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Alert events.
const (
	EventPassFailed   = "pass_failed"
	EventPassComplete = "pass_complete"
	EventIngestFailed = "ingest_failed"
)
