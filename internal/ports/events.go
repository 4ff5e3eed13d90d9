package ports

import (
	"context"
	"time"
)

type ProgressEvent struct {
	RunID   string            `json:"runId"`
	Story   string            `json:"story,omitempty"`
	Step    string            `json:"step"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	At      time.Time         `json:"at"`
}

// EventPublisher fans out run progress. Publishing is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event ProgressEvent) error
}
