package ports

import (
	"context"
	"io"

	domaintestgen "qagen/internal/domain/testgen"
)

type AssistantFile struct {
	ID       string
	Filename string
	Bytes    int64
}

type AssistantRunRequest struct {
	AssistantID  string
	Text         string
	ImageFileIDs []string
}

type AssistantRun struct {
	ConversationID string
	RunID          string
	Status         domaintestgen.RunStatus
	LastError      string
}

type AssistantMessage struct {
	ID   string
	Text string
}

// Assistant is a hosted assistant that runs asynchronously on a conversation thread.
type Assistant interface {
	UploadFile(ctx context.Context, filename string, content io.Reader) (AssistantFile, error)
	StartRun(ctx context.Context, req AssistantRunRequest) (AssistantRun, error)
	GetRun(ctx context.Context, conversationID string, runID string) (AssistantRun, error)
	CancelRun(ctx context.Context, conversationID string, runID string) error
	LatestMessage(ctx context.Context, conversationID string) (AssistantMessage, error)
}
