package ports

import (
	"context"
	"encoding/json"

	domaintestgen "qagen/internal/domain/testgen"
)

type AttachmentRef struct {
	StoryID        string
	Filename       string
	ExternalFileID string
	ByteSize       int64
	LocalPath      string
	CreatedAt      string
}

type Artifact struct {
	StoryID        string
	AssistantID    string
	Stage          domaintestgen.Stage
	ConversationID string
	RunID          string
	MessageID      string
	Title          string
	Payload        json.RawMessage
	CreatedAt      string
}

type TestIssueSet struct {
	StoryID      string
	TestIssueIDs []string
	UpdatedAt    string
}

// Processed reports whether the set marks its story as done. Empty sets are kept for
// bookkeeping but never short-circuit a later run.
func (s TestIssueSet) Processed() bool {
	return len(s.TestIssueIDs) > 0
}

// StoryRecord summarizes what the record store holds for one story.
type StoryRecord struct {
	StoryID     string
	Attachments int
	Artifacts   int
	TestIssues  int
	Processed   bool
	UpdatedAt   string
}

// RecordStore persists everything a run needs to be resumable. Lookups report found=false
// instead of an error for missing rows; every other failure is an ErrRecordStoreFailure.
type RecordStore interface {
	FindAttachmentRef(ctx context.Context, storyID string, filename string) (AttachmentRef, bool, error)
	ListAttachmentRefs(ctx context.Context, storyID string) ([]AttachmentRef, error)
	SaveAttachmentRef(ctx context.Context, ref AttachmentRef) error

	FindArtifact(ctx context.Context, storyID string, assistantID string) (Artifact, bool, error)
	ListArtifacts(ctx context.Context, storyID string) ([]Artifact, error)
	SaveArtifact(ctx context.Context, artifact Artifact) error

	FindTestIssueSet(ctx context.Context, storyID string) (TestIssueSet, bool, error)
	SaveTestIssueSet(ctx context.Context, set TestIssueSet) error

	ListStories(ctx context.Context) ([]StoryRecord, error)
	DeleteStory(ctx context.Context, storyID string) error
}
