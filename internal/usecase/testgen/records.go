package testgen

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

// StoryRecords is everything the record store holds for one story.
type StoryRecords struct {
	StoryID     string             `json:"storyId" yaml:"storyId"`
	Attachments []AttachmentRecord `json:"attachments" yaml:"attachments"`
	Artifacts   []ArtifactRecord   `json:"artifacts" yaml:"artifacts"`
	TestIssues  []string           `json:"testIssues" yaml:"testIssues"`
	Processed   bool               `json:"processed" yaml:"processed"`
	UpdatedAt   string             `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

type AttachmentRecord struct {
	Filename       string `json:"filename" yaml:"filename"`
	ExternalFileID string `json:"fileId" yaml:"fileId"`
	ByteSize       int64  `json:"bytes" yaml:"bytes"`
	LocalPath      string `json:"localPath" yaml:"localPath"`
	CreatedAt      string `json:"createdAt" yaml:"createdAt"`
}

type ArtifactRecord struct {
	AssistantID    string              `json:"assistantId" yaml:"assistantId"`
	Stage          domaintestgen.Stage `json:"stage" yaml:"stage"`
	ConversationID string              `json:"conversationId" yaml:"conversationId"`
	RunID          string              `json:"runId" yaml:"runId"`
	MessageID      string              `json:"messageId" yaml:"messageId"`
	Title          string              `json:"title" yaml:"title"`
	CreatedAt      string              `json:"createdAt" yaml:"createdAt"`
	Payload        any                 `json:"payload" yaml:"payload"`
}

func (s *Service) ListStories(ctx context.Context) ([]ports.StoryRecord, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	stories, err := s.records.ListStories(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "list stories")
	}
	return stories, nil
}

// StoryRecords loads a story's records. found is false when nothing is stored for it.
func (s *Service) StoryRecords(ctx context.Context, storyID string) (records StoryRecords, found bool, err error) {
	if ctx == nil {
		return StoryRecords{}, false, errors.New("context is required")
	}
	storyID = strings.TrimSpace(storyID)
	if storyID == "" {
		return StoryRecords{}, false, domaintestgen.ErrStoryKeyRequired
	}

	records = StoryRecords{StoryID: storyID, Attachments: []AttachmentRecord{}, Artifacts: []ArtifactRecord{}}
	refs, err := s.records.ListAttachmentRefs(ctx, storyID)
	if err != nil {
		return StoryRecords{}, false, errs.Wrap(err, "list attachments")
	}
	for _, ref := range refs {
		records.Attachments = append(records.Attachments, AttachmentRecord{
			Filename:       ref.Filename,
			ExternalFileID: ref.ExternalFileID,
			ByteSize:       ref.ByteSize,
			LocalPath:      ref.LocalPath,
			CreatedAt:      ref.CreatedAt,
		})
	}
	artifacts, err := s.records.ListArtifacts(ctx, storyID)
	if err != nil {
		return StoryRecords{}, false, errs.Wrap(err, "list artifacts")
	}
	for _, artifact := range artifacts {
		var payload any
		if err := json.Unmarshal(artifact.Payload, &payload); err != nil {
			payload = string(artifact.Payload)
		}
		records.Artifacts = append(records.Artifacts, ArtifactRecord{
			AssistantID:    artifact.AssistantID,
			Stage:          artifact.Stage,
			ConversationID: artifact.ConversationID,
			RunID:          artifact.RunID,
			MessageID:      artifact.MessageID,
			Title:          artifact.Title,
			CreatedAt:      artifact.CreatedAt,
			Payload:        payload,
		})
	}
	set, hasSet, err := s.records.FindTestIssueSet(ctx, storyID)
	if err != nil {
		return StoryRecords{}, false, errs.Wrap(err, "find test issues")
	}
	records.TestIssues = set.TestIssueIDs
	records.Processed = set.Processed()
	records.UpdatedAt = set.UpdatedAt

	found = hasSet || len(records.Attachments) > 0 || len(records.Artifacts) > 0
	return records, found, nil
}

// ResetStories forgets the given stories, or every story plus the memoized test plans when
// none are given. It all happens in one transaction.
func (s *Service) ResetStories(ctx context.Context, storyIDs ...string) (int, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if s.uow == nil {
		return 0, errors.New("unit of work is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.testgen.records"))
	resetAll := len(storyIDs) == 0

	removed := 0
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		ids := storyIDs
		if resetAll {
			stories, err := s.records.ListStories(txCtx)
			if err != nil {
				return errs.Wrap(err, "list stories")
			}
			for _, story := range stories {
				ids = append(ids, story.StoryID)
			}
		}
		for _, id := range ids {
			if err := s.records.DeleteStory(txCtx, id); err != nil {
				return errs.Wrapf(err, "delete story %s", id)
			}
			removed++
		}
		if resetAll && s.cache != nil {
			n, err := s.cache.DeletePrefix(txCtx, testPlanCachePrefix)
			if err != nil {
				return errs.Wrap(err, "clear test plan cache")
			}
			logging.Info(logCtx, "test plan cache cleared", slog.Int64("entries", n))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logging.Info(logCtx, "stories reset", slog.Int("count", removed), slog.Bool("all", resetAll))
	return removed, nil
}

// ForgetTestPlan drops the memoized plan issue for testPlanName, so the next run looks the
// plan up in the tracker again. found is false when nothing was cached for it.
func (s *Service) ForgetTestPlan(ctx context.Context, testPlanName string) (found bool, err error) {
	if ctx == nil {
		return false, errors.New("context is required")
	}
	name := strings.TrimSpace(testPlanName)
	if name == "" {
		return false, errors.New("test plan name is required")
	}
	if s.cache == nil {
		return false, nil
	}

	key := testPlanCachePrefix + name
	if _, found, err = s.cache.Get(ctx, key); err != nil {
		return false, errs.Wrap(err, "read test plan cache")
	}
	if !found {
		return false, nil
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return false, errs.Wrap(err, "delete test plan cache")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.testgen.records"))
	logging.Info(logCtx, "test plan forgotten", slog.String("test_plan", name))
	return true, nil
}

// RenderStored renders the report for every processed story from stored records only.
func (s *Service) RenderStored(ctx context.Context, in RunInput) (string, []domaintestgen.ReportEntry, error) {
	if ctx == nil {
		return "", nil, errors.New("context is required")
	}
	if strings.TrimSpace(in.PlanName) == "" {
		return "", nil, errors.New("plan name is required")
	}

	stories, err := s.records.ListStories(ctx)
	if err != nil {
		return "", nil, errs.Wrap(err, "list stories")
	}

	var entries []domaintestgen.ReportEntry
	for _, story := range stories {
		if !story.Processed {
			continue
		}
		entry, err := s.storedEntry(ctx, domaintestgen.Story{Key: story.StoryID}, in.IncludeEdgeCases)
		if err != nil {
			return "", nil, err
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return "", nil, errors.New("no processed stories to report")
	}

	path, err := s.renderer.Render(ctx, domaintestgen.TestPlanName(in.PlanName, in.PlanType), entries)
	if err != nil {
		return "", nil, errs.Wrap(err, "render report")
	}
	return path, entries, nil
}
