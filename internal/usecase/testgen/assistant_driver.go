package testgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

const cancelRunTimeout = 10 * time.Second

// GenerateRequest asks one assistant stage to transform input for a story.
type GenerateRequest struct {
	StoryID     string
	Title       string
	Stage       domaintestgen.Stage
	AssistantID string
	Input       json.RawMessage
}

// GetOrGenerate returns the stored payload for (story, assistant) or runs the assistant once
// and stores its validated output. cached reports whether the store answered.
func (s *Service) GetOrGenerate(ctx context.Context, req GenerateRequest) (payload domaintestgen.Payload, cached bool, err error) {
	if ctx == nil {
		return domaintestgen.Payload{}, false, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return domaintestgen.Payload{}, false, errs.Wrap(err, "check context")
	}
	if strings.TrimSpace(req.StoryID) == "" {
		return domaintestgen.Payload{}, false, domaintestgen.ErrStoryKeyRequired
	}
	if strings.TrimSpace(req.AssistantID) == "" {
		return domaintestgen.Payload{}, false, errors.New("assistant id is required")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.testgen.assistant"),
		slog.String("stage", string(req.Stage)),
		slog.String("assistant_id", req.AssistantID),
	)

	artifact, found, err := s.records.FindArtifact(ctx, req.StoryID, req.AssistantID)
	if err != nil {
		return domaintestgen.Payload{}, false, errs.Wrap(err, "find generated artifact")
	}
	if found {
		payload, err := domaintestgen.ParsePayload(req.Stage, req.StoryID, string(artifact.Payload))
		if err != nil {
			return domaintestgen.Payload{}, false, errs.Mark(errs.Wrap(err, "parse stored artifact"), domaintestgen.ErrRecordStoreFailure)
		}
		logging.Info(logCtx, "using stored assistant output", slog.String("run_id", artifact.RunID))
		return payload, true, nil
	}

	text, err := messageText(req.Input)
	if err != nil {
		return domaintestgen.Payload{}, false, err
	}
	refs, err := s.records.ListAttachmentRefs(ctx, req.StoryID)
	if err != nil {
		return domaintestgen.Payload{}, false, errs.Wrap(err, "list attachment references")
	}
	imageIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		imageIDs = append(imageIDs, ref.ExternalFileID)
	}

	run, err := s.assistant.StartRun(ctx, ports.AssistantRunRequest{
		AssistantID:  req.AssistantID,
		Text:         text,
		ImageFileIDs: imageIDs,
	})
	if err != nil {
		return domaintestgen.Payload{}, false, errs.Wrap(err, "start assistant run")
	}
	logCtx = logging.WithAttrs(logCtx,
		slog.String("conversation_id", run.ConversationID),
		slog.String("assistant_run_id", run.RunID),
	)
	logging.Info(logCtx, "assistant run started", slog.Int("images", len(imageIDs)))

	run, err = s.awaitRun(logCtx, run)
	if err != nil {
		return domaintestgen.Payload{}, false, err
	}

	message, err := s.assistant.LatestMessage(ctx, run.ConversationID)
	if err != nil {
		return domaintestgen.Payload{}, false, errs.Wrap(err, "read assistant message")
	}
	payload, err = domaintestgen.ParsePayload(req.Stage, req.StoryID, message.Text)
	if err != nil {
		return domaintestgen.Payload{}, false, errs.Wrapf(err, "parse %s output", req.Stage)
	}

	if err := s.records.SaveArtifact(ctx, ports.Artifact{
		StoryID:        req.StoryID,
		AssistantID:    req.AssistantID,
		Stage:          req.Stage,
		ConversationID: run.ConversationID,
		RunID:          run.RunID,
		MessageID:      message.ID,
		Title:          req.Title,
		Payload:        payload.Raw,
		CreatedAt:      s.timestamp(),
	}); err != nil {
		return domaintestgen.Payload{}, false, errs.Wrap(err, "save generated artifact")
	}

	logging.Info(logCtx, "assistant output stored", slog.String("message_id", message.ID))
	return payload, false, nil
}

// awaitRun polls until the run is terminal, the budget is spent, or ctx is done.
func (s *Service) awaitRun(ctx context.Context, run ports.AssistantRun) (ports.AssistantRun, error) {
	policy := s.profile.PollPolicy()
	interval := policy.Interval

	for attempt := 1; ; attempt++ {
		switch {
		case run.Status.Succeeded():
			return run, nil
		case run.Status.Failed():
			err := fmt.Errorf("run %s ended with status %s", run.RunID, run.Status)
			if run.LastError != "" {
				err = fmt.Errorf("%w: %s", err, run.LastError)
			}
			return run, errs.Mark(err, domaintestgen.ErrAssistantRunFailed)
		}

		if attempt > policy.MaxAttempts {
			s.cancelRun(ctx, run)
			err := fmt.Errorf("%w: run %s still %s after %d polls", domaintestgen.ErrPollBudgetExhausted, run.RunID, run.Status, policy.MaxAttempts)
			return run, errs.Mark(err, domaintestgen.ErrAssistantUnavailable)
		}

		if err := s.sleep(ctx, interval); err != nil {
			s.cancelRun(ctx, run)
			return run, errs.Mark(errs.Wrap(err, "wait for assistant run"), domaintestgen.ErrAssistantUnavailable)
		}

		current, err := s.assistant.GetRun(ctx, run.ConversationID, run.RunID)
		if err != nil {
			if ctx.Err() != nil {
				s.cancelRun(ctx, run)
			}
			return run, errs.Mark(errs.Wrap(err, "poll assistant run"), domaintestgen.ErrAssistantUnavailable)
		}
		run = current

		if !run.Status.Terminal() {
			logging.Info(ctx, "assistant run pending",
				slog.String("status", string(run.Status)),
				slog.Int("attempt", attempt),
				slog.Duration("interval", interval),
			)
		}
		interval = policy.Next(interval)
	}
}

// cancelRun is best effort and outlives ctx so an aborted run is still stopped remotely.
func (s *Service) cancelRun(ctx context.Context, run ports.AssistantRun) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelRunTimeout)
	defer cancel()
	if err := s.assistant.CancelRun(cancelCtx, run.ConversationID, run.RunID); err != nil {
		logging.Warn(ctx, "cancel assistant run failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	logging.Info(ctx, "assistant run cancelled")
}

// messageText renders the stage input as the user message, minus any top-level attachment
// list; images travel as file references instead.
func messageText(input json.RawMessage) (string, error) {
	if !gjson.ValidBytes(input) || !gjson.ParseBytes(input).IsObject() {
		return "", errors.New("assistant input must be a JSON object")
	}
	text := []byte(input)
	for _, key := range []string{"Attachments", "attachments"} {
		if !gjson.GetBytes(text, key).Exists() {
			continue
		}
		stripped, err := sjson.DeleteBytes(text, key)
		if err != nil {
			return "", errs.Wrapf(err, "strip %s", key)
		}
		text = stripped
	}
	return string(text), nil
}
