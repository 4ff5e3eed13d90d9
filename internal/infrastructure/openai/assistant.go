package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"qagen/internal/bootstrap/config"
	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

// Assistant drives OpenAI Assistants: file uploads, thread runs and message reads.
type Assistant struct {
	client openai.Client
}

var _ ports.Assistant = (*Assistant)(nil)

func NewAssistant(cfg config.OpenAIConfig, opts ...option.RequestOption) *Assistant {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		base = append(base, option.WithBaseURL(baseURL))
	}
	return &Assistant{client: openai.NewClient(append(base, opts...)...)}
}

// UploadFile stores content in the assistant file store for use as an image input.
func (a *Assistant) UploadFile(ctx context.Context, filename string, content io.Reader) (ports.AssistantFile, error) {
	if ctx == nil {
		return ports.AssistantFile{}, errors.New("context is required")
	}

	file, err := a.client.Files.New(ctx, openai.FileNewParams{
		File:    openai.File(content, filename, ""),
		Purpose: openai.FilePurposeVision,
	})
	if err != nil {
		return ports.AssistantFile{}, errs.Wrapf(unavailable(err), "upload file %q", filename)
	}

	logging.Debug(
		logging.WithAttrs(ctx, slog.String("component", "openai.assistant")),
		"file uploaded",
		slog.String("file_id", file.ID),
		slog.String("filename", filename),
	)
	return ports.AssistantFile{ID: file.ID, Filename: file.Filename, Bytes: file.Bytes}, nil
}

// StartRun creates a thread holding one user message and starts a run on it.
func (a *Assistant) StartRun(ctx context.Context, req ports.AssistantRunRequest) (ports.AssistantRun, error) {
	if ctx == nil {
		return ports.AssistantRun{}, errors.New("context is required")
	}

	parts := make([]openai.MessageContentPartParamUnion, 0, len(req.ImageFileIDs)+1)
	parts = append(parts, openai.MessageContentPartParamUnion{
		OfText: &openai.TextContentBlockParam{Text: req.Text},
	})
	for _, fileID := range req.ImageFileIDs {
		parts = append(parts, openai.MessageContentPartParamUnion{
			OfImageFile: &openai.ImageFileContentBlockParam{
				ImageFile: openai.ImageFileParam{FileID: fileID},
			},
		})
	}

	run, err := a.client.Beta.Threads.NewAndRun(ctx, openai.BetaThreadNewAndRunParams{
		AssistantID: req.AssistantID,
		Thread: openai.BetaThreadNewAndRunParamsThread{
			Messages: []openai.BetaThreadNewAndRunParamsThreadMessage{{
				Role: "user",
				Content: openai.BetaThreadNewAndRunParamsThreadMessageContentUnion{
					OfArrayOfContentParts: parts,
				},
			}},
		},
	})
	if err != nil {
		return ports.AssistantRun{}, errs.Wrap(unavailable(err), "create thread and run")
	}
	return mapRun(run), nil
}

func (a *Assistant) GetRun(ctx context.Context, conversationID string, runID string) (ports.AssistantRun, error) {
	if ctx == nil {
		return ports.AssistantRun{}, errors.New("context is required")
	}

	run, err := a.client.Beta.Threads.Runs.Get(ctx, conversationID, runID)
	if err != nil {
		return ports.AssistantRun{}, errs.Wrapf(unavailable(err), "retrieve run %s", runID)
	}
	return mapRun(run), nil
}

func (a *Assistant) CancelRun(ctx context.Context, conversationID string, runID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	if _, err := a.client.Beta.Threads.Runs.Cancel(ctx, conversationID, runID); err != nil {
		return errs.Wrapf(unavailable(err), "cancel run %s", runID)
	}
	return nil
}

// LatestMessage returns the text of the newest message on the thread.
func (a *Assistant) LatestMessage(ctx context.Context, conversationID string) (ports.AssistantMessage, error) {
	if ctx == nil {
		return ports.AssistantMessage{}, errors.New("context is required")
	}

	page, err := a.client.Beta.Threads.Messages.List(ctx, conversationID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(1),
	})
	if err != nil {
		return ports.AssistantMessage{}, errs.Wrapf(unavailable(err), "list messages for %s", conversationID)
	}
	if page == nil || len(page.Data) == 0 {
		return ports.AssistantMessage{}, errs.Mark(
			errors.New("thread "+conversationID+" has no messages"),
			domaintestgen.ErrMalformedAssistantOutput,
		)
	}

	message := page.Data[0]
	for _, part := range message.Content {
		if part.Type == "text" {
			return ports.AssistantMessage{ID: message.ID, Text: part.Text.Value}, nil
		}
	}
	return ports.AssistantMessage{}, errs.Mark(
		errors.New("message "+message.ID+" has no text content"),
		domaintestgen.ErrMalformedAssistantOutput,
	)
}

func mapRun(run *openai.Run) ports.AssistantRun {
	if run == nil {
		return ports.AssistantRun{}
	}
	return ports.AssistantRun{
		ConversationID: run.ThreadID,
		RunID:          run.ID,
		Status:         domaintestgen.RunStatus(run.Status),
		LastError:      run.LastError.Message,
	}
}

func unavailable(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return errs.Mark(err, domaintestgen.ErrAssistantUnavailable)
	}
	return errs.Mark(errs.WithStack(err), domaintestgen.ErrAssistantUnavailable)
}
