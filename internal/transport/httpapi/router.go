package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
	"qagen/internal/usecase/testgen"
)

// StoryReader is the read side of the record store exposed over HTTP.
type StoryReader interface {
	ListStories(ctx context.Context) ([]ports.StoryRecord, error)
	StoryRecords(ctx context.Context, storyID string) (testgen.StoryRecords, bool, error)
}

type storySummary struct {
	StoryID     string `json:"storyId"`
	Attachments int    `json:"attachments"`
	Artifacts   int    `json:"artifacts"`
	TestIssues  int    `json:"testIssues"`
	Processed   bool   `json:"processed"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter serves the read-only status API.
func NewRouter(ctx context.Context, reader StoryReader) http.Handler {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "transport.httpapi"))

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stories", func(w http.ResponseWriter, req *http.Request) {
		stories, err := reader.ListStories(req.Context())
		if err != nil {
			writeError(logCtx, w, err)
			return
		}
		items := make([]storySummary, 0, len(stories))
		for _, s := range stories {
			items = append(items, storySummary{
				StoryID:     s.StoryID,
				Attachments: s.Attachments,
				Artifacts:   s.Artifacts,
				TestIssues:  s.TestIssues,
				Processed:   s.Processed,
				UpdatedAt:   s.UpdatedAt,
			})
		}
		writeJSON(w, http.StatusOK, items)
	})

	r.Get("/stories/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		records, found, err := reader.StoryRecords(req.Context(), key)
		if err != nil {
			writeError(logCtx, w, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: "no records for story " + key})
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, domaintestgen.ErrStoryKeyRequired) {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
		return
	}
	logging.Error(ctx, "status api request failed", slog.Any("err", errs.Loggable(err)))
	writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "record store unavailable"})
}
