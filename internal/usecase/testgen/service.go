package testgen

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

// Dependencies are the adapters a Service drives.
type Dependencies struct {
	Tracker   ports.IssueTracker
	Tests     ports.TestManagement
	Assistant ports.Assistant
	Records   ports.RecordStore
	Cache     ports.Cache
	Renderer  ports.ReportRenderer
	Events    ports.EventPublisher
	UoW       ports.UnitOfWork
}

type Service struct {
	tracker   ports.IssueTracker
	tests     ports.TestManagement
	assistant ports.Assistant
	records   ports.RecordStore
	cache     ports.Cache
	renderer  ports.ReportRenderer
	events    ports.EventPublisher
	uow       ports.UnitOfWork

	profile     WorkflowProfile
	downloadDir string

	sleep    func(context.Context, time.Duration) error
	now      func() time.Time
	newRunID func() string
}

// NewService wires the test generation pipeline. Events may be nil.
func NewService(deps Dependencies, profile WorkflowProfile, downloadDir string) *Service {
	if strings.TrimSpace(downloadDir) == "" {
		downloadDir = "downloads"
	}
	return &Service{
		tracker:     deps.Tracker,
		tests:       deps.Tests,
		assistant:   deps.Assistant,
		records:     deps.Records,
		cache:       deps.Cache,
		renderer:    deps.Renderer,
		events:      deps.Events,
		uow:         deps.UoW,
		profile:     profile,
		downloadDir: downloadDir,
		sleep:       sleepContext,
		now:         time.Now,
		newRunID:    uuid.NewString,
	}
}

func (s *Service) Profile() WorkflowProfile {
	return s.profile
}

func (s *Service) emit(ctx context.Context, runID string, story string, step string, message string, attrs map[string]string) {
	if s.events == nil {
		return
	}
	event := ports.ProgressEvent{
		RunID:   runID,
		Story:   story,
		Step:    step,
		Message: message,
		Attrs:   attrs,
		At:      s.now().UTC(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		logging.Warn(ctx, "publish progress event failed", slog.String("step", step), slog.Any("err", errs.Loggable(err)))
	}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
