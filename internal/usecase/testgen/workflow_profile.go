package testgen

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
)

const workflowProfileVersion = 1

type workflowProjectConfig struct {
	Key              string   `toml:"key"`
	StoryFilter      string   `toml:"story_filter"`
	ExcludedStatuses []string `toml:"excluded_statuses"`
	QAOwner          string   `toml:"qa_owner"`
	LinkType         string   `toml:"link_type"`
}

type workflowIssueTypesConfig struct {
	Test          string `toml:"test"`
	TestSet       string `toml:"test_set"`
	TestPlan      string `toml:"test_plan"`
	TestExecution string `toml:"test_execution"`
}

type workflowAssistantsConfig struct {
	Ticket    string `toml:"ticket"`
	TestCases string `toml:"testcases"`
}

type workflowTestsConfig struct {
	PreconditionIDs    []string `toml:"precondition_ids"`
	AbortOnTestFailure bool     `toml:"abort_on_test_failure"`
}

type workflowPollingConfig struct {
	IntervalSeconds    float64 `toml:"interval_seconds"`
	Multiplier         float64 `toml:"multiplier"`
	MaxIntervalSeconds float64 `toml:"max_interval_seconds"`
	MaxAttempts        int     `toml:"max_attempts"`
}

// WorkflowProfile holds the instance-specific pipeline settings: which project, which
// issue types and assistants, and how patiently to poll.
type WorkflowProfile struct {
	Version    int                      `toml:"version"`
	Project    workflowProjectConfig    `toml:"project"`
	IssueTypes workflowIssueTypesConfig `toml:"issue_types"`
	Assistants workflowAssistantsConfig `toml:"assistants"`
	Tests      workflowTestsConfig      `toml:"tests"`
	Polling    workflowPollingConfig    `toml:"polling"`
}

func DefaultWorkflowProfile() WorkflowProfile {
	return WorkflowProfile{
		Version: workflowProfileVersion,
		Project: workflowProjectConfig{
			Key:              "WCX",
			ExcludedStatuses: []string{"Closed", "Cancelled", "In Testing"},
			QAOwner:          "Ronnel / Brent / Raychal",
			LinkType:         "Test",
		},
		IssueTypes: workflowIssueTypesConfig{
			Test:          "13305",
			TestSet:       "13306",
			TestPlan:      "13307",
			TestExecution: "13308",
		},
		Assistants: workflowAssistantsConfig{
			Ticket:    "asst_4Vl3xpvP7T1BRFzypol7rs8Y",
			TestCases: "asst_AHfgXfV1JN1v6qU57h5I6dXc",
		},
		Tests: workflowTestsConfig{
			PreconditionIDs: []string{"735970", "735971"},
		},
		Polling: workflowPollingConfig{
			IntervalSeconds:    5,
			Multiplier:         1,
			MaxIntervalSeconds: 30,
			MaxAttempts:        120,
		},
	}
}

// LoadWorkflowProfile reads a TOML profile on top of the defaults. A missing file yields the
// defaults.
func LoadWorkflowProfile(ctx context.Context, workflowFile string) (WorkflowProfile, error) {
	if ctx == nil {
		return WorkflowProfile{}, errors.New("context is required")
	}
	path := strings.TrimSpace(workflowFile)
	if path == "" {
		return WorkflowProfile{}, errors.New("workflow file is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "usecase.testgen.workflow"))

	profile := DefaultWorkflowProfile()
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn(logCtx, "workflow profile not found, using defaults", slog.String("path", path))
			return profile, nil
		}
		return WorkflowProfile{}, errs.Wrapf(err, "read workflow profile %q", path)
	}

	if err := toml.Unmarshal(raw, &profile); err != nil {
		return WorkflowProfile{}, errs.Wrapf(err, "decode workflow profile %q", path)
	}
	if err := profile.Validate(); err != nil {
		return WorkflowProfile{}, errs.Wrapf(err, "validate workflow profile %q", path)
	}

	logging.Info(
		logCtx,
		"workflow profile loaded",
		slog.String("path", path),
		slog.String("project", profile.Project.Key),
	)
	return profile, nil
}

func (p WorkflowProfile) Validate() error {
	if p.Version != workflowProfileVersion {
		return errors.New("unsupported workflow version: expected version = 1")
	}

	var problems []error
	required := []struct {
		name  string
		value string
	}{
		{"project.key", p.Project.Key},
		{"project.link_type", p.Project.LinkType},
		{"issue_types.test", p.IssueTypes.Test},
		{"issue_types.test_set", p.IssueTypes.TestSet},
		{"issue_types.test_plan", p.IssueTypes.TestPlan},
		{"issue_types.test_execution", p.IssueTypes.TestExecution},
		{"assistants.ticket", p.Assistants.Ticket},
		{"assistants.testcases", p.Assistants.TestCases},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			problems = append(problems, errors.New(field.name+" is required"))
		}
	}
	if strings.TrimSpace(p.Assistants.Ticket) != "" && p.Assistants.Ticket == p.Assistants.TestCases {
		problems = append(problems, errors.New("assistants.ticket and assistants.testcases must differ"))
	}
	if p.Polling.IntervalSeconds <= 0 {
		problems = append(problems, errors.New("polling.interval_seconds must be positive"))
	}
	if p.Polling.Multiplier < 1 {
		problems = append(problems, errors.New("polling.multiplier must be at least 1"))
	}
	if p.Polling.MaxIntervalSeconds < p.Polling.IntervalSeconds {
		problems = append(problems, errors.New("polling.max_interval_seconds must not be below interval_seconds"))
	}
	if p.Polling.MaxAttempts <= 0 {
		problems = append(problems, errors.New("polling.max_attempts must be positive"))
	}
	return errors.Join(problems...)
}

// StoryFilter is the JQL used to select stories. An explicit story_filter wins.
func (p WorkflowProfile) StoryFilter() string {
	if filter := strings.TrimSpace(p.Project.StoryFilter); filter != "" {
		return filter
	}
	return domaintestgen.StoryFilterJQL(p.Project.Key, p.Project.ExcludedStatuses)
}

// AssistantFor maps a stage to its assistant configuration id.
func (p WorkflowProfile) AssistantFor(stage domaintestgen.Stage) (string, error) {
	switch stage {
	case domaintestgen.StageTicket:
		return p.Assistants.Ticket, nil
	case domaintestgen.StageTestCases:
		return p.Assistants.TestCases, nil
	default:
		return "", domaintestgen.ErrUnknownStage
	}
}

// PollPolicy bounds how long the assistant driver waits for one run.
type PollPolicy struct {
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
	MaxAttempts int
}

func (p WorkflowProfile) PollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    seconds(p.Polling.IntervalSeconds),
		Multiplier:  p.Polling.Multiplier,
		MaxInterval: seconds(p.Polling.MaxIntervalSeconds),
		MaxAttempts: p.Polling.MaxAttempts,
	}
}

// Next returns the wait after one of length current.
func (p PollPolicy) Next(current time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return current
	}
	next := time.Duration(float64(current) * p.Multiplier)
	if p.MaxInterval > 0 && next > p.MaxInterval {
		return p.MaxInterval
	}
	return next
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
