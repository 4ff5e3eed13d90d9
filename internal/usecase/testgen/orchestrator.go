package testgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

type RunInput struct {
	PlanName         string
	PlanType         string
	IncludeEdgeCases bool
}

// StoryOutcome is how a story ended within a run.
type StoryOutcome string

const (
	StoryProcessed StoryOutcome = "processed"
	StoryReused    StoryOutcome = "reused"
	StoryFailed    StoryOutcome = "failed"
)

type StoryResult struct {
	Key               string
	Title             string
	Outcome           StoryOutcome
	TestIssueIDs      []string
	TestsCreated      int
	TestsExisting     int
	TestsFailed       int
	LinkFailures      int
	ContainerFailures int
}

type RunResult struct {
	RunID        string
	TestPlanName string
	TestPlan     ports.TrackerIssue
	ReportPath   string
	Entries      []domaintestgen.ReportEntry
	Stories      []StoryResult
}

// Run executes the whole pipeline for one plan: resolve the plan, process every open story,
// then render the report. Stories already carrying test issues are only reported.
func (s *Service) Run(ctx context.Context, in RunInput) (RunResult, error) {
	if ctx == nil {
		return RunResult{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return RunResult{}, errs.Wrap(err, "check context")
	}
	if strings.TrimSpace(in.PlanName) == "" {
		return RunResult{}, errors.New("plan name is required")
	}

	result := RunResult{
		RunID:        s.newRunID(),
		TestPlanName: domaintestgen.TestPlanName(in.PlanName, in.PlanType),
	}
	ctx = logging.WithAttrs(ctx,
		slog.String("component", "usecase.testgen.orchestrator"),
		slog.String("run_id", result.RunID),
	)
	logging.Info(ctx, "test generation run started",
		slog.String("test_plan", result.TestPlanName),
		slog.Bool("edge_cases", in.IncludeEdgeCases),
	)
	s.emit(ctx, result.RunID, "", "run.started", "test generation run started", map[string]string{"testPlan": result.TestPlanName})

	plan, err := s.ensureTestPlan(ctx, result.TestPlanName)
	if err != nil {
		return result, errs.Wrap(err, "ensure test plan")
	}
	result.TestPlan = plan

	stories, err := s.tracker.SearchStories(ctx, s.profile.StoryFilter())
	if err != nil {
		return result, errs.Wrap(err, "search stories")
	}
	logging.Info(ctx, "stories fetched", slog.Int("count", len(stories)))

	for _, story := range stories {
		storyCtx := logging.WithStory(ctx, story.Key)

		set, found, err := s.records.FindTestIssueSet(storyCtx, story.Key)
		if err != nil {
			return result, errs.Wrapf(err, "load test issues for %s", story.Key)
		}

		if found && set.Processed() {
			entry, err := s.storedEntry(storyCtx, story, in.IncludeEdgeCases)
			if err != nil {
				return result, err
			}
			result.Entries = append(result.Entries, entry)
			result.Stories = append(result.Stories, StoryResult{
				Key:          story.Key,
				Title:        entry.Title,
				Outcome:      StoryReused,
				TestIssueIDs: set.TestIssueIDs,
			})
			logging.Info(storyCtx, "test issues already exist, skipping", slog.Int("tests", len(set.TestIssueIDs)))
			s.emit(storyCtx, result.RunID, story.Key, "story.skipped", "test issues already exist", nil)
			continue
		}

		storyResult, entry, err := s.processStory(storyCtx, result.RunID, in, plan, story)
		if err != nil {
			storyResult.Outcome = StoryFailed
			result.Stories = append(result.Stories, storyResult)
			s.emit(storyCtx, result.RunID, story.Key, "story.failed", err.Error(), nil)
			return result, errs.Wrapf(err, "process story %s", story.Key)
		}
		result.Stories = append(result.Stories, storyResult)
		result.Entries = append(result.Entries, entry)
	}

	path, err := s.renderer.Render(ctx, result.TestPlanName, result.Entries)
	if err != nil {
		return result, errs.Wrap(err, "render report")
	}
	result.ReportPath = path

	logging.Info(ctx, "all user stories processed",
		slog.Int("stories", len(result.Stories)),
		slog.String("report", path),
	)
	s.emit(ctx, result.RunID, "", "run.completed", "all user stories processed", map[string]string{
		"report":  path,
		"stories": strconv.Itoa(len(result.Stories)),
	})
	return result, nil
}

// storedEntry rebuilds a processed story's report entry from its stored test case artifact.
func (s *Service) storedEntry(ctx context.Context, story domaintestgen.Story, includeEdgeCases bool) (domaintestgen.ReportEntry, error) {
	artifact, found, err := s.records.FindArtifact(ctx, story.Key, s.profile.Assistants.TestCases)
	if err != nil {
		return domaintestgen.ReportEntry{}, errs.Wrapf(err, "load test cases for %s", story.Key)
	}
	if !found {
		err := fmt.Errorf("story %s has test issues but no stored test cases", story.Key)
		return domaintestgen.ReportEntry{}, errs.Mark(err, domaintestgen.ErrRecordStoreFailure)
	}
	payload, err := domaintestgen.ParsePayload(domaintestgen.StageTestCases, story.Key, string(artifact.Payload))
	if err != nil {
		return domaintestgen.ReportEntry{}, errs.Mark(errs.Wrapf(err, "parse stored test cases for %s", story.Key), domaintestgen.ErrRecordStoreFailure)
	}
	title := artifact.Title
	if strings.TrimSpace(title) == "" {
		title = story.Title
	}
	return domaintestgen.NewReportEntry(story, title, *payload.TestCases, includeEdgeCases), nil
}

func (s *Service) processStory(
	ctx context.Context,
	runID string,
	in RunInput,
	plan ports.TrackerIssue,
	story domaintestgen.Story,
) (StoryResult, domaintestgen.ReportEntry, error) {
	result := StoryResult{Key: story.Key, Title: story.Title, Outcome: StoryProcessed}

	detail, err := s.tracker.GetStoryDetail(ctx, story.Key)
	if err != nil {
		return result, domaintestgen.ReportEntry{}, errs.Wrap(err, "get story detail")
	}
	if strings.TrimSpace(detail.Title) != "" {
		result.Title = detail.Title
	}
	for _, attachment := range detail.Attachments {
		if _, _, err := s.EnsureUploaded(ctx, story.Key, attachment); err != nil {
			return result, domaintestgen.ReportEntry{}, err
		}
	}
	s.emit(ctx, runID, story.Key, "story.enriched", "story details fetched", map[string]string{
		"attachments": strconv.Itoa(len(detail.Attachments)),
	})

	prompt, err := json.Marshal(domaintestgen.NewStoryPrompt(detail.Story, s.profile.Project.QAOwner))
	if err != nil {
		return result, domaintestgen.ReportEntry{}, errs.Wrap(err, "encode story prompt")
	}

	execution, _, err := s.EnsureTestIssue(ctx, domaintestgen.TestExecutionName(in.PlanName, story.Key), s.profile.IssueTypes.TestExecution)
	if err != nil {
		return result, domaintestgen.ReportEntry{}, errs.Wrap(err, "ensure test execution")
	}
	testSet, _, err := s.EnsureTestIssue(ctx, domaintestgen.TestSetName(in.PlanName, story.Key), s.profile.IssueTypes.TestSet)
	if err != nil {
		return result, domaintestgen.ReportEntry{}, errs.Wrap(err, "ensure test set")
	}

	if err := s.tests.AddTestExecutionsTo(ctx, plan.ID, []string{execution.ID}, domaintestgen.ExecutionContainerTestPlan); err != nil {
		result.ContainerFailures++
		logging.Error(ctx, "add test execution to plan failed",
			slog.String("plan", plan.Key),
			slog.String("execution", execution.Key),
			slog.Any("err", errs.Loggable(err)),
		)
	}
	for _, container := range []ports.TrackerIssue{plan, execution, testSet} {
		if !s.linkToStory(ctx, container, story.Key) {
			result.LinkFailures++
		}
	}
	s.emit(ctx, runID, story.Key, "story.linked", "test containers ready", map[string]string{
		"execution": execution.Key,
		"testSet":   testSet.Key,
	})

	ticket, _, err := s.GetOrGenerate(ctx, GenerateRequest{
		StoryID:     story.Key,
		Title:       result.Title,
		Stage:       domaintestgen.StageTicket,
		AssistantID: s.profile.Assistants.Ticket,
		Input:       prompt,
	})
	if err != nil {
		return result, domaintestgen.ReportEntry{}, errs.Wrap(err, "generate ticket")
	}
	generated, _, err := s.GetOrGenerate(ctx, GenerateRequest{
		StoryID:     story.Key,
		Title:       result.Title,
		Stage:       domaintestgen.StageTestCases,
		AssistantID: s.profile.Assistants.TestCases,
		Input:       ticket.Raw,
	})
	if err != nil {
		return result, domaintestgen.ReportEntry{}, errs.Wrap(err, "generate test cases")
	}
	cases := generated.TestCases.MaterializedCases(in.IncludeEdgeCases)
	s.emit(ctx, runID, story.Key, "story.generated", "test cases generated", map[string]string{
		"testCases": strconv.Itoa(len(cases)),
	})

	testIssueIDs := make([]string, 0, len(cases))
	for _, tc := range cases {
		created := s.CreateGenericTest(ctx, story.Key, tc)
		switch created.Outcome {
		case TestCreated:
			result.TestsCreated++
		case TestExisting:
			result.TestsExisting++
		default:
			result.TestsFailed++
			if s.profile.Tests.AbortOnTestFailure {
				return result, domaintestgen.ReportEntry{}, errs.Wrapf(created.Err, "materialize %q", created.Title)
			}
			continue
		}
		testIssueIDs = append(testIssueIDs, created.IssueID)
	}
	result.TestIssueIDs = testIssueIDs

	if len(testIssueIDs) > 0 {
		s.attachTests(ctx, &result, plan, execution, testSet, testIssueIDs)
	}

	if err := s.records.SaveTestIssueSet(ctx, ports.TestIssueSet{
		StoryID:      story.Key,
		TestIssueIDs: testIssueIDs,
		UpdatedAt:    s.timestamp(),
	}); err != nil {
		return result, domaintestgen.ReportEntry{}, errs.Wrap(err, "save test issues")
	}

	logging.Info(ctx, "story processed",
		slog.Int("created", result.TestsCreated),
		slog.Int("existing", result.TestsExisting),
		slog.Int("failed", result.TestsFailed),
	)
	s.emit(ctx, runID, story.Key, "story.materialized", "test issues saved", map[string]string{
		"tests":  strconv.Itoa(len(testIssueIDs)),
		"failed": strconv.Itoa(result.TestsFailed),
	})

	return result, domaintestgen.NewReportEntry(story, result.Title, *generated.TestCases, in.IncludeEdgeCases), nil
}

type containerTarget struct {
	id   string
	kind domaintestgen.ContainerKind
}

// attachTests adds the story's tests to every container. Failures are counted, not returned.
func (s *Service) attachTests(
	ctx context.Context,
	result *StoryResult,
	plan ports.TrackerIssue,
	execution ports.TrackerIssue,
	testSet ports.TrackerIssue,
	testIssueIDs []string,
) {
	targets := []containerTarget{
		{testSet.ID, domaintestgen.ContainerTestSet},
		{execution.ID, domaintestgen.ContainerTestExecution},
		{plan.ID, domaintestgen.ContainerTestPlan},
	}
	for _, id := range s.profile.Tests.PreconditionIDs {
		targets = append(targets, containerTarget{id, domaintestgen.ContainerPrecondition})
	}

	for _, target := range targets {
		if err := s.tests.AddTestsTo(ctx, target.id, testIssueIDs, target.kind); err != nil {
			result.ContainerFailures++
			logging.Error(ctx, "add tests to container failed",
				slog.String("container", target.id),
				slog.String("kind", string(target.kind)),
				slog.Any("err", errs.Loggable(err)),
			)
		}
	}
}

// linkToStory links a test container to the story and reports whether the link was created.
func (s *Service) linkToStory(ctx context.Context, container ports.TrackerIssue, storyKey string) bool {
	attrs := []slog.Attr{
		slog.String("inward", container.Key),
		slog.String("outward", storyKey),
		slog.String("link_type", s.profile.Project.LinkType),
	}
	link, err := s.tracker.CreateIssueLink(ctx, ports.IssueLinkCreate{
		InwardKey:  container.Key,
		OutwardKey: storyKey,
		LinkType:   s.profile.Project.LinkType,
	})
	if err != nil {
		logging.Error(ctx, "link issue failed", append(attrs, slog.Any("err", errs.Loggable(err)))...)
		return false
	}
	if !link.Created {
		logging.Error(ctx, "link issue rejected", append(attrs, slog.Int("status", link.Status))...)
		return false
	}
	logging.Info(ctx, "issue linked", attrs...)
	return true
}
