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

const (
	testPlanCachePrefix = "test_plan:"
	findTestsPageSize   = 100
)

// TestOutcome says how CreateGenericTest resolved a test case.
type TestOutcome string

const (
	TestCreated  TestOutcome = "created"
	TestExisting TestOutcome = "existing"
	TestFailed   TestOutcome = "failed"
)

// TestCreation is the result of materializing one test case. Err is set only for TestFailed.
type TestCreation struct {
	Outcome TestOutcome
	Title   string
	IssueID string
	Key     string
	Err     error
}

// EnsureTestIssue finds a tracker issue of the given type by exact title, creating it only
// when none exists.
func (s *Service) EnsureTestIssue(ctx context.Context, title string, issueTypeID string) (issue ports.TrackerIssue, created bool, err error) {
	if ctx == nil {
		return ports.TrackerIssue{}, false, errors.New("context is required")
	}
	if strings.TrimSpace(title) == "" {
		return ports.TrackerIssue{}, false, errors.New("issue title is required")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.testgen.issues"),
		slog.String("title", title),
		slog.String("issue_type", issueTypeID),
	)

	found, err := s.tracker.FindIssuesByExactTitle(ctx, s.profile.Project.Key, issueTypeID, title)
	if err != nil {
		return ports.TrackerIssue{}, false, errs.Wrapf(err, "find issue %q", title)
	}
	if found.Count > 0 && len(found.Issues) > 0 {
		issue = found.Issues[0]
		logging.Info(logCtx, "issue already exists", slog.String("key", issue.Key))
		return issue, false, nil
	}

	issue, err = s.tracker.CreateIssue(ctx, ports.IssueCreate{
		ProjectKey:  s.profile.Project.Key,
		IssueTypeID: issueTypeID,
		Title:       title,
	})
	if err != nil {
		return ports.TrackerIssue{}, false, errs.Wrapf(err, "create issue %q", title)
	}
	logging.Info(logCtx, "issue created", slog.String("key", issue.Key))
	return issue, true, nil
}

// ensureTestPlan resolves the plan issue once per plan name; later runs read it from the cache.
func (s *Service) ensureTestPlan(ctx context.Context, testPlanName string) (ports.TrackerIssue, error) {
	key := testPlanCachePrefix + testPlanName
	if s.cache != nil {
		value, found, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			logging.Warn(ctx, "read test plan cache failed", slog.Any("err", errs.Loggable(err)))
		case found:
			var issue ports.TrackerIssue
			if err := json.Unmarshal([]byte(value), &issue); err == nil && issue.ID != "" {
				logging.Info(ctx, "test plan loaded from cache", slog.String("key", issue.Key))
				return issue, nil
			}
			logging.Warn(ctx, "ignoring unreadable test plan cache entry", slog.String("cache_key", key))
		}
	}

	issue, _, err := s.EnsureTestIssue(ctx, testPlanName, s.profile.IssueTypes.TestPlan)
	if err != nil {
		return ports.TrackerIssue{}, err
	}

	if s.cache != nil {
		raw, err := json.Marshal(issue)
		if err == nil {
			err = s.cache.Set(ctx, key, string(raw), 0)
		}
		if err != nil {
			logging.Warn(ctx, "write test plan cache failed", slog.Any("err", errs.Loggable(err)))
		}
	}
	return issue, nil
}

// CreateGenericTest registers tc as a Generic test for the story unless a test with the same
// title already exists. Failures are reported in the result, never returned.
func (s *Service) CreateGenericTest(ctx context.Context, storyKey string, tc domaintestgen.TestCase) TestCreation {
	title := domaintestgen.TestTitle(storyKey, tc)
	result := TestCreation{Title: title}
	if ctx == nil {
		result.Outcome = TestFailed
		result.Err = errors.New("context is required")
		return result
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.testgen.tests"),
		slog.String("test_title", title),
	)

	existing, found, err := s.findExactTest(ctx, title)
	if err != nil {
		result.Outcome = TestFailed
		result.Err = errs.Wrap(err, "find test")
		logging.Error(logCtx, "test lookup failed", slog.Any("err", errs.Loggable(result.Err)))
		return result
	}
	if found {
		result.Outcome = TestExisting
		result.IssueID = existing.IssueID
		result.Key = existing.Key
		logging.Info(logCtx, "test already exists", slog.String("key", existing.Key))
		return result
	}

	created, err := s.tests.CreateGenericTest(ctx, ports.GenericTestCreate{
		ProjectKey:           s.profile.Project.Key,
		Summary:              title,
		Unstructured:         domaintestgen.UnstructuredBody(tc),
		PreconditionIssueIDs: s.profile.Tests.PreconditionIDs,
	})
	if err != nil {
		result.Outcome = TestFailed
		result.Err = errs.Wrap(err, "create test")
		logging.Error(logCtx, "test creation failed", slog.Any("err", errs.Loggable(result.Err)))
		return result
	}

	result.Outcome = TestCreated
	result.IssueID = created.IssueID
	result.Key = created.Key
	logging.Info(logCtx, "test created", slog.String("key", created.Key), slog.String("issue_id", created.IssueID))
	return result
}

// findExactTest pages through the phrase search until a summary equals title or the matches
// run out. Phrase matches come newest first, so an older exact match can sit on a later page.
func (s *Service) findExactTest(ctx context.Context, title string) (ports.ManagedTest, bool, error) {
	jql := domaintestgen.ExactSummaryJQL(s.profile.Project.Key, s.profile.IssueTypes.Test, title)
	start := 0
	for {
		if err := ctx.Err(); err != nil {
			return ports.ManagedTest{}, false, errs.Wrap(err, "check context")
		}
		page, err := s.tests.FindTests(ctx, jql, start, findTestsPageSize)
		if err != nil {
			return ports.ManagedTest{}, false, err
		}
		for _, test := range page.Tests {
			if test.Summary == title {
				return test, true, nil
			}
		}

		start += len(page.Tests)
		if len(page.Tests) == 0 || start >= page.Total {
			return ports.ManagedTest{}, false, nil
		}
	}
}
