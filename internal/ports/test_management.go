package ports

import (
	"context"

	domaintestgen "qagen/internal/domain/testgen"
)

type ManagedTest struct {
	IssueID string
	Key     string
	Summary string
}

// TestPage is one window of a test search. Total counts every match, not just this page.
type TestPage struct {
	Total int
	Tests []ManagedTest
}

type GenericTestCreate struct {
	ProjectKey           string
	Summary              string
	Unstructured         string
	PreconditionIssueIDs []string
}

// TestManagement is the test-management API layered on the tracker.
type TestManagement interface {
	FindTests(ctx context.Context, jql string, start int, limit int) (TestPage, error)
	CreateGenericTest(ctx context.Context, input GenericTestCreate) (ManagedTest, error)
	AddTestsTo(ctx context.Context, containerID string, testIssueIDs []string, kind domaintestgen.ContainerKind) error
	AddTestExecutionsTo(ctx context.Context, containerID string, execIssueIDs []string, kind domaintestgen.ExecutionContainerKind) error
}
