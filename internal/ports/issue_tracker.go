package ports

import (
	"context"
	"io"

	domaintestgen "qagen/internal/domain/testgen"
)

type TrackerIssue struct {
	ID      string
	Key     string
	Summary string
}

type IssueSearchResult struct {
	Count  int
	Issues []TrackerIssue
}

type IssueCreate struct {
	ProjectKey  string
	IssueTypeID string
	Title       string
}

type IssueLinkCreate struct {
	InwardKey  string
	OutwardKey string
	LinkType   string
}

// IssueLinkResult carries the tracker's answer. Created is true only for HTTP 201.
type IssueLinkResult struct {
	Status  int
	Created bool
}

type IssueTracker interface {
	SearchStories(ctx context.Context, jql string) ([]domaintestgen.Story, error)
	GetStoryDetail(ctx context.Context, key string) (domaintestgen.StoryDetail, error)
	FindIssuesByExactTitle(ctx context.Context, projectKey string, issueTypeID string, title string) (IssueSearchResult, error)
	CreateIssue(ctx context.Context, input IssueCreate) (TrackerIssue, error)
	CreateIssueLink(ctx context.Context, input IssueLinkCreate) (IssueLinkResult, error)
	DownloadAttachment(ctx context.Context, contentURL string) (io.ReadCloser, error)
}
