package xray

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/machinebox/graphql"
	"golang.org/x/oauth2"

	"qagen/internal/bootstrap/config"
	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

const (
	maxErrorBodyBytes = 4096
	maxTestsPerPage   = 100
)

// APIError is a non-2xx HTTP answer from Xray.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xray api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client calls the Xray Cloud GraphQL API.
type Client struct {
	gql *graphql.Client
}

var _ ports.TestManagement = (*Client)(nil)

func NewClient(cfg config.XrayConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	source := NewTokenSource(baseURL, cfg.Token, cfg.ClientID, cfg.ClientSecret, &http.Client{Timeout: timeout})
	return newClient(baseURL+"/graphql", source, timeout)
}

func newClient(endpoint string, source oauth2.TokenSource, timeout time.Duration) *Client {
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: source,
			Base:   &statusTransport{base: http.DefaultTransport},
		},
	}
	return &Client{gql: graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient))}
}

const findTestsQuery = `
query findTests($jql: String!, $start: Int!, $limit: Int!) {
  getTests(jql: $jql, start: $start, limit: $limit) {
    total
    results {
      issueId
      jira(fields: ["key", "summary"])
    }
  }
}`

type testResult struct {
	IssueID string `json:"issueId"`
	Jira    struct {
		Key     string `json:"key"`
		Summary string `json:"summary"`
	} `json:"jira"`
}

// FindTests returns one page of tests matching jql. Xray caps limit at 100.
func (c *Client) FindTests(ctx context.Context, jql string, start int, limit int) (ports.TestPage, error) {
	if ctx == nil {
		return ports.TestPage{}, errors.New("context is required")
	}
	if start < 0 {
		start = 0
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxTestsPerPage {
		limit = maxTestsPerPage
	}

	req := graphql.NewRequest(findTestsQuery)
	req.Var("jql", jql)
	req.Var("start", start)
	req.Var("limit", limit)

	var resp struct {
		GetTests struct {
			Total   int          `json:"total"`
			Results []testResult `json:"results"`
		} `json:"getTests"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return ports.TestPage{}, errs.Wrap(classify(err), "find tests")
	}

	page := ports.TestPage{
		Total: resp.GetTests.Total,
		Tests: make([]ports.ManagedTest, 0, len(resp.GetTests.Results)),
	}
	for _, item := range resp.GetTests.Results {
		page.Tests = append(page.Tests, ports.ManagedTest{IssueID: item.IssueID, Key: item.Jira.Key, Summary: item.Jira.Summary})
	}
	return page, nil
}

const createTestMutation = `
mutation createTest($unstructured: String!, $jira: JSON!, $preconditionIssueIds: [String]) {
  createTest(
    testType: { name: "Generic" },
    unstructured: $unstructured,
    jira: $jira,
    preconditionIssueIds: $preconditionIssueIds
  ) {
    test {
      issueId
      jira(fields: ["key"])
    }
    warnings
  }
}`

// CreateGenericTest creates an unstructured test. It does not look for an existing one.
func (c *Client) CreateGenericTest(ctx context.Context, input ports.GenericTestCreate) (ports.ManagedTest, error) {
	if ctx == nil {
		return ports.ManagedTest{}, errors.New("context is required")
	}

	preconditions := input.PreconditionIssueIDs
	if preconditions == nil {
		preconditions = []string{}
	}

	req := graphql.NewRequest(createTestMutation)
	req.Var("unstructured", input.Unstructured)
	req.Var("jira", map[string]any{
		"fields": map[string]any{
			"summary": input.Summary,
			"project": map[string]any{"key": input.ProjectKey},
		},
	})
	req.Var("preconditionIssueIds", preconditions)

	var resp struct {
		CreateTest struct {
			Test     testResult `json:"test"`
			Warnings []string   `json:"warnings"`
		} `json:"createTest"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return ports.ManagedTest{}, errs.Wrapf(classify(err), "create test %q", input.Summary)
	}

	test := resp.CreateTest.Test
	if strings.TrimSpace(test.IssueID) == "" {
		return ports.ManagedTest{}, errs.Mark(
			fmt.Errorf("create test %q: response has no issue id", input.Summary),
			domaintestgen.ErrTestManagementRejected,
		)
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "xray.client"))
	for _, warning := range resp.CreateTest.Warnings {
		logging.Warn(logCtx, "xray create test warning", slog.String("summary", input.Summary), slog.String("warning", warning))
	}
	return ports.ManagedTest{IssueID: test.IssueID, Key: test.Jira.Key, Summary: input.Summary}, nil
}

func (c *Client) AddTestsTo(ctx context.Context, containerID string, testIssueIDs []string, kind domaintestgen.ContainerKind) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	mutation, err := kind.AddTestsMutation()
	if err != nil {
		return err
	}

	req := graphql.NewRequest(fmt.Sprintf(`
mutation %[1]s($issueId: String!, $testIssueIds: [String]!) {
  %[1]s(issueId: $issueId, testIssueIds: $testIssueIds) {
    addedTests
    warning
  }
}`, mutation))
	req.Var("issueId", containerID)
	req.Var("testIssueIds", nonNil(testIssueIDs))

	var resp map[string]struct {
		AddedTests []string `json:"addedTests"`
		Warning    string   `json:"warning"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return errs.Wrapf(classify(err), "%s %s", mutation, containerID)
	}

	result := resp[mutation]
	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "xray.client")),
		"tests added",
		slog.String("kind", string(kind)),
		slog.String("container", containerID),
		slog.Int("added", len(result.AddedTests)),
		slog.String("warning", result.Warning),
	)
	return nil
}

func (c *Client) AddTestExecutionsTo(ctx context.Context, containerID string, execIssueIDs []string, kind domaintestgen.ExecutionContainerKind) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	mutation, err := kind.AddTestExecutionsMutation()
	if err != nil {
		return err
	}

	req := graphql.NewRequest(fmt.Sprintf(`
mutation %[1]s($issueId: String!, $testExecIssueIds: [String]!) {
  %[1]s(issueId: $issueId, testExecIssueIds: $testExecIssueIds) {
    addedTestExecutions
    warning
  }
}`, mutation))
	req.Var("issueId", containerID)
	req.Var("testExecIssueIds", nonNil(execIssueIDs))

	var resp map[string]struct {
		AddedTestExecutions []string `json:"addedTestExecutions"`
		Warning             string   `json:"warning"`
	}
	if err := c.gql.Run(ctx, req, &resp); err != nil {
		return errs.Wrapf(classify(err), "%s %s", mutation, containerID)
	}

	result := resp[mutation]
	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "xray.client")),
		"test executions added",
		slog.String("kind", string(kind)),
		slog.String("container", containerID),
		slog.Int("added", len(result.AddedTestExecutions)),
		slog.String("warning", result.Warning),
	)
	return nil
}

// statusTransport turns non-2xx answers into *APIError. The GraphQL client would otherwise
// decode an error body such as {"error":"..."} as an empty successful result.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized,
			apiErr.StatusCode == http.StatusForbidden,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return errs.Mark(err, domaintestgen.ErrTestManagementUnavailable)
		default:
			return errs.Mark(err, domaintestgen.ErrTestManagementRejected)
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Mark(errs.WithStack(err), domaintestgen.ErrTestManagementUnavailable)
	}
	if strings.HasPrefix(err.Error(), "graphql: ") {
		return errs.Mark(err, domaintestgen.ErrTestManagementRejected)
	}
	return errs.Mark(errs.WithStack(err), domaintestgen.ErrTestManagementUnavailable)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
