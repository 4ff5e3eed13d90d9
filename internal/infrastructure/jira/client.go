package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"qagen/internal/bootstrap/config"
	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

const (
	defaultPageSize        = 50
	defaultAcceptanceField = "customfield_10900"
	maxErrorBodyBytes      = 4096
	searchPath             = "rest/api/3/search"
	issuePath              = "rest/api/3/issue"
	issueLinkPath          = "rest/api/3/issueLink"
	storyFields            = "summary,description,priority,assignee,reporter,parent"
)

// APIError is a non-2xx answer from Jira.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client talks to Jira Cloud REST v3 with basic auth.
type Client struct {
	baseURL         string
	email           string
	apiToken        string
	acceptanceField string
	pageSize        int
	httpClient      *http.Client
}

var _ ports.IssueTracker = (*Client)(nil)

func NewClient(cfg config.JiraConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	field := strings.TrimSpace(cfg.AcceptanceCriteriaField)
	if field == "" {
		field = defaultAcceptanceField
	}
	return &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		email:           cfg.Email,
		apiToken:        cfg.APIToken,
		acceptanceField: field,
		pageSize:        pageSize,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	StartAt    int             `json:"startAt"`
	MaxResults int             `json:"maxResults"`
	Total      int             `json:"total"`
	Issues     []issueResponse `json:"issues"`
}

type issueResponse struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

// SearchStories pages through every issue matching jql.
func (c *Client) SearchStories(ctx context.Context, jql string) ([]domaintestgen.Story, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx, slog.String("component", "jira.client"))

	fields := storyFields + "," + c.acceptanceField
	stories := make([]domaintestgen.Story, 0)
	startAt := 0
	for {
		page, err := c.search(ctx, jql, fields, startAt)
		if err != nil {
			return nil, errs.Wrap(err, "search stories")
		}
		for _, issue := range page.Issues {
			stories = append(stories, c.mapStory(issue))
		}

		startAt += len(page.Issues)
		if len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}

	logging.Info(logCtx, "stories fetched", slog.Int("count", len(stories)))
	return stories, nil
}

// GetStoryDetail fetches one issue with its attachment metadata.
func (c *Client) GetStoryDetail(ctx context.Context, key string) (domaintestgen.StoryDetail, error) {
	if ctx == nil {
		return domaintestgen.StoryDetail{}, errors.New("context is required")
	}
	if strings.TrimSpace(key) == "" {
		return domaintestgen.StoryDetail{}, domaintestgen.ErrStoryKeyRequired
	}

	var issue issueResponse
	if err := c.do(ctx, http.MethodGet, issuePath+"/"+url.PathEscape(key), nil, &issue); err != nil {
		return domaintestgen.StoryDetail{}, errs.Wrapf(err, "get issue %s", key)
	}

	detail := domaintestgen.StoryDetail{Story: c.mapStory(issue)}
	for _, item := range gjson.GetBytes(issue.Fields, "attachment").Array() {
		detail.Attachments = append(detail.Attachments, domaintestgen.Attachment{
			ID:         item.Get("id").String(),
			Filename:   item.Get("filename").String(),
			ContentURL: item.Get("content").String(),
			MimeType:   item.Get("mimeType").String(),
			Size:       item.Get("size").Int(),
		})
	}
	return detail, nil
}

// FindIssuesByExactTitle narrows by phrase search then keeps only summaries equal to title.
// Phrase matches come newest first, so pages are read until one holds an exact match or the
// matches run out.
func (c *Client) FindIssuesByExactTitle(ctx context.Context, projectKey string, issueTypeID string, title string) (ports.IssueSearchResult, error) {
	if ctx == nil {
		return ports.IssueSearchResult{}, errors.New("context is required")
	}

	jql := domaintestgen.ExactSummaryJQL(projectKey, issueTypeID, title)
	result := ports.IssueSearchResult{Issues: []ports.TrackerIssue{}}
	startAt := 0
	for {
		page, err := c.search(ctx, jql, "summary", startAt)
		if err != nil {
			return ports.IssueSearchResult{}, errs.Wrapf(err, "find issue by title %q", title)
		}
		for _, issue := range page.Issues {
			summary := gjson.GetBytes(issue.Fields, "summary").String()
			if summary != title {
				continue
			}
			result.Issues = append(result.Issues, ports.TrackerIssue{ID: issue.ID, Key: issue.Key, Summary: summary})
		}

		startAt += len(page.Issues)
		if len(result.Issues) > 0 || len(page.Issues) == 0 || startAt >= page.Total {
			break
		}
	}
	result.Count = len(result.Issues)
	return result, nil
}

func (c *Client) CreateIssue(ctx context.Context, input ports.IssueCreate) (ports.TrackerIssue, error) {
	if ctx == nil {
		return ports.TrackerIssue{}, errors.New("context is required")
	}

	body := map[string]any{
		"fields": map[string]any{
			"summary":   input.Title,
			"issuetype": map[string]any{"id": input.IssueTypeID},
			"project":   map[string]any{"key": input.ProjectKey},
		},
	}
	var resp struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, issuePath, body, &resp); err != nil {
		return ports.TrackerIssue{}, errs.Wrapf(err, "create issue %q", input.Title)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "jira.client")),
		"issue created",
		slog.String("key", resp.Key),
		slog.String("issue_type", input.IssueTypeID),
	)
	return ports.TrackerIssue{ID: resp.ID, Key: resp.Key, Summary: input.Title}, nil
}

// CreateIssueLink reports non-201 answers in the result instead of failing.
func (c *Client) CreateIssueLink(ctx context.Context, input ports.IssueLinkCreate) (ports.IssueLinkResult, error) {
	if ctx == nil {
		return ports.IssueLinkResult{}, errors.New("context is required")
	}

	body := map[string]any{
		"inwardIssue":  map[string]any{"key": input.InwardKey},
		"outwardIssue": map[string]any{"key": input.OutwardKey},
		"type":         map[string]any{"name": input.LinkType},
	}
	resp, err := c.send(ctx, http.MethodPost, c.endpoint(issueLinkPath), body)
	if err != nil {
		return ports.IssueLinkResult{}, errs.Wrap(err, "create issue link")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	return ports.IssueLinkResult{
		Status:  resp.StatusCode,
		Created: resp.StatusCode == http.StatusCreated,
	}, nil
}

// DownloadAttachment streams an attachment body. The caller closes it.
func (c *Client) DownloadAttachment(ctx context.Context, contentURL string) (io.ReadCloser, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	target := contentURL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.endpoint(target)
	}
	resp, err := c.send(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errs.Wrap(err, "download attachment")
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, errs.Wrap(classify(readAPIError(resp)), "download attachment")
	}
	return resp.Body, nil
}

func (c *Client) search(ctx context.Context, jql string, fields string, startAt int) (searchResponse, error) {
	query := url.Values{}
	query.Set("jql", jql)
	query.Set("fields", fields)
	query.Set("startAt", strconv.Itoa(startAt))
	query.Set("maxResults", strconv.Itoa(c.pageSize))

	var page searchResponse
	if err := c.do(ctx, http.MethodGet, searchPath+"?"+query.Encode(), nil, &page); err != nil {
		return searchResponse{}, err
	}
	return page, nil
}

func (c *Client) mapStory(issue issueResponse) domaintestgen.Story {
	fields := gjson.ParseBytes(issue.Fields)
	return domaintestgen.Story{
		Key:                issue.Key,
		Title:              fields.Get("summary").String(),
		Description:        ExtractText(fields.Get("description")),
		AcceptanceCriteria: ExtractText(fields.Get(gjsonEscape(c.acceptanceField))),
		Priority:           fields.Get("priority.name").String(),
		Developer:          fields.Get("assignee.displayName").String(),
		ProductOwner:       fields.Get("reporter.displayName").String(),
		EpicKey:            fields.Get("parent.key").String(),
	}
}

func (c *Client) do(ctx context.Context, method string, endpoint string, body any, out any) error {
	resp, err := c.send(ctx, method, c.endpoint(endpoint), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return classify(readAPIError(resp))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Mark(errs.Wrap(err, "decode jira response"), domaintestgen.ErrTrackerUnavailable)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method string, target string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, errs.Wrap(err, "encode jira request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, errs.Wrap(err, "build jira request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.email, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Mark(errs.WithStack(err), domaintestgen.ErrTrackerUnavailable)
	}
	return resp, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func readAPIError(resp *http.Response) *APIError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// classify maps auth, throttling and server errors to unavailable and other 4xx to rejected.
func classify(apiErr *APIError) error {
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized,
		apiErr.StatusCode == http.StatusForbidden,
		apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode >= 500:
		return errs.Mark(apiErr, domaintestgen.ErrTrackerUnavailable)
	default:
		return errs.Mark(apiErr, domaintestgen.ErrTrackerRejected)
	}
}

var gjsonPathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "#", `\#`, "|", `\|`)

func gjsonEscape(key string) string {
	return gjsonPathEscaper.Replace(key)
}
