package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"qagen/internal/bootstrap/config"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/ports"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(config.JiraConfig{
		BaseURL:  server.URL,
		Email:    "qa@example.com",
		APIToken: "token",
		PageSize: 2,
	})
}

func requireBasicAuth(t *testing.T, r *http.Request) {
	t.Helper()
	user, pass, ok := r.BasicAuth()
	if !ok || user != "qa@example.com" || pass != "token" {
		t.Errorf("basic auth = %q/%q ok=%v", user, pass, ok)
	}
}

func TestSearchStoriesPagesAndMapsFields(t *testing.T) {
	var jqls []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		if r.URL.Path != "/rest/api/3/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		jqls = append(jqls, r.URL.Query().Get("jql"))
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))

		issues := []map[string]any{}
		if startAt == 0 {
			issues = append(issues,
				map[string]any{"id": "1", "key": "WCX-1", "fields": map[string]any{
					"summary":     "Login",
					"description": map[string]any{"type": "doc", "content": []any{map[string]any{"type": "paragraph", "content": []any{map[string]any{"type": "text", "text": "Hello"}, map[string]any{"type": "text", "text": "world"}}}}},
					"priority":    map[string]any{"name": "High"},
					"assignee":    map[string]any{"displayName": "Dev One"},
					"reporter":    map[string]any{"displayName": "PO One"},
					"parent":      map[string]any{"key": "WCX-100"},
					"customfield_10900": map[string]any{"type": "doc", "content": []any{map[string]any{"type": "paragraph", "content": []any{map[string]any{"type": "text", "text": "Given"}}}}},
				}},
				map[string]any{"id": "2", "key": "WCX-2", "fields": map[string]any{"summary": "Logout", "description": nil}},
			)
		} else {
			issues = append(issues, map[string]any{"id": "3", "key": "WCX-3", "fields": map[string]any{"summary": "Profile"}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"startAt": startAt, "maxResults": 2, "total": 3, "issues": issues})
	})

	stories, err := client.SearchStories(context.Background(), "project = WCX")
	if err != nil {
		t.Fatalf("SearchStories() error = %v", err)
	}
	if len(stories) != 3 || len(jqls) != 2 {
		t.Fatalf("SearchStories() stories=%d requests=%d", len(stories), len(jqls))
	}
	want := domaintestgen.Story{
		Key:                "WCX-1",
		Title:              "Login",
		Description:        "Hello world",
		AcceptanceCriteria: "Given",
		Priority:           "High",
		Developer:          "Dev One",
		ProductOwner:       "PO One",
		EpicKey:            "WCX-100",
	}
	if stories[0] != want {
		t.Fatalf("stories[0] = %+v, want %+v", stories[0], want)
	}
	if stories[1].Description != "" || stories[1].Developer != "" {
		t.Fatalf("stories[1] = %+v", stories[1])
	}
	if stories[2].Key != "WCX-3" {
		t.Fatalf("stories[2] = %+v", stories[2])
	}
}

func TestGetStoryDetailIncludesAttachments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/WCX-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"id":"1","key":"WCX-1","fields":{"summary":"Login","attachment":[
			{"id":"a1","filename":"shot.png","content":"https://jira/attachment/a1","mimeType":"image/png","size":42}]}}`)
	})

	detail, err := client.GetStoryDetail(context.Background(), "WCX-1")
	if err != nil {
		t.Fatalf("GetStoryDetail() error = %v", err)
	}
	if detail.Title != "Login" || len(detail.Attachments) != 1 {
		t.Fatalf("GetStoryDetail() = %+v", detail)
	}
	got := detail.Attachments[0]
	if got.Filename != "shot.png" || got.ContentURL != "https://jira/attachment/a1" || got.Size != 42 || got.MimeType != "image/png" {
		t.Fatalf("attachment = %+v", got)
	}
}

func TestFindIssuesByExactTitleFiltersSummaries(t *testing.T) {
	var gotJQL string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		_, _ = io.WriteString(w, `{"total":2,"issues":[
			{"id":"10","key":"WCX-10","fields":{"summary":"Sprint 44 - [WCX-1] - Test Set (copy)"}},
			{"id":"11","key":"WCX-11","fields":{"summary":"Sprint 44 - [WCX-1] - Test Set"}}]}`)
	})

	result, err := client.FindIssuesByExactTitle(context.Background(), "WCX", "13306", "Sprint 44 - [WCX-1] - Test Set")
	if err != nil {
		t.Fatalf("FindIssuesByExactTitle() error = %v", err)
	}
	if want := `project = WCX AND issuetype = 13306 AND summary ~ "\"Sprint 44 - [WCX-1] - Test Set\"" ORDER BY created DESC`; gotJQL != want {
		t.Fatalf("jql = %s", gotJQL)
	}
	if result.Count != 1 || result.Issues[0].Key != "WCX-11" || result.Issues[0].ID != "11" {
		t.Fatalf("FindIssuesByExactTitle() = %+v", result)
	}
}

func TestFindIssuesByExactTitlePagesPastPhraseMatches(t *testing.T) {
	var starts []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		startAt := r.URL.Query().Get("startAt")
		starts = append(starts, startAt)
		switch startAt {
		case "0":
			_, _ = io.WriteString(w, `{"total":5,"issues":[
				{"id":"20","key":"WCX-20","fields":{"summary":"Sprint 44 - Regression (old)"}},
				{"id":"21","key":"WCX-21","fields":{"summary":"Sprint 44 - Regression copy"}}]}`)
		case "2":
			_, _ = io.WriteString(w, `{"total":5,"issues":[
				{"id":"22","key":"WCX-22","fields":{"summary":"Sprint 44 - Regression v2"}},
				{"id":"23","key":"WCX-23","fields":{"summary":"Sprint 44 - Regression"}}]}`)
		default:
			t.Errorf("unexpected startAt %s", startAt)
			_, _ = io.WriteString(w, `{"total":5,"issues":[]}`)
		}
	})

	result, err := client.FindIssuesByExactTitle(context.Background(), "WCX", "13307", "Sprint 44 - Regression")
	if err != nil {
		t.Fatalf("FindIssuesByExactTitle() error = %v", err)
	}
	if result.Count != 1 || result.Issues[0].Key != "WCX-23" {
		t.Fatalf("FindIssuesByExactTitle() = %+v", result)
	}
	if len(starts) != 2 {
		t.Fatalf("startAt = %v, want two pages", starts)
	}
}

func TestFindIssuesByExactTitleExhaustsPages(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"total":3,"issues":[
			{"id":"30","key":"WCX-30","fields":{"summary":"Sprint 44 - Regression (old)"}},
			{"id":"31","key":"WCX-31","fields":{"summary":"Sprint 44 - Regression copy"}}]}`)
	})

	result, err := client.FindIssuesByExactTitle(context.Background(), "WCX", "13307", "Sprint 44 - Regression")
	if err != nil {
		t.Fatalf("FindIssuesByExactTitle() error = %v", err)
	}
	if result.Count != 0 || calls != 2 {
		t.Fatalf("FindIssuesByExactTitle() = %+v calls=%d, want no match after 2 pages", result, calls)
	}
}

func TestCreateIssueSendsFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/rest/api/3/issue" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fields := body["fields"]
		if fields["summary"] != "Sprint 44" {
			t.Errorf("summary = %v", fields["summary"])
		}
		if fields["issuetype"].(map[string]any)["id"] != "13307" || fields["project"].(map[string]any)["key"] != "WCX" {
			t.Errorf("fields = %v", fields)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"900","key":"WCX-900"}`)
	})

	issue, err := client.CreateIssue(context.Background(), ports.IssueCreate{ProjectKey: "WCX", IssueTypeID: "13307", Title: "Sprint 44"})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if issue.ID != "900" || issue.Key != "WCX-900" || issue.Summary != "Sprint 44" {
		t.Fatalf("CreateIssue() = %+v", issue)
	}
}

func TestCreateIssueLinkReportsStatus(t *testing.T) {
	status := http.StatusCreated
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["inwardIssue"]["key"] != "WCX-900" || body["outwardIssue"]["key"] != "WCX-1" || body["type"]["name"] != "Test" {
			t.Errorf("link body = %v", body)
		}
		w.WriteHeader(status)
	})
	input := ports.IssueLinkCreate{InwardKey: "WCX-900", OutwardKey: "WCX-1", LinkType: "Test"}

	result, err := client.CreateIssueLink(context.Background(), input)
	if err != nil || !result.Created || result.Status != http.StatusCreated {
		t.Fatalf("CreateIssueLink() = %+v, %v", result, err)
	}

	status = http.StatusBadRequest
	result, err = client.CreateIssueLink(context.Background(), input)
	if err != nil {
		t.Fatalf("CreateIssueLink(400) error = %v", err)
	}
	if result.Created || result.Status != http.StatusBadRequest {
		t.Fatalf("CreateIssueLink(400) = %+v", result)
	}
}

func TestErrorClassification(t *testing.T) {
	testCases := []struct {
		status int
		want   error
	}{
		{status: http.StatusBadRequest, want: domaintestgen.ErrTrackerRejected},
		{status: http.StatusNotFound, want: domaintestgen.ErrTrackerRejected},
		{status: http.StatusUnauthorized, want: domaintestgen.ErrTrackerUnavailable},
		{status: http.StatusTooManyRequests, want: domaintestgen.ErrTrackerUnavailable},
		{status: http.StatusServiceUnavailable, want: domaintestgen.ErrTrackerUnavailable},
	}

	for _, tc := range testCases {
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"errorMessages":["nope"]}`)
			})

			_, err := client.SearchStories(context.Background(), "project = WCX")
			if !errors.Is(err, tc.want) {
				t.Fatalf("SearchStories() error = %v, want %v", err, tc.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status {
				t.Fatalf("SearchStories() error = %v, want APIError %d", err, tc.status)
			}
		})
	}
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewClient(config.JiraConfig{BaseURL: server.URL})

	_, err := client.GetStoryDetail(context.Background(), "WCX-1")
	if !errors.Is(err, domaintestgen.ErrTrackerUnavailable) {
		t.Fatalf("GetStoryDetail() error = %v, want ErrTrackerUnavailable", err)
	}
}

func TestDownloadAttachment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requireBasicAuth(t, r)
		if r.URL.Path == "/secure/attachment/a1" {
			_, _ = io.WriteString(w, "PNGDATA")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	body, err := client.DownloadAttachment(context.Background(), "/secure/attachment/a1")
	if err != nil {
		t.Fatalf("DownloadAttachment() error = %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if string(data) != "PNGDATA" {
		t.Fatalf("DownloadAttachment() = %q", data)
	}

	if _, err := client.DownloadAttachment(context.Background(), "/secure/attachment/missing"); !errors.Is(err, domaintestgen.ErrTrackerRejected) {
		t.Fatalf("DownloadAttachment(missing) error = %v", err)
	}
}
