package testgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "qagen/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "qagen/internal/infrastructure/persistence/sqlite/uow"
	"qagen/internal/ports"
)

type testCache struct {
	data map[string]string
}

func newTestCache() *testCache {
	return &testCache{data: make(map[string]string)}
}

func (c *testCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *testCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *testCache) Delete(_ context.Context, key string) error {
	delete(c.data, key)
	return nil
}

func (c *testCache) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	var n int64
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
			n++
		}
	}
	return n, nil
}

type fakeTracker struct {
	stories     []domaintestgen.Story
	details     map[string]domaintestgen.StoryDetail
	files       map[string]string
	issues      map[string]ports.TrackerIssue
	linkStatus  int
	searchErr   error
	nextIssueID int

	searches  int
	finds     int
	created   []ports.IssueCreate
	links     []ports.IssueLinkCreate
	downloads []string
}

func newFakeTracker(stories ...domaintestgen.Story) *fakeTracker {
	details := make(map[string]domaintestgen.StoryDetail, len(stories))
	for _, story := range stories {
		details[story.Key] = domaintestgen.StoryDetail{Story: story}
	}
	return &fakeTracker{
		stories:     stories,
		details:     details,
		files:       map[string]string{},
		issues:      map[string]ports.TrackerIssue{},
		linkStatus:  201,
		nextIssueID: 10000,
	}
}

// remoteCalls counts every call except the story search.
func (f *fakeTracker) remoteCalls() int {
	return f.finds + len(f.created) + len(f.links) + len(f.downloads)
}

func (f *fakeTracker) SearchStories(_ context.Context, _ string) ([]domaintestgen.Story, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.stories, nil
}

func (f *fakeTracker) GetStoryDetail(_ context.Context, key string) (domaintestgen.StoryDetail, error) {
	detail, ok := f.details[key]
	if !ok {
		return domaintestgen.StoryDetail{}, fmt.Errorf("%w: no story %s", domaintestgen.ErrTrackerRejected, key)
	}
	return detail, nil
}

func (f *fakeTracker) FindIssuesByExactTitle(_ context.Context, _ string, issueTypeID string, title string) (ports.IssueSearchResult, error) {
	f.finds++
	issue, ok := f.issues[issueTypeID+"|"+title]
	if !ok {
		return ports.IssueSearchResult{}, nil
	}
	return ports.IssueSearchResult{Count: 1, Issues: []ports.TrackerIssue{issue}}, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, input ports.IssueCreate) (ports.TrackerIssue, error) {
	f.created = append(f.created, input)
	f.nextIssueID++
	issue := ports.TrackerIssue{
		ID:      fmt.Sprint(f.nextIssueID),
		Key:     fmt.Sprintf("WCX-%d", f.nextIssueID),
		Summary: input.Title,
	}
	f.issues[input.IssueTypeID+"|"+input.Title] = issue
	return issue, nil
}

func (f *fakeTracker) CreateIssueLink(_ context.Context, input ports.IssueLinkCreate) (ports.IssueLinkResult, error) {
	f.links = append(f.links, input)
	return ports.IssueLinkResult{Status: f.linkStatus, Created: f.linkStatus == 201}, nil
}

func (f *fakeTracker) DownloadAttachment(_ context.Context, contentURL string) (io.ReadCloser, error) {
	f.downloads = append(f.downloads, contentURL)
	body, ok := f.files[contentURL]
	if !ok {
		return nil, fmt.Errorf("%w: 404", domaintestgen.ErrTrackerRejected)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type addTestsCall struct {
	containerID string
	ids         []string
	kind        domaintestgen.ContainerKind
}

type addExecutionsCall struct {
	containerID string
	ids         []string
	kind        domaintestgen.ExecutionContainerKind
}

type fakeTests struct {
	existing map[string]ports.ManagedTest
	// phraseMatches are returned ahead of exact matches for every search, like Xray's
	// newest-first phrase search.
	phraseMatches []ports.ManagedTest
	failTitles    map[string]bool
	addErr        error
	nextID        int

	finds      int
	findStarts []int
	creates    []ports.GenericTestCreate
	added      []addTestsCall
	execs      []addExecutionsCall
}

func newFakeTests() *fakeTests {
	return &fakeTests{
		existing:   map[string]ports.ManagedTest{},
		failTitles: map[string]bool{},
		nextID:     20000,
	}
}

func (f *fakeTests) calls() int {
	return f.finds + len(f.creates) + len(f.added) + len(f.execs)
}

func (f *fakeTests) FindTests(_ context.Context, jql string, start int, limit int) (ports.TestPage, error) {
	f.finds++
	f.findStarts = append(f.findStarts, start)
	matches := append([]ports.ManagedTest{}, f.phraseMatches...)
	for summary, test := range f.existing {
		if strings.Contains(jql, domaintestgen.EscapeJQLString(summary)) {
			matches = append(matches, test)
		}
	}

	page := ports.TestPage{Total: len(matches)}
	if start >= len(matches) {
		return page, nil
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	page.Tests = matches[start:end]
	return page, nil
}

func (f *fakeTests) CreateGenericTest(_ context.Context, input ports.GenericTestCreate) (ports.ManagedTest, error) {
	f.creates = append(f.creates, input)
	if f.failTitles[input.Summary] {
		return ports.ManagedTest{}, fmt.Errorf("%w: createTest", domaintestgen.ErrTestManagementRejected)
	}
	f.nextID++
	test := ports.ManagedTest{
		IssueID: fmt.Sprint(f.nextID),
		Key:     fmt.Sprintf("WCX-T%d", f.nextID),
		Summary: input.Summary,
	}
	f.existing[input.Summary] = test
	return test, nil
}

func (f *fakeTests) AddTestsTo(_ context.Context, containerID string, ids []string, kind domaintestgen.ContainerKind) error {
	f.added = append(f.added, addTestsCall{containerID: containerID, ids: append([]string(nil), ids...), kind: kind})
	return f.addErr
}

func (f *fakeTests) AddTestExecutionsTo(_ context.Context, containerID string, ids []string, kind domaintestgen.ExecutionContainerKind) error {
	f.execs = append(f.execs, addExecutionsCall{containerID: containerID, ids: append([]string(nil), ids...), kind: kind})
	return f.addErr
}

type fakeAssistant struct {
	outputs  map[string]string
	pending  int
	final    domaintestgen.RunStatus
	startErr error
	uploadFn func(filename string) error

	uploads   []string
	starts    []ports.AssistantRunRequest
	polls     int
	cancels   int
	messages  int
	threadFor map[string]string
	pollCount map[string]int
}

func newFakeAssistant(outputs map[string]string) *fakeAssistant {
	return &fakeAssistant{
		outputs:   outputs,
		final:     domaintestgen.RunCompleted,
		threadFor: map[string]string{},
		pollCount: map[string]int{},
	}
}

func (f *fakeAssistant) calls() int {
	return len(f.uploads) + len(f.starts) + f.polls + f.cancels + f.messages
}

func (f *fakeAssistant) UploadFile(_ context.Context, filename string, content io.Reader) (ports.AssistantFile, error) {
	f.uploads = append(f.uploads, filename)
	if f.uploadFn != nil {
		if err := f.uploadFn(filename); err != nil {
			return ports.AssistantFile{}, err
		}
	}
	raw, err := io.ReadAll(content)
	if err != nil {
		return ports.AssistantFile{}, err
	}
	return ports.AssistantFile{ID: "file-" + filename, Filename: filename, Bytes: int64(len(raw))}, nil
}

func (f *fakeAssistant) StartRun(_ context.Context, req ports.AssistantRunRequest) (ports.AssistantRun, error) {
	f.starts = append(f.starts, req)
	if f.startErr != nil {
		return ports.AssistantRun{}, f.startErr
	}
	n := len(f.starts)
	run := ports.AssistantRun{
		ConversationID: fmt.Sprintf("thread_%d", n),
		RunID:          fmt.Sprintf("run_%d", n),
		Status:         domaintestgen.RunQueued,
	}
	f.threadFor[run.ConversationID] = req.AssistantID
	return run, nil
}

func (f *fakeAssistant) GetRun(_ context.Context, conversationID string, runID string) (ports.AssistantRun, error) {
	f.polls++
	f.pollCount[runID]++
	status := f.final
	if f.pollCount[runID] <= f.pending {
		status = domaintestgen.RunInProgress
	}
	run := ports.AssistantRun{ConversationID: conversationID, RunID: runID, Status: status}
	if status.Failed() {
		run.LastError = "rate limited"
	}
	return run, nil
}

func (f *fakeAssistant) CancelRun(_ context.Context, _ string, _ string) error {
	f.cancels++
	return nil
}

func (f *fakeAssistant) LatestMessage(_ context.Context, conversationID string) (ports.AssistantMessage, error) {
	f.messages++
	text, ok := f.outputs[f.threadFor[conversationID]]
	if !ok {
		return ports.AssistantMessage{}, errors.New("no scripted output")
	}
	return ports.AssistantMessage{ID: "msg_" + conversationID, Text: text}, nil
}

type fakeRenderer struct {
	renders int
	name    string
	entries []domaintestgen.ReportEntry
}

func (f *fakeRenderer) Render(_ context.Context, testPlanName string, entries []domaintestgen.ReportEntry) (string, error) {
	f.renders++
	f.name = testPlanName
	f.entries = entries
	return filepath.Join("output", domaintestgen.ReportFileName(testPlanName)), nil
}

type fakeEvents struct {
	steps []string
}

func (f *fakeEvents) Publish(_ context.Context, event ports.ProgressEvent) error {
	f.steps = append(f.steps, event.Step)
	return nil
}

type harness struct {
	svc       *Service
	tracker   *fakeTracker
	tests     *fakeTests
	assistant *fakeAssistant
	records   *sqliterepo.RecordRepository
	cache     *testCache
	renderer  *fakeRenderer
	events    *fakeEvents
	db        *gorm.DB
	sleeps    []time.Duration
}

const (
	ticketAssistant = "asst_ticket"
	casesAssistant  = "asst_cases"
)

func testProfile() WorkflowProfile {
	profile := DefaultWorkflowProfile()
	profile.Assistants.Ticket = ticketAssistant
	profile.Assistants.TestCases = casesAssistant
	profile.Polling.MaxAttempts = 5
	return profile
}

func newHarness(t *testing.T, tracker *fakeTracker, assistant *fakeAssistant) *harness {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "records.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&model.AttachmentReference{}, &model.GeneratedArtifact{}, &model.TestIssueSet{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	h := &harness{
		tracker:   tracker,
		tests:     newFakeTests(),
		assistant: assistant,
		records:   sqliterepo.NewRecordRepository(db),
		cache:     newTestCache(),
		renderer:  &fakeRenderer{},
		events:    &fakeEvents{},
		db:        db,
	}
	h.svc = NewService(Dependencies{
		Tracker:   h.tracker,
		Tests:     h.tests,
		Assistant: h.assistant,
		Records:   h.records,
		Cache:     h.cache,
		Renderer:  h.renderer,
		Events:    h.events,
		UoW:       sqliteuow.NewUnitOfWork(db),
	}, testProfile(), filepath.Join(t.TempDir(), "downloads"))
	h.svc.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	h.svc.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }
	h.svc.newRunID = func() string { return "run-test" }
	return h
}

const ticketOutputWCX5630 = `{"userStoryNumber":"WCX-5630","Title":"Login with SSO","Scenario":"user signs in"}`

const casesOutputWCX5630 = "```json\n" + `{"testCases":[{"title":"t1","steps":["a","b"],"expectedResults":"r1","type":"positive"}],"edgeCases":[]}` + "\n```"

func wcx5630() domaintestgen.Story {
	return domaintestgen.Story{Key: "WCX-5630", Title: "Login with SSO", EpicKey: "WCX-100"}
}
