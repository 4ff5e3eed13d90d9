package repository

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/infrastructure/persistence/sqlite/model"
	"qagen/internal/ports"
)

func setupRecordRepository(t *testing.T) (*RecordRepository, *gorm.DB) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "records.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.AttachmentReference{}, &model.GeneratedArtifact{}, &model.TestIssueSet{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewRecordRepository(db), db
}

func TestAttachmentRefSaveIsFirstWriteWins(t *testing.T) {
	repo, _ := setupRecordRepository(t)
	ctx := context.Background()

	if _, found, err := repo.FindAttachmentRef(ctx, "WCX-1", "a.png"); err != nil || found {
		t.Fatalf("FindAttachmentRef() before save = found %v, err %v", found, err)
	}

	if err := repo.SaveAttachmentRef(ctx, ports.AttachmentRef{
		StoryID: "WCX-1", Filename: "a.png", ExternalFileID: "file-1", ByteSize: 10, LocalPath: "downloads/a.png",
	}); err != nil {
		t.Fatalf("SaveAttachmentRef() error = %v", err)
	}
	if err := repo.SaveAttachmentRef(ctx, ports.AttachmentRef{
		StoryID: "WCX-1", Filename: "a.png", ExternalFileID: "file-2",
	}); err != nil {
		t.Fatalf("SaveAttachmentRef(duplicate) error = %v", err)
	}
	if err := repo.SaveAttachmentRef(ctx, ports.AttachmentRef{
		StoryID: "WCX-1", Filename: "b.png", ExternalFileID: "file-3",
	}); err != nil {
		t.Fatalf("SaveAttachmentRef(second file) error = %v", err)
	}

	ref, found, err := repo.FindAttachmentRef(ctx, "WCX-1", "a.png")
	if err != nil || !found {
		t.Fatalf("FindAttachmentRef() = found %v, err %v", found, err)
	}
	if ref.ExternalFileID != "file-1" || ref.ByteSize != 10 || ref.CreatedAt == "" {
		t.Fatalf("FindAttachmentRef() = %+v", ref)
	}

	refs, err := repo.ListAttachmentRefs(ctx, "WCX-1")
	if err != nil {
		t.Fatalf("ListAttachmentRefs() error = %v", err)
	}
	if len(refs) != 2 || refs[0].Filename != "a.png" || refs[1].Filename != "b.png" {
		t.Fatalf("ListAttachmentRefs() = %+v", refs)
	}
}

func TestArtifactIsNeverReplaced(t *testing.T) {
	repo, _ := setupRecordRepository(t)
	ctx := context.Background()

	first := ports.Artifact{
		StoryID:        "WCX-1",
		AssistantID:    "asst_ticket",
		Stage:          domaintestgen.StageTicket,
		ConversationID: "thread_1",
		RunID:          "run_1",
		MessageID:      "msg_1",
		Title:          "Story",
		Payload:        json.RawMessage(`{"userStoryNumber":"WCX-1"}`),
	}
	if err := repo.SaveArtifact(ctx, first); err != nil {
		t.Fatalf("SaveArtifact() error = %v", err)
	}
	second := first
	second.RunID = "run_2"
	second.Payload = json.RawMessage(`{"userStoryNumber":"WCX-1","v":2}`)
	if err := repo.SaveArtifact(ctx, second); err != nil {
		t.Fatalf("SaveArtifact(second) error = %v", err)
	}

	got, found, err := repo.FindArtifact(ctx, "WCX-1", "asst_ticket")
	if err != nil || !found {
		t.Fatalf("FindArtifact() = found %v, err %v", found, err)
	}
	if got.RunID != "run_1" || got.Stage != domaintestgen.StageTicket {
		t.Fatalf("FindArtifact() = %+v", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if len(payload) != 1 || payload["userStoryNumber"] != "WCX-1" {
		t.Fatalf("payload = %v", payload)
	}

	if _, found, err := repo.FindArtifact(ctx, "WCX-1", "asst_other"); err != nil || found {
		t.Fatalf("FindArtifact(other assistant) = found %v, err %v", found, err)
	}
}

func TestTestIssueSetUpsertKeepsOrder(t *testing.T) {
	repo, _ := setupRecordRepository(t)
	ctx := context.Background()

	if err := repo.SaveTestIssueSet(ctx, ports.TestIssueSet{StoryID: "WCX-1"}); err != nil {
		t.Fatalf("SaveTestIssueSet(empty) error = %v", err)
	}
	set, found, err := repo.FindTestIssueSet(ctx, "WCX-1")
	if err != nil || !found {
		t.Fatalf("FindTestIssueSet() = found %v, err %v", found, err)
	}
	if set.Processed() {
		t.Fatalf("empty set should not be processed: %+v", set)
	}

	if err := repo.SaveTestIssueSet(ctx, ports.TestIssueSet{StoryID: "WCX-1", TestIssueIDs: []string{"30", "10", "20"}}); err != nil {
		t.Fatalf("SaveTestIssueSet() error = %v", err)
	}
	set, _, err = repo.FindTestIssueSet(ctx, "WCX-1")
	if err != nil {
		t.Fatalf("FindTestIssueSet() error = %v", err)
	}
	if !set.Processed() || len(set.TestIssueIDs) != 3 || set.TestIssueIDs[0] != "30" || set.TestIssueIDs[2] != "20" {
		t.Fatalf("FindTestIssueSet() = %+v", set)
	}
}

func TestListStoriesAndDeleteStory(t *testing.T) {
	repo, _ := setupRecordRepository(t)
	ctx := context.Background()

	mustSave := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	mustSave(repo.SaveAttachmentRef(ctx, ports.AttachmentRef{StoryID: "WCX-2", Filename: "a.png"}))
	mustSave(repo.SaveArtifact(ctx, ports.Artifact{StoryID: "WCX-2", AssistantID: "a1", Stage: domaintestgen.StageTicket, Payload: json.RawMessage(`{}`)}))
	mustSave(repo.SaveArtifact(ctx, ports.Artifact{StoryID: "WCX-2", AssistantID: "a2", Stage: domaintestgen.StageTestCases, Payload: json.RawMessage(`{}`)}))
	mustSave(repo.SaveTestIssueSet(ctx, ports.TestIssueSet{StoryID: "WCX-2", TestIssueIDs: []string{"1", "2"}}))
	mustSave(repo.SaveTestIssueSet(ctx, ports.TestIssueSet{StoryID: "WCX-1"}))

	stories, err := repo.ListStories(ctx)
	if err != nil {
		t.Fatalf("ListStories() error = %v", err)
	}
	if len(stories) != 2 {
		t.Fatalf("ListStories() len = %d", len(stories))
	}
	if stories[0].StoryID != "WCX-1" || stories[0].Processed {
		t.Fatalf("ListStories()[0] = %+v", stories[0])
	}
	want := ports.StoryRecord{StoryID: "WCX-2", Attachments: 1, Artifacts: 2, TestIssues: 2, Processed: true}
	got := stories[1]
	got.UpdatedAt = ""
	if got != want {
		t.Fatalf("ListStories()[1] = %+v, want %+v", got, want)
	}

	if err := repo.DeleteStory(ctx, "WCX-2"); err != nil {
		t.Fatalf("DeleteStory() error = %v", err)
	}
	if _, found, _ := repo.FindArtifact(ctx, "WCX-2", "a1"); found {
		t.Fatalf("artifact still present after DeleteStory")
	}
	if refs, _ := repo.ListAttachmentRefs(ctx, "WCX-2"); len(refs) != 0 {
		t.Fatalf("attachment refs still present after DeleteStory: %+v", refs)
	}
	stories, err = repo.ListStories(ctx)
	if err != nil {
		t.Fatalf("ListStories() error = %v", err)
	}
	if len(stories) != 1 || stories[0].StoryID != "WCX-1" {
		t.Fatalf("ListStories() after delete = %+v", stories)
	}
}

func TestRecordStoreFailuresAreMarked(t *testing.T) {
	repo, db := setupRecordRepository(t)
	ctx := context.Background()

	if err := db.Migrator().DropTable(&model.GeneratedArtifact{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, _, err := repo.FindArtifact(ctx, "WCX-1", "a1")
	if !errors.Is(err, domaintestgen.ErrRecordStoreFailure) {
		t.Fatalf("FindArtifact() error = %v, want ErrRecordStoreFailure", err)
	}

	err = repo.SaveTestIssueSet(ctx, ports.TestIssueSet{})
	if !errors.Is(err, domaintestgen.ErrRecordStoreFailure) {
		t.Fatalf("SaveTestIssueSet(no story) error = %v, want ErrRecordStoreFailure", err)
	}
}
