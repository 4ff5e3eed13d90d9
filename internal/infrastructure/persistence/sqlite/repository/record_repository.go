package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/infrastructure/persistence/sqlite/model"
	"qagen/internal/ports"
)

// RecordRepository implements ports.RecordStore on gorm.
type RecordRepository struct {
	db *gorm.DB
}

var _ ports.RecordStore = (*RecordRepository)(nil)

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, storeErr(fmt.Errorf("invalid tx in context: %T", tx), "resolve tx")
	}
	return gormTx.WithContext(ctx), nil
}

func (r *RecordRepository) FindAttachmentRef(ctx context.Context, storyID string, filename string) (ports.AttachmentRef, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.AttachmentRef{}, false, err
	}

	var row model.AttachmentReference
	if err := db.Where("story_id = ? AND filename = ?", storyID, filename).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.AttachmentRef{}, false, nil
		}
		return ports.AttachmentRef{}, false, storeErr(err, "query attachment reference")
	}
	return mapAttachmentRef(row), true, nil
}

func (r *RecordRepository) ListAttachmentRefs(ctx context.Context, storyID string) ([]ports.AttachmentRef, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.AttachmentReference
	if err := db.Where("story_id = ?", storyID).
		Order("attachment_reference_id asc").
		Find(&rows).Error; err != nil {
		return nil, storeErr(err, "query attachment references")
	}

	items := make([]ports.AttachmentRef, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapAttachmentRef(row))
	}
	return items, nil
}

// SaveAttachmentRef inserts ref unless one already exists for (story, filename).
func (r *RecordRepository) SaveAttachmentRef(ctx context.Context, ref ports.AttachmentRef) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(ref.StoryID) == "" || strings.TrimSpace(ref.Filename) == "" {
		return storeErr(errors.New("story id and filename are required"), "validate attachment reference")
	}

	row := model.AttachmentReference{
		StoryID:        ref.StoryID,
		Filename:       ref.Filename,
		ExternalFileID: ref.ExternalFileID,
		ByteSize:       ref.ByteSize,
		LocalPath:      ref.LocalPath,
		CreatedAt:      timestampOrNow(ref.CreatedAt),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "story_id"}, {Name: "filename"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return storeErr(err, "insert attachment reference")
	}
	return nil
}

func (r *RecordRepository) FindArtifact(ctx context.Context, storyID string, assistantID string) (ports.Artifact, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Artifact{}, false, err
	}

	var row model.GeneratedArtifact
	if err := db.Where("story_id = ? AND assistant_id = ?", storyID, assistantID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Artifact{}, false, nil
		}
		return ports.Artifact{}, false, storeErr(err, "query generated artifact")
	}
	return mapArtifact(row), true, nil
}

func (r *RecordRepository) ListArtifacts(ctx context.Context, storyID string) ([]ports.Artifact, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.GeneratedArtifact
	if err := db.Where("story_id = ?", storyID).
		Order("generated_artifact_id asc").
		Find(&rows).Error; err != nil {
		return nil, storeErr(err, "query generated artifacts")
	}

	items := make([]ports.Artifact, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapArtifact(row))
	}
	return items, nil
}

// SaveArtifact stores the first artifact per (story, assistant). Later saves are ignored so
// a cached generation is never replaced.
func (r *RecordRepository) SaveArtifact(ctx context.Context, artifact ports.Artifact) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(artifact.StoryID) == "" || strings.TrimSpace(artifact.AssistantID) == "" {
		return storeErr(errors.New("story id and assistant id are required"), "validate generated artifact")
	}

	row := model.GeneratedArtifact{
		StoryID:        artifact.StoryID,
		AssistantID:    artifact.AssistantID,
		Stage:          string(artifact.Stage),
		ConversationID: artifact.ConversationID,
		RunID:          artifact.RunID,
		MessageID:      artifact.MessageID,
		Title:          artifact.Title,
		Payload:        datatypes.JSON(artifact.Payload),
		CreatedAt:      timestampOrNow(artifact.CreatedAt),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "story_id"}, {Name: "assistant_id"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return storeErr(err, "insert generated artifact")
	}
	return nil
}

func (r *RecordRepository) FindTestIssueSet(ctx context.Context, storyID string) (ports.TestIssueSet, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.TestIssueSet{}, false, err
	}

	var row model.TestIssueSet
	if err := db.Where("story_id = ?", storyID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.TestIssueSet{}, false, nil
		}
		return ports.TestIssueSet{}, false, storeErr(err, "query test issue set")
	}
	return mapTestIssueSet(row), true, nil
}

func (r *RecordRepository) SaveTestIssueSet(ctx context.Context, set ports.TestIssueSet) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(set.StoryID) == "" {
		return storeErr(errors.New("story id is required"), "validate test issue set")
	}

	row := model.TestIssueSet{
		StoryID:      set.StoryID,
		TestIssueIDs: datatypes.JSONSlice[string](append([]string{}, set.TestIssueIDs...)),
		UpdatedAt:    timestampOrNow(set.UpdatedAt),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "story_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"test_issue_ids", "updated_at"}),
	}).Create(&row).Error; err != nil {
		return storeErr(err, "upsert test issue set")
	}
	return nil
}

type storyCount struct {
	StoryID string
	Total   int
}

// ListStories returns one summary per story known to any table, ordered by story id.
func (r *RecordRepository) ListStories(ctx context.Context) ([]ports.StoryRecord, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	byStory := map[string]*ports.StoryRecord{}
	record := func(storyID string) *ports.StoryRecord {
		item, ok := byStory[storyID]
		if !ok {
			item = &ports.StoryRecord{StoryID: storyID}
			byStory[storyID] = item
		}
		return item
	}

	var attachmentCounts []storyCount
	if err := db.Model(&model.AttachmentReference{}).
		Select("story_id, count(*) as total").
		Group("story_id").
		Scan(&attachmentCounts).Error; err != nil {
		return nil, storeErr(err, "count attachment references")
	}
	for _, row := range attachmentCounts {
		record(row.StoryID).Attachments = row.Total
	}

	var artifactCounts []storyCount
	if err := db.Model(&model.GeneratedArtifact{}).
		Select("story_id, count(*) as total").
		Group("story_id").
		Scan(&artifactCounts).Error; err != nil {
		return nil, storeErr(err, "count generated artifacts")
	}
	for _, row := range artifactCounts {
		record(row.StoryID).Artifacts = row.Total
	}

	var sets []model.TestIssueSet
	if err := db.Find(&sets).Error; err != nil {
		return nil, storeErr(err, "query test issue sets")
	}
	for _, row := range sets {
		item := record(row.StoryID)
		item.TestIssues = len(row.TestIssueIDs)
		item.Processed = len(row.TestIssueIDs) > 0
		item.UpdatedAt = row.UpdatedAt
	}

	items := make([]ports.StoryRecord, 0, len(byStory))
	for _, item := range byStory {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StoryID < items[j].StoryID })
	return items, nil
}

// DeleteStory forgets everything recorded for storyID so the next run regenerates it.
func (r *RecordRepository) DeleteStory(ctx context.Context, storyID string) error {
	if strings.TrimSpace(storyID) == "" {
		return storeErr(errors.New("story id is required"), "validate story id")
	}

	if ports.TxFromContext(ctx) != nil {
		db, err := r.dbFromContext(ctx)
		if err != nil {
			return err
		}
		if err := db.Where("story_id = ?", storyID).Delete(&model.AttachmentReference{}).Error; err != nil {
			return storeErr(err, "delete attachment references")
		}
		if err := db.Where("story_id = ?", storyID).Delete(&model.GeneratedArtifact{}).Error; err != nil {
			return storeErr(err, "delete generated artifacts")
		}
		if err := db.Where("story_id = ?", storyID).Delete(&model.TestIssueSet{}).Error; err != nil {
			return storeErr(err, "delete test issue set")
		}
		return nil
	}

	if ctx == nil {
		return errors.New("context is required")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := ports.WithTxContext(ctx, tx)
		return r.DeleteStory(txCtx, storyID)
	})
}

func storeErr(err error, msg string) error {
	return errs.Mark(errs.WithStack(errs.Wrap(err, msg)), domaintestgen.ErrRecordStoreFailure)
}

func timestampOrNow(value string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func mapAttachmentRef(row model.AttachmentReference) ports.AttachmentRef {
	return ports.AttachmentRef{
		StoryID:        row.StoryID,
		Filename:       row.Filename,
		ExternalFileID: row.ExternalFileID,
		ByteSize:       row.ByteSize,
		LocalPath:      row.LocalPath,
		CreatedAt:      row.CreatedAt,
	}
}

func mapArtifact(row model.GeneratedArtifact) ports.Artifact {
	return ports.Artifact{
		StoryID:        row.StoryID,
		AssistantID:    row.AssistantID,
		Stage:          domaintestgen.Stage(row.Stage),
		ConversationID: row.ConversationID,
		RunID:          row.RunID,
		MessageID:      row.MessageID,
		Title:          row.Title,
		Payload:        []byte(row.Payload),
		CreatedAt:      row.CreatedAt,
	}
}

func mapTestIssueSet(row model.TestIssueSet) ports.TestIssueSet {
	ids := make([]string, 0, len(row.TestIssueIDs))
	ids = append(ids, row.TestIssueIDs...)
	return ports.TestIssueSet{
		StoryID:      row.StoryID,
		TestIssueIDs: ids,
		UpdatedAt:    row.UpdatedAt,
	}
}
