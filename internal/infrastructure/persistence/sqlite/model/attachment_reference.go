package model

type AttachmentReference struct {
	AttachmentReferenceID uint64 `gorm:"column:attachment_reference_id;primaryKey;autoIncrement"`
	StoryID               string `gorm:"column:story_id;type:text;not null;uniqueIndex:ux_attachment_story_filename,priority:1"`
	Filename              string `gorm:"column:filename;type:text;not null;uniqueIndex:ux_attachment_story_filename,priority:2"`
	ExternalFileID        string `gorm:"column:external_file_id;type:text;not null"`
	ByteSize              int64  `gorm:"column:byte_size;not null;default:0"`
	LocalPath             string `gorm:"column:local_path;type:text;not null"`
	CreatedAt             string `gorm:"column:created_at;type:text;not null"`
}

func (AttachmentReference) TableName() string {
	return "attachment_references"
}
