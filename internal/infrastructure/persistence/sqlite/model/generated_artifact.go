package model

import "gorm.io/datatypes"

type GeneratedArtifact struct {
	GeneratedArtifactID uint64         `gorm:"column:generated_artifact_id;primaryKey;autoIncrement"`
	StoryID             string         `gorm:"column:story_id;type:text;not null;uniqueIndex:ux_artifact_story_assistant,priority:1"`
	AssistantID         string         `gorm:"column:assistant_id;type:text;not null;uniqueIndex:ux_artifact_story_assistant,priority:2"`
	Stage               string         `gorm:"column:stage;type:text;not null"`
	ConversationID      string         `gorm:"column:conversation_id;type:text;not null"`
	RunID               string         `gorm:"column:run_id;type:text;not null"`
	MessageID           string         `gorm:"column:message_id;type:text;not null"`
	Title               string         `gorm:"column:title;type:text;not null"`
	Payload             datatypes.JSON `gorm:"column:payload;not null"`
	CreatedAt           string         `gorm:"column:created_at;type:text;not null"`
}

func (GeneratedArtifact) TableName() string {
	return "generated_artifacts"
}
