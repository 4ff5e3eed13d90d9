package model

import "gorm.io/datatypes"

type TestIssueSet struct {
	StoryID      string                      `gorm:"column:story_id;type:text;primaryKey"`
	TestIssueIDs datatypes.JSONSlice[string] `gorm:"column:test_issue_ids;not null"`
	UpdatedAt    string                      `gorm:"column:updated_at;type:text;not null"`
}

func (TestIssueSet) TableName() string {
	return "test_issue_sets"
}
