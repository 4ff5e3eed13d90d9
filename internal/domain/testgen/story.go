package testgen

import "strings"

const (
	DefaultEpic               = "No parent provided."
	DefaultDescription        = "No description provided."
	DefaultAcceptanceCriteria = "No acceptance criteria provided."
)

// Story is a user story as fetched from the issue tracker for one run.
type Story struct {
	Key                string
	Title              string
	Description        string
	AcceptanceCriteria string
	Priority           string
	Developer          string
	ProductOwner       string
	EpicKey            string
}

type Attachment struct {
	ID         string
	Filename   string
	ContentURL string
	MimeType   string
	Size       int64
}

type StoryDetail struct {
	Story
	Attachments []Attachment
}

// StoryPrompt is the flat record handed to the ticket stage. Field order is the
// order the assistant sees.
type StoryPrompt struct {
	UserStoryNumber    string `json:"userStoryNumber"`
	Epic               string `json:"Epic #"`
	UserStory          string `json:"User Story #"`
	Title              string `json:"Title"`
	Description        string `json:"Description"`
	AcceptanceCriteria string `json:"Acceptance Criteria"`
	Priority           string `json:"Priority"`
	Developer          string `json:"Developer"`
	QA                 string `json:"QA"`
	ProductOwner       string `json:"Product Owner"`
}

func NewStoryPrompt(story Story, qaOwner string) StoryPrompt {
	return StoryPrompt{
		UserStoryNumber:    story.Key,
		Epic:               orDefault(story.EpicKey, DefaultEpic),
		UserStory:          story.Key,
		Title:              story.Title,
		Description:        orDefault(story.Description, DefaultDescription),
		AcceptanceCriteria: orDefault(story.AcceptanceCriteria, DefaultAcceptanceCriteria),
		Priority:           story.Priority,
		Developer:          story.Developer,
		QA:                 qaOwner,
		ProductOwner:       story.ProductOwner,
	}
}

func orDefault(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
