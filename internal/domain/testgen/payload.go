package testgen

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Stage selects which assistant transformation produced a payload.
type Stage string

const (
	StageTicket    Stage = "ticket"
	StageTestCases Stage = "testcases"
)

func ParseStage(raw string) (Stage, error) {
	switch stage := Stage(strings.ToLower(strings.TrimSpace(raw))); stage {
	case StageTicket, StageTestCases:
		return stage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
	}
}

type TestCaseType string

const (
	TestCasePositive TestCaseType = "positive"
	TestCaseNegative TestCaseType = "negative"
)

type TestCase struct {
	Title           string       `json:"title" jsonschema:"minLength=1"`
	Steps           []string     `json:"steps"`
	ExpectedResults string       `json:"expectedResults"`
	Type            TestCaseType `json:"type" jsonschema:"enum=positive,enum=negative"`
}

type TestCaseSet struct {
	EpicNumber      string     `json:"epicNumber,omitempty"`
	UserStoryNumber string     `json:"userStoryNumber,omitempty"`
	TestCases       []TestCase `json:"testCases"`
	EdgeCases       []TestCase `json:"edgeCases,omitempty"`
}

// EnrichedTicket is the ticket stage output. Only the story identity is typed; the rest of
// the object is passed to the next stage untouched.
type EnrichedTicket struct {
	UserStoryNumber string `json:"userStoryNumber"`
	Title           string `json:"title,omitempty"`
}

// Payload is the validated output of one assistant stage. Raw holds the canonical JSON that
// is persisted and, for the ticket stage, forwarded to the next stage.
type Payload struct {
	Stage     Stage
	Raw       json.RawMessage
	Ticket    *EnrichedTicket
	TestCases *TestCaseSet
}

// ParsePayload validates assistant text for stage. A missing story identifier is filled in
// with storyKey; a different one is rejected.
func ParsePayload(stage Stage, storyKey string, text string) (Payload, error) {
	if strings.TrimSpace(storyKey) == "" {
		return Payload{}, ErrStoryKeyRequired
	}

	raw := []byte(stripCodeFence(text))
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return Payload{}, fmt.Errorf("%w: %s output is not a JSON object", ErrMalformedAssistantOutput, stage)
	}

	raw, err := reconcileStoryNumber(raw, storyKey)
	if err != nil {
		return Payload{}, err
	}

	switch stage {
	case StageTicket:
		ticket := EnrichedTicket{
			UserStoryNumber: storyKey,
			Title:           firstString(raw, "title", "Title"),
		}
		return Payload{Stage: stage, Raw: raw, Ticket: &ticket}, nil
	case StageTestCases:
		set, err := parseTestCaseSet(raw)
		if err != nil {
			return Payload{}, err
		}
		return Payload{Stage: stage, Raw: raw, TestCases: &set}, nil
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownStage, string(stage))
	}
}

func reconcileStoryNumber(raw []byte, storyKey string) ([]byte, error) {
	existing := firstString(raw, "userStoryNumber", `User Story \#`)
	if existing != "" && existing != storyKey {
		return nil, fmt.Errorf("%w: story number %q does not match %q", ErrMalformedAssistantOutput, existing, storyKey)
	}
	if gjson.GetBytes(raw, "userStoryNumber").Exists() {
		return raw, nil
	}
	patched, err := sjson.SetBytes(raw, "userStoryNumber", storyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: set story number: %v", ErrMalformedAssistantOutput, err)
	}
	return patched, nil
}

func parseTestCaseSet(raw []byte) (TestCaseSet, error) {
	if !gjson.GetBytes(raw, "testCases").IsArray() {
		return TestCaseSet{}, fmt.Errorf("%w: testCases must be an array", ErrMalformedAssistantOutput)
	}
	if edge := gjson.GetBytes(raw, "edgeCases"); edge.Exists() && edge.Type != gjson.Null && !edge.IsArray() {
		return TestCaseSet{}, fmt.Errorf("%w: edgeCases must be an array", ErrMalformedAssistantOutput)
	}

	var set TestCaseSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return TestCaseSet{}, fmt.Errorf("%w: %v", ErrMalformedAssistantOutput, err)
	}
	if err := validateTestCases("testCases", set.TestCases); err != nil {
		return TestCaseSet{}, err
	}
	if err := validateTestCases("edgeCases", set.EdgeCases); err != nil {
		return TestCaseSet{}, err
	}
	if set.TestCases == nil {
		set.TestCases = []TestCase{}
	}
	return set, nil
}

func validateTestCases(field string, cases []TestCase) error {
	for i := range cases {
		tc := &cases[i]
		tc.Title = strings.TrimSpace(tc.Title)
		if tc.Title == "" {
			return fmt.Errorf("%w: %s[%d].title is empty", ErrMalformedAssistantOutput, field, i)
		}
		tc.Type = TestCaseType(strings.ToLower(strings.TrimSpace(string(tc.Type))))
		if tc.Type != TestCasePositive && tc.Type != TestCaseNegative {
			return fmt.Errorf("%w: %s[%d].type %q is not positive or negative", ErrMalformedAssistantOutput, field, i, tc.Type)
		}
		for j, step := range tc.Steps {
			if strings.TrimSpace(step) == "" {
				return fmt.Errorf("%w: %s[%d].steps[%d] is empty", ErrMalformedAssistantOutput, field, i, j)
			}
		}
	}
	return nil
}

func firstString(raw []byte, paths ...string) string {
	for _, path := range paths {
		if value := gjson.GetBytes(raw, path); value.Type == gjson.String {
			if s := strings.TrimSpace(value.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// stripCodeFence unwraps a ```json ... ``` block, which assistants emit despite instructions.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
