package testgen

import (
	"encoding/json"
	"testing"
)

func TestTestPlanName(t *testing.T) {
	if got := TestPlanName("Sprint 44", ""); got != "Sprint 44" {
		t.Fatalf("TestPlanName() = %q", got)
	}
	if got := TestPlanName(" Sprint 44 ", " Regression "); got != "Sprint 44 - Regression" {
		t.Fatalf("TestPlanName() = %q", got)
	}
	if got := ReportFileName(TestPlanName("Sprint 44", "Regression")); got != "Sprint 44 - Regression_test_case_document.xlsx" {
		t.Fatalf("ReportFileName() = %q", got)
	}
}

func TestContainerIssueNames(t *testing.T) {
	if got := TestExecutionName("Sprint 44", "WCX-5630"); got != "Sprint 44 - [WCX-5630] - Automated" {
		t.Fatalf("TestExecutionName() = %q", got)
	}
	if got := TestSetName("Sprint 44", "WCX-5630"); got != "Sprint 44 - [WCX-5630] - Test Set" {
		t.Fatalf("TestSetName() = %q", got)
	}
}

func TestTestTitleAndUnstructuredBody(t *testing.T) {
	tc := TestCase{
		Title:           "t1",
		Steps:           []string{"a", "b"},
		ExpectedResults: "r1",
		Type:            TestCasePositive,
	}

	if got := TestTitle("WCX-5630", tc); got != "[WCX-5630] t1" {
		t.Fatalf("TestTitle() = %q", got)
	}

	want := "*Steps:*\n1. a\n2. b\n\n*Expected Results:*\nr1\n\n*Type:* positive"
	if got := UnstructuredBody(tc); got != want {
		t.Fatalf("UnstructuredBody() = %q, want %q", got, want)
	}
}

func TestNewStoryPromptDefaultsAndOrder(t *testing.T) {
	prompt := NewStoryPrompt(Story{
		Key:       "WCX-5630",
		Title:     "Role permission parameters",
		Priority:  "High",
		Developer: "Dev One",
	}, "QA Team")

	raw, err := json.Marshal(prompt)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `{"userStoryNumber":"WCX-5630","Epic #":"No parent provided.","User Story #":"WCX-5630",` +
		`"Title":"Role permission parameters","Description":"No description provided.",` +
		`"Acceptance Criteria":"No acceptance criteria provided.","Priority":"High","Developer":"Dev One",` +
		`"QA":"QA Team","Product Owner":""}`
	if string(raw) != want {
		t.Fatalf("prompt json = %s\nwant %s", raw, want)
	}
}
