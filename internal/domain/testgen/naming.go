package testgen

import (
	"fmt"
	"strings"
)

// TestPlanName joins the plan name and the optional plan type: "Sprint 44 - Regression".
func TestPlanName(planName string, planType string) string {
	planName = strings.TrimSpace(planName)
	planType = strings.TrimSpace(planType)
	if planType == "" {
		return planName
	}
	return planName + " - " + planType
}

func TestExecutionName(planName string, storyKey string) string {
	return fmt.Sprintf("%s - [%s] - Automated", strings.TrimSpace(planName), storyKey)
}

func TestSetName(planName string, storyKey string) string {
	return fmt.Sprintf("%s - [%s] - Test Set", strings.TrimSpace(planName), storyKey)
}

func TestTitle(storyKey string, tc TestCase) string {
	return fmt.Sprintf("[%s] %s", storyKey, tc.Title)
}

// UnstructuredBody renders a test case as the Jira wiki markup stored on a Generic test.
func UnstructuredBody(tc TestCase) string {
	var b strings.Builder
	b.WriteString("*Steps:*\n")
	for i, step := range tc.Steps {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, step)
	}
	b.WriteString("\n\n*Expected Results:*\n")
	b.WriteString(tc.ExpectedResults)
	b.WriteString("\n\n*Type:* ")
	b.WriteString(string(tc.Type))
	return b.String()
}

func ReportFileName(testPlanName string) string {
	return testPlanName + "_test_case_document.xlsx"
}
