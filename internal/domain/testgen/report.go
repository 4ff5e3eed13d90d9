package testgen

// ReportEntry is one story's section of the test case document.
type ReportEntry struct {
	Title           string     `json:"title"`
	EpicNumber      string     `json:"epicNumber"`
	UserStoryNumber string     `json:"userStoryNumber"`
	TestCases       []TestCase `json:"testCases"`
	EdgeCases       []TestCase `json:"edgeCases,omitempty"`
}

// NewReportEntry builds the report section for a story from its test case set. The story's
// key and epic fill in whatever the set leaves blank. Edge cases are carried only when they
// were materialized as tests.
func NewReportEntry(story Story, title string, set TestCaseSet, includeEdgeCases bool) ReportEntry {
	entry := ReportEntry{
		Title:           title,
		EpicNumber:      set.EpicNumber,
		UserStoryNumber: set.UserStoryNumber,
		TestCases:       set.TestCases,
	}
	if entry.UserStoryNumber == "" {
		entry.UserStoryNumber = story.Key
	}
	if entry.EpicNumber == "" {
		entry.EpicNumber = story.EpicKey
	}
	if entry.TestCases == nil {
		entry.TestCases = []TestCase{}
	}
	if includeEdgeCases && len(set.EdgeCases) > 0 {
		entry.EdgeCases = set.EdgeCases
	}
	return entry
}

// MaterializedCases returns the cases that become test issues, in creation order.
func (s TestCaseSet) MaterializedCases(includeEdgeCases bool) []TestCase {
	cases := make([]TestCase, 0, len(s.TestCases)+len(s.EdgeCases))
	cases = append(cases, s.TestCases...)
	if includeEdgeCases {
		cases = append(cases, s.EdgeCases...)
	}
	return cases
}
