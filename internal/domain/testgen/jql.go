package testgen

import (
	"fmt"
	"strings"
)

var jqlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// EscapeJQLString escapes backslashes and double quotes so s can sit inside a quoted JQL literal.
func EscapeJQLString(s string) string {
	return jqlEscaper.Replace(s)
}

// ExactSummaryJQL searches for issues of one type whose summary contains title as a phrase.
// Callers still compare summaries exactly; the phrase search only narrows candidates.
func ExactSummaryJQL(projectKey string, issueTypeID string, title string) string {
	return fmt.Sprintf(
		`project = %s AND issuetype = %s AND summary ~ "\"%s\"" ORDER BY created DESC`,
		projectKey, issueTypeID, EscapeJQLString(title),
	)
}

// StoryFilterJQL selects the open-sprint stories that still need test cases.
func StoryFilterJQL(projectKey string, excludedStatuses []string) string {
	clauses := []string{
		"project = " + projectKey,
		"issuetype = Story",
		"sprint in openSprints()",
	}
	if len(excludedStatuses) > 0 {
		quoted := make([]string, 0, len(excludedStatuses))
		for _, status := range excludedStatuses {
			status = strings.TrimSpace(status)
			if status == "" {
				continue
			}
			if strings.ContainsAny(status, " \"\\") {
				status = `"` + EscapeJQLString(status) + `"`
			}
			quoted = append(quoted, status)
		}
		if len(quoted) > 0 {
			clauses = append(clauses, "status NOT IN ("+strings.Join(quoted, ", ")+")")
		}
	}
	return strings.Join(clauses, " AND ") + " ORDER BY created DESC"
}
