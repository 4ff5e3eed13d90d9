package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Outcome is how a story ended within a run.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeReused    Outcome = "reused"
	OutcomeFailed    Outcome = "failed"
)

// SummaryRow is one line of the end-of-run console table.
type SummaryRow struct {
	Story       string
	Title       string
	Outcome     Outcome
	TestsTotal  int
	TestsFailed int
	Note        string
}

// WriteSummary prints the run summary as a table.
func WriteSummary(w io.Writer, rows []SummaryRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Story", "Title", "Outcome", "Tests", "Failed", "Note"})
	processed, reused, failed := 0, 0, 0
	for _, r := range rows {
		switch r.Outcome {
		case OutcomeProcessed:
			processed++
		case OutcomeReused:
			reused++
		case OutcomeFailed:
			failed++
		}
		tw.AppendRow(table.Row{r.Story, shorten(r.Title, 60), string(r.Outcome), r.TestsTotal, r.TestsFailed, r.Note})
	}
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d/%d", processed, reused, failed), "", "", ""})
	tw.Render()
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
