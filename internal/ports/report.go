package ports

import (
	"context"

	domaintestgen "qagen/internal/domain/testgen"
)

type ReportRenderer interface {
	// Render writes the test case document and returns its path.
	Render(ctx context.Context, testPlanName string, entries []domaintestgen.ReportEntry) (string, error)
}
