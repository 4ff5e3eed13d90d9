package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"qagen/internal/bootstrap"
	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
	"qagen/internal/usecase/testgen"
)

var (
	reportPlanName  string
	reportPlanType  string
	reportEdgeCases bool
)

// reportCmd re-renders the document from stored records without calling any remote service.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the test case document from stored records only",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *testgen.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		path, entries, err := svc.RenderStored(ctx, testgen.RunInput{
			PlanName:         strings.TrimSpace(reportPlanName),
			PlanType:         strings.TrimSpace(reportPlanType),
			IncludeEdgeCases: reportEdgeCases,
		})
		if err != nil {
			logging.Error(ctx, "render stored report failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "render stored report")
		}

		logging.Info(ctx, "report rendered", slog.String("path", path), slog.Int("stories", len(entries)))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "report: %s (%d stories)\n", path, len(entries)); err != nil {
			return errs.Wrap(err, "write report output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportPlanName, "plan-name", "", "Test plan name used for the file and title")
	reportCmd.Flags().StringVar(&reportPlanType, "plan-type", "", "Optional test plan type suffix")
	reportCmd.Flags().BoolVar(&reportEdgeCases, "edge-cases", false, "Include edge cases in the report")
	_ = reportCmd.MarkFlagRequired("plan-name")
}
