package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"qagen/internal/bootstrap"
	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
	reportinfra "qagen/internal/infrastructure/report"
	"qagen/internal/usecase/planprompt"
	"qagen/internal/usecase/testgen"
)

var (
	generatePlanName  string
	generatePlanType  string
	generateEdgeCases bool
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate tests, containers and the test case document for open stories",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *testgen.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if err := app.Config.ValidateRemote(); err != nil {
			logging.Error(ctx, "remote configuration incomplete", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "validate remote config")
		}

		answers, err := planprompt.Ask(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), generatePreset(cmd))
		if err != nil {
			if errors.Is(err, planprompt.ErrAborted) {
				logging.Warn(ctx, "generate aborted by operator")
			}
			return errs.Wrap(err, "collect plan answers")
		}

		result, runErr := svc.Run(ctx, testgen.RunInput{
			PlanName:         answers.PlanName,
			PlanType:         answers.PlanType,
			IncludeEdgeCases: answers.IncludeEdgeCases,
		})
		if len(result.Stories) > 0 {
			reportinfra.WriteSummary(cmd.OutOrStdout(), summaryRows(result.Stories))
		}
		if runErr != nil {
			logging.Error(ctx, "generate failed", slog.String("run_id", result.RunID), slog.Any("err", errs.Loggable(runErr)))
			return errs.Wrap(runErr, "run test generation")
		}

		logging.Info(
			ctx,
			"generate finished",
			slog.String("run_id", result.RunID),
			slog.String("test_plan", result.TestPlan.Key),
			slog.Int("stories", len(result.Stories)),
		)
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "test plan %s: %s\nreport: %s\n", result.TestPlan.Key, result.TestPlanName, result.ReportPath); err != nil {
			return errs.Wrap(err, "write generate output")
		}
		return nil
	}),
}

func generatePreset(cmd *cobra.Command) planprompt.Preset {
	flags := cmd.Flags()
	return planprompt.Preset{
		Answers: planprompt.Answers{
			PlanName:         strings.TrimSpace(generatePlanName),
			PlanType:         strings.TrimSpace(generatePlanType),
			IncludeEdgeCases: generateEdgeCases,
		},
		HasPlanName:  flags.Changed("plan-name") && strings.TrimSpace(generatePlanName) != "",
		HasPlanType:  flags.Changed("plan-type"),
		HasEdgeCases: flags.Changed("edge-cases"),
	}
}

func summaryRows(stories []testgen.StoryResult) []reportinfra.SummaryRow {
	rows := make([]reportinfra.SummaryRow, 0, len(stories))
	for _, story := range stories {
		var notes []string
		if story.TestsExisting > 0 {
			notes = append(notes, fmt.Sprintf("%d existing", story.TestsExisting))
		}
		if story.LinkFailures > 0 {
			notes = append(notes, fmt.Sprintf("%d link failures", story.LinkFailures))
		}
		if story.ContainerFailures > 0 {
			notes = append(notes, fmt.Sprintf("%d container failures", story.ContainerFailures))
		}
		rows = append(rows, reportinfra.SummaryRow{
			Story:       story.Key,
			Title:       story.Title,
			Outcome:     reportinfra.Outcome(story.Outcome),
			TestsTotal:  len(story.TestIssueIDs),
			TestsFailed: story.TestsFailed,
			Note:        strings.Join(notes, ", "),
		})
	}
	return rows
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&generatePlanName, "plan-name", "", "Test plan name, e.g. the sprint")
	generateCmd.Flags().StringVar(&generatePlanType, "plan-type", "", "Optional test plan type suffix")
	generateCmd.Flags().BoolVar(&generateEdgeCases, "edge-cases", false, "Include edge cases in the tests and the report")
}
