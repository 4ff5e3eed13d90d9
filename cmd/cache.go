package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"qagen/internal/bootstrap"
	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
	"qagen/internal/ports"
	"qagen/internal/usecase/testgen"
)

var (
	cacheShowFormat string
	cacheResetAll   bool
	cacheResetPlan  string
)

// cacheCmd groups the record store maintenance commands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the per-story record store",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories with stored records",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *testgen.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		stories, err := svc.ListStories(ctx)
		if err != nil {
			logging.Error(ctx, "list stories failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list stories")
		}
		writeStoryTable(cmd.OutOrStdout(), stories)
		return nil
	}),
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <story-key>",
	Short: "Print everything stored for one story",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *testgen.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		key := strings.TrimSpace(cmd.Flags().Arg(0))

		records, found, err := svc.StoryRecords(ctx, key)
		if err != nil {
			logging.Error(ctx, "load story records failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "load story records")
		}
		if !found {
			return fmt.Errorf("no records stored for story %s", key)
		}
		return writeRecords(cmd.OutOrStdout(), cacheShowFormat, records)
	}),
}

var cacheResetCmd = &cobra.Command{
	Use:   "reset [story-key...]",
	Short: "Forget stored records so stories are processed again",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *testgen.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		keys := cmd.Flags().Args()
		if plan := strings.TrimSpace(cacheResetPlan); plan != "" {
			if len(keys) > 0 || cacheResetAll {
				return errors.New("--plan cannot be combined with story keys or --all")
			}
			found, err := svc.ForgetTestPlan(ctx, plan)
			if err != nil {
				logging.Error(ctx, "forget test plan failed", slog.Any("err", errs.Loggable(err)))
				return errs.Wrap(err, "forget test plan")
			}
			msg := "no cached test plan %q\n"
			if found {
				msg = "forgot cached test plan %q\n"
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), msg, plan); err != nil {
				return errs.Wrap(err, "write reset output")
			}
			return nil
		}
		if len(keys) == 0 && !cacheResetAll {
			return errors.New("pass story keys or --all")
		}
		if len(keys) > 0 && cacheResetAll {
			return errors.New("story keys and --all are mutually exclusive")
		}

		removed, err := svc.ResetStories(ctx, keys...)
		if err != nil {
			logging.Error(ctx, "reset stories failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "reset stories")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "reset %d stories\n", removed); err != nil {
			return errs.Wrap(err, "write reset output")
		}
		return nil
	}),
}

func writeStoryTable(w io.Writer, stories []ports.StoryRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Story", "Attachments", "Artifacts", "Tests", "Processed", "Updated"})
	for _, s := range stories {
		tw.AppendRow(table.Row{s.StoryID, s.Attachments, s.Artifacts, s.TestIssues, s.Processed, s.UpdatedAt})
	}
	tw.Render()
}

func writeRecords(w io.Writer, format string, records testgen.StoryRecords) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return errs.Wrap(err, "encode records yaml")
		}
		return errs.Wrap(enc.Close(), "close yaml encoder")
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return errs.Wrap(err, "encode records json")
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheShowCmd, cacheResetCmd)

	cacheShowCmd.Flags().StringVar(&cacheShowFormat, "format", "yaml", "Output format: yaml or json")
	cacheResetCmd.Flags().BoolVar(&cacheResetAll, "all", false, "Reset every story and the memoized test plans")
	cacheResetCmd.Flags().StringVar(&cacheResetPlan, "plan", "", "Forget the memoized issue for one test plan name, e.g. \"Sprint 44 - Regression\"")
}
