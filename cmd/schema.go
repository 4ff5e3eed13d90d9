package cmd

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
)

var schemaStage string

// schemaCmd prints the JSON schema an assistant's output must satisfy for one stage.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of a stage payload",
	RunE: func(cmd *cobra.Command, _ []string) error {
		stage, err := domaintestgen.ParseStage(schemaStage)
		if err != nil {
			return errs.Wrap(err, "parse stage")
		}

		out, err := json.MarshalIndent(stageSchema(stage), "", "  ")
		if err != nil {
			return errs.Wrap(err, "marshal schema")
		}
		out = append(out, '\n')
		if _, err := cmd.OutOrStdout().Write(out); err != nil {
			return errs.Wrap(err, "write schema output")
		}
		return nil
	},
}

func stageSchema(stage domaintestgen.Stage) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
	}
	if stage == domaintestgen.StageTicket {
		// Only the story identity is fixed; the rest of the ticket is free-form.
		reflector.AllowAdditionalProperties = true
		return reflector.Reflect(&domaintestgen.EnrichedTicket{})
	}
	return reflector.Reflect(&domaintestgen.TestCaseSet{})
}

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().StringVar(&schemaStage, "stage", string(domaintestgen.StageTestCases), "Stage: ticket or testcases")
}
