package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	domaintestgen "qagen/internal/domain/testgen"
)

func TestStageSchemaTestCases(t *testing.T) {
	raw, err := json.Marshal(stageSchema(domaintestgen.StageTestCases))
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}

	var doc struct {
		Required   []string                   `json:"required"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if _, ok := doc.Properties["testCases"]; !ok {
		t.Fatalf("schema properties = %v, want testCases", doc.Properties)
	}
	if !bytes.Contains(raw, []byte(`"negative"`)) {
		t.Fatalf("schema missing type enum: %s", raw)
	}
	found := false
	for _, name := range doc.Required {
		if name == "testCases" {
			found = true
		}
	}
	if !found {
		t.Fatalf("required = %v, want testCases", doc.Required)
	}
}

func TestSchemaCommandRejectsUnknownStage(t *testing.T) {
	var out bytes.Buffer
	schemaCmd.SetOut(&out)
	t.Cleanup(func() {
		schemaCmd.SetOut(nil)
		schemaStage = string(domaintestgen.StageTestCases)
	})

	schemaStage = "summary"
	if err := schemaCmd.RunE(schemaCmd, nil); err == nil {
		t.Fatalf("schema RunE expected error for unknown stage")
	}

	schemaStage = "ticket"
	if err := schemaCmd.RunE(schemaCmd, nil); err != nil {
		t.Fatalf("schema RunE error = %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("userStoryNumber")) {
		t.Fatalf("ticket schema = %s", out.String())
	}
}
