package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/report"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
)

func TestGenerateSchema_Findings(t *testing.T) {
	t.Parallel()

	schema := generateSchema([]engine.Finding{}, "findings", "test")

	assert.Equal(t, draft07, schema.Schema)
	assert.Equal(t, "array", schema.Type)
	require.NotNil(t, schema.Items)
	assert.Equal(t, "#/definitions/Finding", schema.Items.Ref)

	finding := schema.Definitions["Finding"]
	require.NotNil(t, finding)
	assert.Contains(t, finding.Required, "rule_id")
	assert.NotContains(t, finding.Required, "metavariables")
	assert.Equal(t, "#/definitions/Position", finding.Properties["start"].Ref)
}

func TestGenerateSchema_StructRoot(t *testing.T) {
	t.Parallel()

	schema := generateSchema(&engine.Result{}, "result", "test")

	assert.Equal(t, "object", schema.Type)
	assert.NotContains(t, schema.Properties, "Fatal")
	assert.Equal(t, "integer", schema.Definitions["Stats"].Properties["duration"].Type)
	assert.NotContains(t, schema.Definitions, "Result")
}

func TestGenerateSchema_ValidatesRenderedJSON(t *testing.T) {
	t.Parallel()

	findings := []engine.Finding{{
		RuleID:        "clipboard",
		Path:          "Main.java",
		Severity:      rules.SeverityWarning,
		Message:       "clipboard accessed through clip",
		Snippet:       "clip.setContents(sel, owner)",
		Fingerprint:   engine.Fingerprint("clipboard", "Main.java", "clip.setContents(sel, owner)"),
		Metavariables: map[string]string{"$CLIP": "clip"},
		Start:         engine.Position{Line: 3, Col: 5, Offset: 30},
		End:           engine.Position{Line: 3, Col: 33, Offset: 58},
	}}

	rendered, err := report.Render(findings, report.FormatJSON, report.Options{})
	require.NoError(t, err)

	schema, err := json.Marshal(generateSchema([]engine.Finding{}, "findings", "test"))
	require.NoError(t, err)

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(rendered))
	require.NoError(t, err)
	assert.True(t, result.Valid(), "%v", result.Errors())
}

func TestWriteSchema(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	out := outputs["ruletest-report"]

	require.NoError(t, writeSchema(dir, "ruletest-report", generateSchema(out.value, out.title, out.description)))

	data, err := os.ReadFile(filepath.Join(dir, "ruletest-report.json"))
	require.NoError(t, err)

	var decoded Schema
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, out.title, decoded.Title)
	assert.Contains(t, decoded.Definitions, "FileResult")
}
