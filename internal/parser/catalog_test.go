package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

const catalogYAML = `
procedures:
  - id: P1
    asset_type: Pump
    name: Pump check
    steps:
      - step_number: 2
        description: Run pump
        required_verifiers: 2
      - step_number: 1
        description: Inspect
        fields_dsl: "psi|Pressure|number|y|psi"
        fields:
          - key: note
            label: Note
            type: multiline
`

func TestLoadCatalogYAML(t *testing.T) {
	procs, err := LoadCatalogYAML(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.Len(t, procs, 1)

	p := procs[0]
	assert.Equal(t, DefaultDurationMinutes, p.EstimatedDurationMinutes)
	assert.Equal(t, []int{1, 2}, p.StepNumbers())
	assert.Equal(t, 1, p.Steps[0].RequiredVerifiers)
	assert.Equal(t, 2, p.Steps[1].RequiredVerifiers)
	require.Len(t, p.Steps[0].Fields, 2)
	assert.Equal(t, models.FieldMultiline, p.Steps[0].Fields[0].Type)
	assert.Equal(t, "psi", p.Steps[0].Fields[1].Unit)
}

func TestLoadCatalogYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing id", "procedures:\n  - name: x\n"},
		{"duplicate id", "procedures:\n  - id: a\n  - id: a\n"},
		{"duplicate step", "procedures:\n  - id: a\n    steps:\n      - step_number: 1\n      - step_number: 1\n"},
		{"unknown key", "procedures:\n  - id: a\n    colour: red\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalogYAML(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}

const procedureMarkdown = `---
id: P9
asset_type: Fan
duration: 20
---
# Fan check

Intro text is ignored.

## Step 2: Spin up
Expected: Runs quietly
Verifiers: 2

## Step 1: Inspect blades
Look for chips.
Warning: Isolate power first
Fields: rpm|Speed|number|y|rpm; Comment

## Notes
Not a step.
`

func TestParseProcedureMarkdown(t *testing.T) {
	p, err := ParseProcedureMarkdown(procedureMarkdown)
	require.NoError(t, err)

	assert.Equal(t, "P9", p.ID)
	assert.Equal(t, "Fan", p.AssetType)
	assert.Equal(t, "Fan check", p.Name)
	assert.Equal(t, 20, p.EstimatedDurationMinutes)
	require.Equal(t, []int{1, 2}, p.StepNumbers())

	assert.Equal(t, "Inspect blades Look for chips.", p.Steps[0].Description)
	assert.Equal(t, "Isolate power first", p.Steps[0].WarningNotes)
	require.Len(t, p.Steps[0].Fields, 2)
	assert.Equal(t, "rpm", p.Steps[0].Fields[0].Unit)
	assert.Equal(t, "Runs quietly", p.Steps[1].ExpectedResult)
	assert.Equal(t, 2, p.Steps[1].RequiredVerifiers)
}

func TestParseProcedureMarkdownMissingID(t *testing.T) {
	_, err := ParseProcedureMarkdown("# No frontmatter\n## Step 1\nDo it\n")
	assert.Error(t, err)
}

func TestLoadCatalogDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pumps.yaml"), []byte(catalogYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fan.md"), []byte(procedureMarkdown), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))

	procs, err := LoadCatalog(dir)
	require.NoError(t, err)
	ids := make([]string, len(procs))
	for i, p := range procs {
		ids[i] = p.ID
	}
	assert.ElementsMatch(t, []string{"P1", "P9"}, ids)
}
