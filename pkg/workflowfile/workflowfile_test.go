package workflowfile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/dukex/nurture/pkg/workflowfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoader() *workflowfile.Loader {
	return workflowfile.NewLoader(actions.NewDefaultDispatcher(testutil.Logger(), nil, nil, nil))
}

func TestLoadFile_YAML(t *testing.T) {
	t.Parallel()

	workflow, err := newLoader().LoadFile("testdata/workflows/welcome.yaml")
	require.NoError(t, err)

	assert.Equal(t, "welcome-series", workflow.Name)
	assert.Equal(t, models.WorkflowStatusActive, workflow.Status)
	require.Len(t, workflow.Steps, 6)

	graph, err := workflow.Graph()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 8}, graph.Orders())

	condition, ok := workflow.Steps[2].(models.ConditionStep)
	require.True(t, ok)
	assert.Equal(t, models.OperatorGreaterThan, condition.Operator)
	assert.Equal(t, "1", condition.Value)
	assert.Equal(t, 8, condition.Next(false))

	delay, ok := workflow.Steps[1].(models.DelayStep)
	require.True(t, ok)
	assert.Equal(t, models.Delay{Value: 2, Unit: models.DelayUnitDays}, delay.Delay)
}

func TestLoadFile_JSON(t *testing.T) {
	t.Parallel()

	workflow, err := newLoader().LoadFile("testdata/workflows/nested/reengage.json")
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusDraft, workflow.Status)

	action, ok := workflow.Steps[1].(models.ActionStep)
	require.True(t, ok)
	assert.Equal(t, models.ActionCreateTask, action.ActionType)
	assert.Equal(t, "Call {{name}}", action.Params["title"])
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		problem string
	}{
		{
			name:    "missing name",
			yaml:    "steps:\n  - {order: 1, kind: delay}\n",
			problem: "Name",
		},
		{
			name:    "no steps",
			yaml:    "name: empty-flow\nsteps: []\n",
			problem: "Steps",
		},
		{
			name: "duplicate orders",
			yaml: `name: dupes
steps:
  - {order: 1, kind: delay}
  - {order: 1, kind: email, config: {subject: Hi}}
`,
			problem: "duplicate step order",
		},
		{
			name:    "unknown kind",
			yaml:    "name: sms-flow\nsteps:\n  - {order: 1, kind: sms, config: {text: hi}}\n",
			problem: "unknown step kind",
		},
		{
			name:    "unknown delay unit",
			yaml:    "name: slow-flow\nsteps:\n  - {order: 1, kind: delay, delay: {value: 3, unit: fortnights}}\n",
			problem: "invalid delay unit",
		},
		{
			name:    "negative delay",
			yaml:    "name: back-flow\nsteps:\n  - {order: 1, kind: delay, delay: {value: -1, unit: days}}\n",
			problem: "must not be negative",
		},
		{
			name:    "unknown operator",
			yaml:    "name: cond-flow\nsteps:\n  - {order: 1, kind: condition, config: {field: x, operator: matches}}\n",
			problem: "operator",
		},
		{
			name:    "email without subject",
			yaml:    "name: mail-flow\nsteps:\n  - {order: 1, kind: email, config: {body: hi}}\n",
			problem: "subject",
		},
		{
			name:    "unknown action",
			yaml:    "name: act-flow\nsteps:\n  - {order: 1, kind: action, config: {action_type: send_sms}}\n",
			problem: "unknown action",
		},
		{
			name:    "bad action params",
			yaml:    "name: act-flow\nsteps:\n  - {order: 1, kind: action, config: {action_type: add_tag, params: {label: x}}}\n",
			problem: "tag",
		},
		{
			name:    "unknown top-level field",
			yaml:    "name: typo-flow\nstep: []\n",
			problem: "field step not found",
		},
		{
			name:    "zero order",
			yaml:    "name: zero-flow\nsteps:\n  - {order: 0, kind: delay}\n",
			problem: "Order",
		},
	}

	loader := newLoader()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := loader.Parse([]byte(tt.yaml), workflowfile.FormatYAML, "test.yaml")
			require.ErrorIs(t, err, workflowfile.ErrInvalidDefinition)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

func TestLoad_Directory(t *testing.T) {
	t.Parallel()

	workflows, err := newLoader().Load("testdata/workflows")
	require.NoError(t, err)
	require.Len(t, workflows, 2)

	assert.Equal(t, "re-engagement", workflows[0].Name, "nested/ sorts before welcome.yaml")
	assert.Equal(t, "welcome-series", workflows[1].Name)
}

func TestLoad_DirectoryReportsEveryBadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	write("a.yaml", "name: same-name\nsteps:\n  - {order: 1, kind: delay}\n")
	write("b.yml", "name: same-name\nsteps:\n  - {order: 1, kind: delay}\n")
	write("c.json", `{"name": "broken", "steps": [{"order": 1, "kind": "nope"}]}`)

	_, err := newLoader().Load(dir)
	require.ErrorIs(t, err, workflowfile.ErrInvalidDefinition)
	assert.Contains(t, err.Error(), "already defined")
	assert.Contains(t, err.Error(), "c.json")
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	for path, want := range map[string]workflowfile.Format{
		"a.yaml": workflowfile.FormatYAML,
		"a.YML":  workflowfile.FormatYAML,
		"a.json": workflowfile.FormatJSON,
	} {
		got, err := workflowfile.FormatOf(path)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := workflowfile.FormatOf("a.toml")
	require.ErrorIs(t, err, workflowfile.ErrUnsupportedFormat)
}

func TestImport_UpdatesByName(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := testutil.NewStore(t).WorkflowRepository()
	loader := newLoader()

	first, err := loader.LoadFile("testdata/workflows/welcome.yaml")
	require.NoError(t, err)

	created, err := workflowfile.Import(ctx, repo, first)
	require.NoError(t, err)
	assert.True(t, created)

	second, err := loader.Parse([]byte(`name: welcome-series
status: inactive
steps:
  - {order: 1, kind: email, config: {subject: Hello again}}
`), workflowfile.FormatYAML, "inline")
	require.NoError(t, err)

	created, err = workflowfile.Import(ctx, repo, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	stored, err := repo.ByName(ctx, "welcome-series")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInactive, stored.Status)
	require.Len(t, stored.Steps, 1)
}
