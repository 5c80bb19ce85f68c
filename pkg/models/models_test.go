package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepUnmarshalJSON_TypedConfig(t *testing.T) {
	payload := `{
		"id": "step-1",
		"type": "delay",
		"name": "Cool down",
		"config": {"amount": 2, "unit": "hours"},
		"next": "step-2"
	}`

	var step Step

	err := json.Unmarshal([]byte(payload), &step)
	require.NoError(t, err)

	config, ok := step.Config.(*DelayConfig)
	require.True(t, ok, "expected *DelayConfig, got %T", step.Config)
	assert.Equal(t, 2, config.Amount)
	assert.Equal(t, "hours", config.Unit)

	duration, err := config.Duration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, duration)
}

func TestStepUnmarshalJSON_UnknownType(t *testing.T) {
	payload := `{"id": "step-1", "type": "teleport", "config": {}}`

	var step Step

	err := json.Unmarshal([]byte(payload), &step)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step type")
}

func TestStepSuccessors(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want []string
	}{
		{
			name: "linear step",
			step: Step{ID: "a", Type: StepTypeMessage, Next: "b"},
			want: []string{"b"},
		},
		{
			name: "branching step",
			step: Step{
				ID:   "a",
				Type: StepTypeCondition,
				Branches: map[string]string{
					BranchTrue:  "b",
					BranchFalse: "c",
				},
			},
			want: []string{"b", "c"},
		},
		{
			name: "terminal step",
			step: Step{ID: "a", Type: StepTypeMessage},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, tt.step.Successors())
		})
	}
}

func TestRunInstanceAttempts(t *testing.T) {
	run := &RunInstance{
		History: []StepExecutionRecord{
			{StepID: "step-1", Outcome: OutcomeAdvanced},
			{StepID: "step-2", Outcome: OutcomeFailed},
			{StepID: "step-2", Outcome: OutcomeAdvanced},
		},
	}

	assert.Equal(t, 1, run.Attempts("step-1"))
	assert.Equal(t, 2, run.Attempts("step-2"))
	assert.Equal(t, 0, run.Attempts("step-3"))
}

func TestRunStatusActive(t *testing.T) {
	assert.True(t, RunStatusPending.Active())
	assert.True(t, RunStatusRunning.Active())
	assert.True(t, RunStatusWaiting.Active())
	assert.False(t, RunStatusCompleted.Active())
	assert.False(t, RunStatusFailed.Active())
	assert.False(t, RunStatusCancelled.Active())
}
