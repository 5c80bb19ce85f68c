package flow

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenciapixel/connectflow/pkg/models"
)

func messageStep(id, next string) models.Step {
	return models.Step{
		ID:     id,
		Type:   models.StepTypeMessage,
		Config: &models.MessageConfig{Template: "Hello {{.contact_id}}"},
		Next:   next,
	}
}

func TestValidate_CleanLinearFlow(t *testing.T) {
	steps := []models.Step{
		messageStep("s1", "s2"),
		{
			ID:     "s2",
			Type:   models.StepTypeDelay,
			Config: &models.DelayConfig{Amount: 1, Unit: "hours"},
			Next:   "s3",
		},
		messageStep("s3", ""),
	}

	errs := NewValidator().Validate(steps)
	assert.Empty(t, errs)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	steps := []models.Step{
		{
			ID:     "s1",
			Type:   models.StepTypeDelay,
			Config: &models.DelayConfig{Amount: 45, Unit: "days"}, // over the 30 day cap
			Next:   "missing",                                    // dangling reference
		},
		{
			ID:     "s2", // orphan
			Type:   models.StepTypeWebhook,
			Config: &models.WebhookConfig{URL: "not a url", Method: "POST"},
		},
	}

	errs := NewValidator().Validate(steps)
	require.NotEmpty(t, errs)

	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}

	joined := fmt.Sprint(messages)
	assert.Contains(t, joined, "successor")
	assert.Contains(t, joined, "maximum")
	assert.Contains(t, joined, "orphan")
	assert.Contains(t, joined, "url")
}

func TestValidate_BranchLabelRequirements(t *testing.T) {
	tests := []struct {
		name    string
		step    models.Step
		wantErr string
	}{
		{
			name: "condition missing false branch",
			step: models.Step{
				ID:       "c1",
				Type:     models.StepTypeCondition,
				Config:   &models.ConditionConfig{Expression: `context.score > 10`},
				Branches: map[string]string{models.BranchTrue: "c1"},
			},
			wantErr: `missing "false" branch`,
		},
		{
			name: "wait with unknown label",
			step: models.Step{
				ID:     "w1",
				Type:   models.StepTypeWaitForResponse,
				Config: &models.WaitForResponseConfig{TimeoutSeconds: 60},
				Branches: map[string]string{
					models.BranchReplied: "w1",
					models.BranchTimeout: "w1",
					"maybe":              "w1",
				},
			},
			wantErr: `unknown branch label "maybe"`,
		},
		{
			name: "split with a single branch",
			step: models.Step{
				ID:       "sp1",
				Type:     models.StepTypeSplit,
				Config:   &models.SplitConfig{SplitType: models.SplitTypeRandom},
				Branches: map[string]string{"a": "sp1"},
			},
			wantErr: "at least two branches",
		},
		{
			name: "percentage weights must sum to 100",
			step: models.Step{
				ID:   "sp2",
				Type: models.StepTypeSplit,
				Config: &models.SplitConfig{
					SplitType: models.SplitTypePercentage,
					Weights:   map[string]int{"a": 60, "b": 60},
				},
				Branches: map[string]string{"a": "sp2", "b": "sp2"},
			},
			wantErr: "sum to 120",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := NewValidator().Validate([]models.Step{tt.step})

			found := false
			for _, e := range errs {
				if strings.Contains(e.Message, tt.wantErr) {
					found = true
				}
			}
			assert.True(t, found, "expected error containing %q, got %v", tt.wantErr, errs)
		})
	}
}

func TestValidate_RejectsCycles(t *testing.T) {
	steps := []models.Step{
		messageStep("s1", "s2"),
		messageStep("s2", "s3"),
		messageStep("s3", "s1"),
	}

	errs := NewValidator().Validate(steps)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "cycle")
}

// Property: for generated valid step graphs every successor reference
// resolves; corrupting one reference always surfaces a dangling-successor
// error.
func TestValidate_SuccessorResolutionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	validator := NewValidator()

	for i := range 50 {
		steps := generateLinearFlowWithBranches(rng, 3+rng.Intn(8))

		errs := validator.Validate(steps)
		require.Emptyf(t, errs, "iteration %d: generated flow should be valid: %v", i, errs)

		// Corrupt one successor reference.
		corrupted := append([]models.Step(nil), steps...)
		idx := rng.Intn(len(corrupted) - 1) // last step is terminal

		if corrupted[idx].Branching() {
			branches := make(map[string]string, len(corrupted[idx].Branches))
			for label := range corrupted[idx].Branches {
				branches[label] = corrupted[idx].Branches[label]
			}

			for label := range branches {
				branches[label] = "no-such-step"

				break
			}

			corrupted[idx].Branches = branches
		} else {
			corrupted[idx].Next = "no-such-step"
		}

		errs = validator.Validate(corrupted)
		require.NotEmptyf(t, errs, "iteration %d: corrupted flow must fail validation", i)

		found := false
		for _, e := range errs {
			if strings.Contains(e.Message, "does not exist") {
				found = true
			}
		}
		assert.Truef(t, found, "iteration %d: expected a dangling-successor error, got %v", i, errs)
	}
}

// generateLinearFlowWithBranches builds a forward-only chain of message,
// delay and condition steps whose references all resolve.
func generateLinearFlowWithBranches(rng *rand.Rand, size int) []models.Step {
	steps := make([]models.Step, size)

	for i := range size {
		id := fmt.Sprintf("s%d", i)

		next := ""
		if i < size-1 {
			next = fmt.Sprintf("s%d", i+1)
		}

		// Conditions need a forward target for both labels; use the next
		// step for both so the chain stays linear and acyclic.
		if next != "" && rng.Intn(4) == 0 {
			steps[i] = models.Step{
				ID:     id,
				Type:   models.StepTypeCondition,
				Config: &models.ConditionConfig{Expression: "context.vip == true"},
				Branches: map[string]string{
					models.BranchTrue:  next,
					models.BranchFalse: next,
				},
			}

			continue
		}

		if next != "" && rng.Intn(4) == 0 {
			steps[i] = models.Step{
				ID:     id,
				Type:   models.StepTypeDelay,
				Config: &models.DelayConfig{Amount: 1 + rng.Intn(24), Unit: "hours"},
				Next:   next,
			}

			continue
		}

		steps[i] = messageStep(id, next)
	}

	return steps
}
