// Package flow provides validation and publishing of flow definitions.
package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/agenciapixel/connectflow/pkg/models"
)

// MaxSuspendDuration bounds delay durations and wait timeouts.
const MaxSuspendDuration = 30 * 24 * time.Hour

// ValidationError describes one authoring-time problem. Validation
// collects every error instead of failing fast so the authoring surface
// can show all of them at once.
type ValidationError struct {
	StepID  string `json:"step_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.StepID == "" {
		return e.Message
	}

	return fmt.Sprintf("step %s: %s", e.StepID, e.Message)
}

// ValidationFailedError carries the full error list when publishing is
// rejected.
type ValidationFailedError struct {
	Errors []ValidationError
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("flow validation failed with %d error(s)", len(e.Errors))
}

// Validator checks flow definitions for structural and per-step-config
// problems.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate checks the step graph: unique IDs, resolvable successor
// references, reachability from the start step, acyclicity, branch label
// requirements and per-type config constraints. It returns every problem
// found rather than stopping at the first.
func (v *Validator) Validate(steps []models.Step) []ValidationError {
	var errs []ValidationError

	if len(steps) == 0 {
		return []ValidationError{{Message: "flow has no steps"}}
	}

	byID := make(map[string]models.Step, len(steps))

	for _, step := range steps {
		if step.ID == "" {
			errs = append(errs, ValidationError{Field: "id", Message: "step has no id"})

			continue
		}

		if _, dup := byID[step.ID]; dup {
			errs = append(errs, ValidationError{StepID: step.ID, Field: "id", Message: "duplicate step id"})

			continue
		}

		byID[step.ID] = step
	}

	for _, step := range steps {
		errs = append(errs, v.validateStep(step, byID)...)
	}

	errs = append(errs, checkReachability(steps, byID)...)
	errs = append(errs, checkAcyclic(steps, byID)...)

	return errs
}

func (v *Validator) validateStep(step models.Step, byID map[string]models.Step) []ValidationError {
	var errs []ValidationError

	for _, target := range step.Successors() {
		if _, ok := byID[target]; !ok {
			errs = append(errs, ValidationError{
				StepID:  step.ID,
				Message: fmt.Sprintf("successor %q does not exist", target),
			})
		}
	}

	if step.Branching() {
		if step.Next != "" {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "next",
				Message: string(step.Type) + " step uses labeled branches, not next",
			})
		}

		errs = append(errs, checkBranchLabels(step)...)
	} else if len(step.Branches) > 0 {
		errs = append(errs, ValidationError{
			StepID: step.ID, Field: "branches",
			Message: string(step.Type) + " step takes a single next reference, not branches",
		})
	}

	errs = append(errs, v.validateConfig(step)...)

	return errs
}

func checkBranchLabels(step models.Step) []ValidationError {
	var errs []ValidationError

	required := map[models.StepType][]string{
		models.StepTypeCondition:       {models.BranchTrue, models.BranchFalse},
		models.StepTypeWaitForResponse: {models.BranchReplied, models.BranchTimeout},
	}

	if labels, ok := required[step.Type]; ok {
		for _, label := range labels {
			if _, present := step.Branches[label]; !present {
				errs = append(errs, ValidationError{
					StepID: step.ID, Field: "branches",
					Message: fmt.Sprintf("missing %q branch", label),
				})
			}
		}

		for label := range step.Branches {
			known := false

			for _, want := range labels {
				if label == want {
					known = true
				}
			}

			if !known {
				errs = append(errs, ValidationError{
					StepID: step.ID, Field: "branches",
					Message: fmt.Sprintf("unknown branch label %q", label),
				})
			}
		}

		return errs
	}

	// split: free-form labels, but at least two of them.
	if len(step.Branches) < 2 {
		errs = append(errs, ValidationError{
			StepID: step.ID, Field: "branches",
			Message: "split step needs at least two branches",
		})
	}

	return errs
}

func (v *Validator) validateConfig(step models.Step) []ValidationError {
	if step.Config == nil {
		return []ValidationError{{StepID: step.ID, Field: "config", Message: "step has no config"}}
	}

	if step.Config.ConfigType() != step.Type {
		return []ValidationError{{
			StepID: step.ID, Field: "config",
			Message: fmt.Sprintf("config is for type %q, step is %q", step.Config.ConfigType(), step.Type),
		}}
	}

	var errs []ValidationError

	if err := v.validate.Struct(step.Config); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fe := range fieldErrors {
				errs = append(errs, ValidationError{
					StepID: step.ID, Field: fe.Field(),
					Message: fmt.Sprintf("config field %s fails %q constraint", fe.Field(), fe.Tag()),
				})
			}
		} else {
			errs = append(errs, ValidationError{StepID: step.ID, Field: "config", Message: err.Error()})
		}
	}

	errs = append(errs, checkConfigBounds(step)...)

	return errs
}

// checkConfigBounds enforces constraints the struct tags cannot express.
func checkConfigBounds(step models.Step) []ValidationError {
	var errs []ValidationError

	switch config := step.Config.(type) {
	case *models.DelayConfig:
		duration, err := config.Duration()
		if err != nil {
			errs = append(errs, ValidationError{StepID: step.ID, Field: "unit", Message: err.Error()})
		} else if duration > MaxSuspendDuration {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "amount",
				Message: fmt.Sprintf("delay exceeds maximum of %s", MaxSuspendDuration),
			})
		}
	case *models.WaitForResponseConfig:
		if config.Timeout() > MaxSuspendDuration {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "timeout_seconds",
				Message: fmt.Sprintf("timeout exceeds maximum of %s", MaxSuspendDuration),
			})
		}
	case *models.SplitConfig:
		errs = append(errs, checkSplitWeights(step, config)...)
	case *models.MergeConfig:
		if config.Join != "" && config.Join != models.JoinPolicyFirst {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "join",
				Message: fmt.Sprintf("unsupported join policy %q", config.Join),
			})
		}
	}

	return errs
}

func checkSplitWeights(step models.Step, config *models.SplitConfig) []ValidationError {
	if config.SplitType == models.SplitTypeRandom {
		return nil
	}

	var errs []ValidationError

	total := 0

	for label, weight := range config.Weights {
		if _, ok := step.Branches[label]; !ok {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "weights",
				Message: fmt.Sprintf("weight for unknown branch %q", label),
			})
		}

		if weight <= 0 {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "weights",
				Message: fmt.Sprintf("branch %q weight must be positive", label),
			})
		}

		total += weight
	}

	for label := range step.Branches {
		if _, ok := config.Weights[label]; !ok {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "weights",
				Message: fmt.Sprintf("branch %q has no weight", label),
			})
		}
	}

	if config.SplitType == models.SplitTypePercentage && total != 100 && len(errs) == 0 {
		errs = append(errs, ValidationError{
			StepID: step.ID, Field: "weights",
			Message: fmt.Sprintf("percentage weights sum to %d, want 100", total),
		})
	}

	return errs
}

// checkReachability flags steps the start step can never reach.
func checkReachability(steps []models.Step, byID map[string]models.Step) []ValidationError {
	if len(steps) == 0 {
		return nil
	}

	visited := make(map[string]bool, len(steps))
	queue := []string{steps[0].ID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if visited[id] {
			continue
		}

		visited[id] = true

		step, ok := byID[id]
		if !ok {
			continue
		}

		queue = append(queue, step.Successors()...)
	}

	var errs []ValidationError

	for _, step := range steps {
		if step.ID != "" && !visited[step.ID] {
			errs = append(errs, ValidationError{
				StepID:  step.ID,
				Message: "orphan step, not reachable from the start step",
			})
		}
	}

	return errs
}

// checkAcyclic rejects graphs where a step can reach itself again.
func checkAcyclic(steps []models.Step, byID map[string]models.Step) []ValidationError {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)

	state := make(map[string]int, len(steps))

	var cyclic []string

	var visit func(id string)

	visit = func(id string) {
		switch state[id] {
		case visiting:
			cyclic = append(cyclic, id)

			return
		case done:
			return
		}

		state[id] = visiting

		if step, ok := byID[id]; ok {
			for _, next := range step.Successors() {
				visit(next)
			}
		}

		state[id] = done
	}

	for _, step := range steps {
		if step.ID != "" {
			visit(step.ID)
		}
	}

	var errs []ValidationError

	for _, id := range cyclic {
		errs = append(errs, ValidationError{
			StepID:  id,
			Message: "step graph contains a cycle through this step",
		})
	}

	return errs
}
