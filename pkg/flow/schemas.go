package flow

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agenciapixel/connectflow/pkg/models"
)

// JSON Schemas for the per-type config shapes of the authoring
// interchange format. They are applied to raw drafts before decoding, so
// a malformed config is reported with a field path instead of a decode
// error.
var configSchemas = map[models.StepType]string{
	models.StepTypeMessage: `{
		"type": "object",
		"required": ["template"],
		"properties": {
			"template": {"type": "string", "minLength": 1},
			"channel": {"type": "string"}
		}
	}`,
	models.StepTypeDelay: `{
		"type": "object",
		"required": ["amount", "unit"],
		"properties": {
			"amount": {"type": "integer", "minimum": 1},
			"unit": {"type": "string", "enum": ["seconds", "minutes", "hours", "days"]}
		}
	}`,
	models.StepTypeCondition: `{
		"type": "object",
		"required": ["expression"],
		"properties": {
			"expression": {"type": "string", "minLength": 1}
		}
	}`,
	models.StepTypeAction: `{
		"type": "object",
		"required": ["kind"],
		"properties": {
			"kind": {"type": "string", "minLength": 1},
			"params": {"type": "object"}
		}
	}`,
	models.StepTypeWaitForResponse: `{
		"type": "object",
		"required": ["timeout_seconds"],
		"properties": {
			"timeout_seconds": {"type": "integer", "minimum": 1},
			"channel": {"type": "string"}
		}
	}`,
	models.StepTypeTag: `{
		"type": "object",
		"required": ["operation", "tags"],
		"properties": {
			"operation": {"type": "string", "enum": ["add", "remove"]},
			"tags": {"type": "array", "items": {"type": "string"}, "minItems": 1}
		}
	}`,
	models.StepTypeWebhook: `{
		"type": "object",
		"required": ["url", "method"],
		"properties": {
			"url": {"type": "string", "format": "uri"},
			"method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`,
	models.StepTypeSplit: `{
		"type": "object",
		"required": ["split_type"],
		"properties": {
			"split_type": {"type": "string", "enum": ["random", "percentage", "custom"]},
			"weights": {"type": "object", "additionalProperties": {"type": "integer"}}
		}
	}`,
	models.StepTypeMerge: `{
		"type": "object",
		"properties": {
			"join": {"type": "string", "enum": ["first"]}
		}
	}`,
	models.StepTypeSurvey: `{
		"type": "object",
		"required": ["survey_id"],
		"properties": {
			"survey_id": {"type": "string", "minLength": 1},
			"question": {"type": "string"}
		}
	}`,
	models.StepTypeNotification: `{
		"type": "object",
		"required": ["target", "message"],
		"properties": {
			"target": {"type": "string", "minLength": 1},
			"message": {"type": "string", "minLength": 1}
		}
	}`,
	models.StepTypeCalendar: `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"duration_minutes": {"type": "integer", "minimum": 1}
		}
	}`,
	models.StepTypeLocation: `{
		"type": "object",
		"required": ["latitude", "longitude"],
		"properties": {
			"latitude": {"type": "number", "minimum": -90, "maximum": 90},
			"longitude": {"type": "number", "minimum": -180, "maximum": 180},
			"label": {"type": "string"}
		}
	}`,
}

type rawStep struct {
	ID     string          `json:"id"`
	Type   models.StepType `json:"type"`
	Config json.RawMessage `json:"config"`
}

type rawDraft struct {
	Steps []rawStep `json:"steps"`
}

// ValidateDraftJSON checks a raw flow draft against the per-type config
// schemas. It is meant to run before decoding the draft into typed
// models, so shape problems surface as validation errors.
func ValidateDraftJSON(data []byte) []ValidationError {
	var draft rawDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		return []ValidationError{{Message: "draft is not valid JSON: " + err.Error()}}
	}

	var errs []ValidationError

	for _, step := range draft.Steps {
		schemaSource, ok := configSchemas[step.Type]
		if !ok {
			errs = append(errs, ValidationError{
				StepID:  step.ID,
				Field:   "type",
				Message: fmt.Sprintf("unknown step type %q", step.Type),
			})

			continue
		}

		config := step.Config
		if len(config) == 0 {
			config = json.RawMessage("{}")
		}

		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(schemaSource),
			gojsonschema.NewBytesLoader(config),
		)
		if err != nil {
			errs = append(errs, ValidationError{
				StepID: step.ID, Field: "config",
				Message: "config is not valid JSON: " + err.Error(),
			})

			continue
		}

		for _, problem := range result.Errors() {
			errs = append(errs, ValidationError{
				StepID:  step.ID,
				Field:   problem.Field(),
				Message: problem.Description(),
			})
		}
	}

	return errs
}
