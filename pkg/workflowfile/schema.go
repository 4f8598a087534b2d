package workflowfile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/nurture/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var delayUnits = []string{
	string(models.DelayUnitMinutes),
	string(models.DelayUnitHours),
	string(models.DelayUnitDays),
	string(models.DelayUnitWeeks),
}

// configSchemas describes the config object of each step kind.
func configSchemas() map[models.StepKind]map[string]any {
	operators := make([]string, 0, len(models.ConditionOperators))
	for _, op := range models.ConditionOperators {
		operators = append(operators, string(op))
	}

	branch := map[string]any{"type": "integer", "minimum": 1}

	return map[models.StepKind]map[string]any{
		models.StepKindEmail: {
			"type":     "object",
			"required": []string{"subject"},
			"properties": map[string]any{
				"subject": map[string]any{"type": "string", "minLength": 1},
				"body":    map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		models.StepKindCondition: {
			"type":     "object",
			"required": []string{"field", "operator"},
			"properties": map[string]any{
				"field":      map[string]any{"type": "string", "minLength": 1},
				"operator":   map[string]any{"type": "string", "enum": operators},
				"value":      map[string]any{"type": []string{"string", "number", "boolean"}},
				"true_next":  branch,
				"false_next": branch,
			},
			"additionalProperties": false,
		},
		models.StepKindAction: {
			"type":     "object",
			"required": []string{"action_type"},
			"properties": map[string]any{
				"action_type": map[string]any{"type": "string", "minLength": 1},
				"params":      map[string]any{"type": "object"},
			},
			"additionalProperties": false,
		},
		models.StepKindDelay: {
			"type":                 "object",
			"additionalProperties": false,
		},
	}
}

type schemas struct {
	byKind map[models.StepKind]*gojsonschema.Schema
	delay  *gojsonschema.Schema
}

func newSchemas() *schemas {
	s := &schemas{byKind: map[models.StepKind]*gojsonschema.Schema{}}

	for kind, raw := range configSchemas() {
		s.byKind[kind] = mustCompile(raw)
	}

	s.delay = mustCompile(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"unit":  map[string]any{"type": "string", "enum": append([]string{""}, delayUnits...)},
		},
	})

	return s
}

func mustCompile(raw map[string]any) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("workflowfile: invalid built-in schema: %v", err))
	}

	return schema
}

func (s *schemas) validate(def models.StepDefinition) error {
	schema, ok := s.byKind[def.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrUnknownStepKind, def.Kind)
	}

	if err := check(s.delay, map[string]any{"unit": string(def.Delay.Unit)}); err != nil {
		return fmt.Errorf("%w: %w", models.ErrInvalidDelayUnit, err)
	}

	config := def.Config
	if config == nil {
		config = map[string]any{}
	}

	return check(schema, config)
}

func check(schema *gojsonschema.Schema, doc any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}

	return errors.New(strings.Join(messages, "; "))
}
