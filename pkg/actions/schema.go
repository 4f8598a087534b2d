package actions

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateParams checks params against a JSON schema. A nil schema accepts anything.
func ValidateParams(schema map[string]any, params map[string]any) error {
	if schema == nil {
		return nil
	}

	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(messages, "; "))
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

var nonEmptyString = map[string]any{"type": "string", "minLength": 1}
