package actions

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dukex/nurture/pkg/template"
)

// stringParam returns the personalized string value of key.
func stringParam(req Request, key string) string {
	raw, ok := req.Params[key]
	if !ok || raw == nil {
		return ""
	}

	var s string

	switch v := raw.(type) {
	case string:
		s = v
	default:
		s = fmt.Sprint(v)
	}

	return strings.TrimSpace(template.Personalize(s, req.Subscriber, req.Metadata))
}

func intParam(req Request, key string) (int, error) {
	switch v := req.Params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidParams, key)
		}

		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(template.Personalize(v, req.Subscriber, req.Metadata)))
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrInvalidParams, key, err)
		}

		return n, nil
	case nil:
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidParams, key)
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrInvalidParams, key, v)
	}
}

func stringMapParam(req Request, key string) map[string]string {
	out := map[string]string{}

	raw, ok := req.Params[key].(map[string]any)
	if !ok {
		if typed, ok := req.Params[key].(map[string]string); ok {
			for k, v := range typed {
				out[k] = template.Personalize(v, req.Subscriber, req.Metadata)
			}
		}

		return out
	}

	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = template.Personalize(s, req.Subscriber, req.Metadata)
		}
	}

	return out
}
