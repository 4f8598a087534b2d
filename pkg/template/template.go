// Package template substitutes subscriber placeholders into email content.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/nurture/pkg/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// NeedsTemplating reports whether input contains at least one placeholder.
func NeedsTemplating(input string) bool {
	return placeholder.MatchString(input)
}

// Personalize replaces {{field}} placeholders with subscriber values and
// {{metadata.key}} with cursor metadata. Unknown placeholders are left verbatim.
func Personalize(input string, subscriber *models.Subscriber, metadata map[string]any) string {
	if !NeedsTemplating(input) {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]

		value, ok := lookup(key, subscriber, metadata)
		if !ok {
			return match
		}

		return value
	})
}

func lookup(key string, subscriber *models.Subscriber, metadata map[string]any) (string, bool) {
	if rest, ok := strings.CutPrefix(key, "metadata."); ok {
		v, found := metadata[rest]
		if !found || v == nil {
			return "", false
		}

		return format(v), true
	}

	if subscriber == nil {
		return "", false
	}

	switch key {
	case "name":
		return subscriber.DisplayName(), true
	case "first_name":
		return subscriber.FirstName, true
	case "last_name":
		return subscriber.LastName, true
	case "lead_score":
		return strconv.Itoa(subscriber.LeadScore), true
	case "total_opens", "total_clicks", "total_purchases", "total_spent", "engagement_level", "email":
		v, _ := subscriber.Attribute(key)
		if v == nil {
			return "", true
		}

		return format(v), true
	}

	v, ok := subscriber.Attributes[key]
	if !ok || v == nil {
		return "", false
	}

	return format(v), true
}

func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		return strings.Join(t, ", ")
	default:
		return fmt.Sprint(v)
	}
}
