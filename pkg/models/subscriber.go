package models

import (
	"strings"
	"time"
)

// Subscriber is the attribute bag conditions and personalization read from.
type Subscriber struct {
	ID              string         `json:"id"`
	Email           string         `json:"email"            validate:"required,email"`
	Name            string         `json:"name"`
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	Subscribed      bool           `json:"subscribed"`
	LeadScore       int            `json:"lead_score"`
	EngagementLevel string         `json:"engagement_level"`
	TotalOpens      int            `json:"total_opens"`
	TotalClicks     int            `json:"total_clicks"`
	TotalPurchases  int            `json:"total_purchases"`
	TotalSpent      float64        `json:"total_spent"`
	Tags            []string       `json:"tags"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an address for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DisplayName returns Name, falling back to "First Last".
func (s *Subscriber) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}

	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// HasTag reports whether the subscriber carries tag, case-insensitively.
func (s *Subscriber) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}

	return false
}

// Attribute looks a field up by name: built-in fields first, then custom attributes.
// Empty strings and nil values count as absent.
func (s *Subscriber) Attribute(field string) (any, bool) {
	var value any

	switch strings.ToLower(strings.TrimSpace(field)) {
	case "id":
		value = s.ID
	case "email":
		value = s.Email
	case "name":
		value = s.DisplayName()
	case "first_name":
		value = s.FirstName
	case "last_name":
		value = s.LastName
	case "subscribed":
		value = s.Subscribed
	case "lead_score", "score":
		value = s.LeadScore
	case "engagement_level", "engagement":
		value = s.EngagementLevel
	case "total_opens":
		value = s.TotalOpens
	case "total_clicks":
		value = s.TotalClicks
	case "total_purchases":
		value = s.TotalPurchases
	case "total_spent":
		value = s.TotalSpent
	case "tags":
		if len(s.Tags) == 0 {
			return nil, false
		}

		return s.Tags, true
	default:
		v, ok := s.Attributes[field]
		if !ok {
			return nil, false
		}

		value = v
	}

	switch v := value.(type) {
	case nil:
		return nil, false
	case string:
		if v == "" {
			return nil, false
		}
	}

	return value, true
}
