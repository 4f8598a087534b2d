package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// StepKind identifies the variant of a Step.
type StepKind string

const (
	StepKindEmail     StepKind = "email"
	StepKindCondition StepKind = "condition"
	StepKindAction    StepKind = "action"
	StepKindDelay     StepKind = "delay"
)

// DelayUnit is the unit of a step delay.
type DelayUnit string

const (
	DelayUnitMinutes DelayUnit = "minutes"
	DelayUnitHours   DelayUnit = "hours"
	DelayUnitDays    DelayUnit = "days"
	DelayUnitWeeks   DelayUnit = "weeks"
)

var delayUnits = map[DelayUnit]time.Duration{
	DelayUnitMinutes: time.Minute,
	DelayUnitHours:   time.Hour,
	DelayUnitDays:    24 * time.Hour,
	DelayUnitWeeks:   7 * 24 * time.Hour,
}

// Valid reports whether u is a known unit. The empty unit is valid and means no delay.
func (u DelayUnit) Valid() bool {
	if u == "" {
		return true
	}

	_, ok := delayUnits[u]

	return ok
}

var (
	ErrInvalidStep      = errors.New("invalid step")
	ErrDuplicateStep    = errors.New("duplicate step order")
	ErrUnknownStepKind  = errors.New("unknown step kind")
	ErrInvalidDelayUnit = errors.New("invalid delay unit")
)

// Delay is the wait applied when a cursor enters a step.
type Delay struct {
	Value int       `json:"value" yaml:"value"`
	Unit  DelayUnit `json:"unit"  yaml:"unit"`
}

// Duration converts the delay to a time offset. Zero, negative or unknown-unit delays are immediate.
func (d Delay) Duration() time.Duration {
	if d.Value <= 0 {
		return 0
	}

	unit, ok := delayUnits[d.Unit]
	if !ok {
		return 0
	}

	return time.Duration(d.Value) * unit
}

// StepBase holds the fields shared by every step kind.
type StepBase struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Delay Delay  `json:"delay"`
}

// Step is one node of a workflow graph. It is implemented only by the
// EmailStep, ConditionStep, ActionStep and DelayStep variants.
type Step interface {
	Base() StepBase
	Kind() StepKind
	isStep()
}

func (b StepBase) Base() StepBase { return b }
func (StepBase) isStep()          {}

type EmailStep struct {
	StepBase
	Subject string
	Body    string
}

func (EmailStep) Kind() StepKind { return StepKindEmail }

type ConditionStep struct {
	StepBase
	Field    string
	Operator ConditionOperator
	Value    string
	// TrueNext and FalseNext are step orders; zero means "order+1".
	TrueNext  int
	FalseNext int
}

func (ConditionStep) Kind() StepKind { return StepKindCondition }

// Next returns the order to continue at for the given evaluation result.
func (s ConditionStep) Next(result bool) int {
	next := s.FalseNext
	if result {
		next = s.TrueNext
	}

	if next <= 0 {
		return s.Order + 1
	}

	return next
}

type ActionStep struct {
	StepBase
	ActionType ActionType
	Params     map[string]any
}

func (ActionStep) Kind() StepKind { return StepKindAction }

type DelayStep struct {
	StepBase
}

func (DelayStep) Kind() StepKind { return StepKindDelay }

// StepDefinition is the storage and wire shape of a step: the shared header
// plus a kind-specific config object.
type StepDefinition struct {
	ID     string         `json:"id"`
	Order  int            `json:"order"  validate:"required,gt=0"`
	Kind   StepKind       `json:"kind"   validate:"required,oneof=email condition action delay"`
	Delay  Delay          `json:"delay"`
	Config map[string]any `json:"config,omitempty"`
}

// DecodeStep turns a definition into its typed variant.
func DecodeStep(def StepDefinition) (Step, error) {
	if def.Order <= 0 {
		return nil, fmt.Errorf("%w: order must be positive, got %d", ErrInvalidStep, def.Order)
	}

	if !def.Delay.Unit.Valid() {
		return nil, fmt.Errorf("%w: %q on step %d", ErrInvalidDelayUnit, def.Delay.Unit, def.Order)
	}

	base := StepBase{ID: def.ID, Order: def.Order, Delay: def.Delay}
	cfg := def.Config

	switch def.Kind {
	case StepKindEmail:
		step := EmailStep{StepBase: base, Subject: stringValue(cfg, "subject"), Body: stringValue(cfg, "body")}
		if step.Subject == "" {
			return nil, fmt.Errorf("%w: email step %d requires a subject", ErrInvalidStep, def.Order)
		}

		return step, nil
	case StepKindCondition:
		step := ConditionStep{
			StepBase:  base,
			Field:     stringValue(cfg, "field"),
			Operator:  ConditionOperator(stringValue(cfg, "operator")),
			Value:     stringValue(cfg, "value"),
			TrueNext:  intValue(cfg, "true_next"),
			FalseNext: intValue(cfg, "false_next"),
		}
		if step.Field == "" {
			return nil, fmt.Errorf("%w: condition step %d requires a field", ErrInvalidStep, def.Order)
		}

		if !step.Operator.Valid() {
			return nil, fmt.Errorf("%w: condition step %d has unknown operator %q", ErrInvalidStep, def.Order, step.Operator)
		}

		return step, nil
	case StepKindAction:
		step := ActionStep{StepBase: base, ActionType: ActionType(stringValue(cfg, "action_type"))}
		if step.ActionType == "" {
			return nil, fmt.Errorf("%w: action step %d requires an action_type", ErrInvalidStep, def.Order)
		}

		if params, ok := cfg["params"].(map[string]any); ok {
			step.Params = params
		}

		return step, nil
	case StepKindDelay:
		return DelayStep{StepBase: base}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepKind, def.Kind)
	}
}

// EncodeStep is the inverse of DecodeStep.
func EncodeStep(step Step) StepDefinition {
	base := step.Base()
	def := StepDefinition{ID: base.ID, Order: base.Order, Kind: step.Kind(), Delay: base.Delay, Config: map[string]any{}}

	switch s := step.(type) {
	case EmailStep:
		def.Config["subject"] = s.Subject
		def.Config["body"] = s.Body
	case ConditionStep:
		def.Config["field"] = s.Field
		def.Config["operator"] = string(s.Operator)
		def.Config["value"] = s.Value

		if s.TrueNext > 0 {
			def.Config["true_next"] = s.TrueNext
		}

		if s.FalseNext > 0 {
			def.Config["false_next"] = s.FalseNext
		}
	case ActionStep:
		def.Config["action_type"] = string(s.ActionType)
		if len(s.Params) > 0 {
			def.Config["params"] = s.Params
		}
	}

	return def
}

func stringValue(cfg map[string]any, key string) string {
	switch v := cfg[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func intValue(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return 0
}
