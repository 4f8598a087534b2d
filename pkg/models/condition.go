package models

// ConditionOperator is the comparison a condition step applies to a subscriber field.
type ConditionOperator string

const (
	OperatorEquals       ConditionOperator = "equals"
	OperatorNotEquals    ConditionOperator = "not_equals"
	OperatorContains     ConditionOperator = "contains"
	OperatorNotContains  ConditionOperator = "not_contains"
	OperatorGreaterThan  ConditionOperator = "greater_than"
	OperatorLessThan     ConditionOperator = "less_than"
	OperatorGreaterEqual ConditionOperator = "greater_equal"
	OperatorLessEqual    ConditionOperator = "less_equal"
	OperatorExists       ConditionOperator = "exists"
	OperatorNotExists    ConditionOperator = "not_exists"
)

// ConditionOperators lists every supported operator.
var ConditionOperators = []ConditionOperator{
	OperatorEquals, OperatorNotEquals,
	OperatorContains, OperatorNotContains,
	OperatorGreaterThan, OperatorLessThan,
	OperatorGreaterEqual, OperatorLessEqual,
	OperatorExists, OperatorNotExists,
}

func (o ConditionOperator) Valid() bool {
	for _, op := range ConditionOperators {
		if op == o {
			return true
		}
	}

	return false
}
