package subscriptions

import (
	"slices"
	"strings"
)

// Match reports whether an event satisfies a subscription pattern.
func Match(event Event, pattern SubscriptionPattern) bool {
	if len(pattern.EventTypes) > 0 && !slices.Contains(pattern.EventTypes, event.Type) {
		return false
	}

	// Topic types only constrain topic and type events
	if len(pattern.TopicTypes) > 0 && event.TopicType != "" &&
		!slices.Contains(pattern.TopicTypes, event.TopicType) {
		return false
	}

	// Relation types only constrain relation events
	if len(pattern.RelationTypes) > 0 && event.RelationType != "" &&
		!slices.Contains(pattern.RelationTypes, event.RelationType) {
		return false
	}

	for key, expected := range pattern.PropertyMatch {
		actual, exists := event.Properties[key]
		if !exists || !matchValue(expected, actual) {
			return false
		}
	}
	return true
}

// matchValue compares expected and actual values with type flexibility
func matchValue(expected, actual any) bool {
	// String comparison (case-insensitive)
	expectedStr, ok1 := expected.(string)
	actualStr, ok2 := actual.(string)
	if ok1 && ok2 {
		return strings.EqualFold(expectedStr, actualStr)
	}

	// Numeric comparison with type coercion
	expectedNum, ok1 := toFloat64(expected)
	actualNum, ok2 := toFloat64(actual)
	if ok1 && ok2 {
		return expectedNum == actualNum
	}

	expectedBool, ok1 := expected.(bool)
	actualBool, ok2 := actual.(bool)
	return ok1 && ok2 && expectedBool == actualBool
}

// toFloat64 converts various numeric types to float64
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
