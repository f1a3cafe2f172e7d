package datatype

import (
	"bytes"
	"math"
)

// floatComparisonTolerance bounds the error tolerated when comparing
// floating point values that went through aggregation.
const floatComparisonTolerance = 1e-7

// CompareFunc reports how a relates to b for one column type. Callers must
// not pass nil; null handling is the caller's responsibility because the
// result of comparing against null is null, not false.
type CompareFunc func(a, b interface{}) bool

// ComparisonRegistry holds the per-type scalar comparison functions. It is
// populated explicitly during construction instead of through package init
// so that tests and embedders control the full lifecycle.
type ComparisonRegistry struct {
	equals    map[DataType]CompareFunc
	notEquals map[DataType]CompareFunc
}

// NewComparisonRegistry creates a registry pre-populated with the standard
// comparison functions for every scalar column type.
func NewComparisonRegistry() *ComparisonRegistry {
	r := &ComparisonRegistry{
		equals:    make(map[DataType]CompareFunc),
		notEquals: make(map[DataType]CompareFunc),
	}
	for t, eq := range map[DataType]CompareFunc{
		Int:       func(a, b interface{}) bool { return a.(int32) == b.(int32) },
		Long:      func(a, b interface{}) bool { return a.(int64) == b.(int64) },
		Float:     func(a, b interface{}) bool { return floatEquals(float64(a.(float32)), float64(b.(float32))) },
		Double:    func(a, b interface{}) bool { return floatEquals(a.(float64), b.(float64)) },
		Boolean:   func(a, b interface{}) bool { return a.(bool) == b.(bool) },
		Timestamp: func(a, b interface{}) bool { return a.(int64) == b.(int64) },
		String:    func(a, b interface{}) bool { return a.(string) == b.(string) },
		JSON:      func(a, b interface{}) bool { return a.(string) == b.(string) },
		Bytes:     func(a, b interface{}) bool { return bytes.Equal(a.([]byte), b.([]byte)) },
	} {
		r.Register(t, eq)
	}
	return r
}

// Register installs the equality function for a type, deriving its negation.
func (r *ComparisonRegistry) Register(t DataType, equals CompareFunc) {
	r.equals[t] = equals
	r.notEquals[t] = func(a, b interface{}) bool { return !equals(a, b) }
}

// Equals returns the equality function registered for t, or nil.
func (r *ComparisonRegistry) Equals(t DataType) CompareFunc {
	return r.equals[t]
}

// NotEquals returns the inequality function registered for t, or nil.
func (r *ComparisonRegistry) NotEquals(t DataType) CompareFunc {
	return r.notEquals[t]
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatComparisonTolerance
}
