package assertion

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// ErrNotComparable is returned when a value cannot be measured or ordered
// the way an expression requires.
var ErrNotComparable = errors.New("values are not comparable")

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks a value that does not exist, as opposed to JSON null.
var Undefined any = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

// Evaluate checks actual against expr, turning evaluation errors into a
// failed check. With reportFailure set, a failing check is logged with the
// path, the expected expression and the actual value.
func Evaluate(path string, actual any, expr Expression, reportFailure bool) bool {
	ok, err := expr.Evaluate(actual)
	if ok {
		return true
	}
	if reportFailure {
		ev := log.Warn().
			Str("path", path).
			Str("expected", expr.String()).
			Str("actual", Describe(actual))
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msgf("assertion failed: %s %s, got %s", path, expr, Describe(actual))
	}
	return false
}

// Evaluate applies the expression to actual.
func (e Expression) Evaluate(actual any) (bool, error) {
	switch e.Kind {
	case KindExists:
		return !IsUndefined(actual), nil

	case KindLength:
		n, err := lengthOf(actual)
		if err != nil {
			return false, err
		}
		return compareNumbers(float64(n), e.Op, float64(e.Length)), nil

	case KindTypeOf:
		return typeOf(actual) == e.Type, nil

	case KindValue:
		return compareValues(normalize(actual), e.Op, e.Literal)

	default:
		return false, fmt.Errorf("unknown assertion kind %s", e.Kind)
	}
}

func lengthOf(v any) (int, error) {
	if s, ok := v.(string); ok {
		return utf8.RuneCountInString(s), nil
	}
	if v == nil || IsUndefined(v) {
		return 0, fmt.Errorf("%w: %s has no length", ErrNotComparable, Describe(v))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), nil
	default:
		return 0, fmt.Errorf("%w: %T has no length", ErrNotComparable, v)
	}
}

func typeOf(v any) string {
	if v == nil {
		return TypeNull
	}
	if IsUndefined(v) {
		return "undefined"
	}
	switch normalize(v).(type) {
	case string:
		return TypeString
	case float64:
		return TypeNumber
	case bool:
		return TypeBoolean
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return TypeArray
	case reflect.Map, reflect.Struct:
		return TypeObject
	}
	return fmt.Sprintf("%T", v)
}

// normalize folds every numeric representation into float64.
func normalize(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

func compareValues(actual any, op Operator, expected any) (bool, error) {
	switch op {
	case OpEqual:
		return equal(actual, expected), nil
	case OpNotEqual:
		return !equal(actual, expected), nil
	}

	switch a := actual.(type) {
	case float64:
		if b, ok := expected.(float64); ok {
			return compareNumbers(a, op, b), nil
		}
	case string:
		if b, ok := expected.(string); ok {
			return compareStrings(a, op, b), nil
		}
	}
	return false, fmt.Errorf("%w: cannot order %s and %s", ErrNotComparable, Describe(actual), Describe(expected))
}

// equal is strict: values of different types are never equal.
func equal(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

func compareNumbers(a float64, op Operator, b float64) bool {
	switch op {
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	case OpGreater:
		return a > b
	case OpGreaterOrEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessOrEqual:
		return a <= b
	}
	return false
}

func compareStrings(a string, op Operator, b string) bool {
	switch op {
	case OpGreater:
		return a > b
	case OpGreaterOrEqual:
		return a >= b
	case OpLess:
		return a < b
	case OpLessOrEqual:
		return a <= b
	}
	return false
}

// Describe renders a value for diagnostics.
func Describe(v any) string {
	if IsUndefined(v) {
		return "undefined"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Cache holds parsed expressions keyed by their text, so expressions
// checked during validation are not parsed again for every run.
type Cache struct {
	mu    sync.RWMutex
	exprs map[string]Expression
}

func NewCache() *Cache {
	return &Cache{exprs: make(map[string]Expression)}
}

// Get returns the parsed expression for text, parsing and storing it on a miss.
func (c *Cache) Get(text string) (Expression, error) {
	c.mu.RLock()
	e, ok := c.exprs[text]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := Parse(text)
	if err != nil {
		return Expression{}, err
	}

	c.mu.Lock()
	c.exprs[text] = e
	c.mu.Unlock()
	return e, nil
}

// Len returns the number of cached expressions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exprs)
}
