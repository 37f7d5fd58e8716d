package variables

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"time"
)

var (
	// "${name:number}" including the JSON quotes around it
	typedToken = regexp.MustCompile(`"\$\{([A-Za-z0-9_.\-]+):(number|boolean)\}"`)
	// ${name}, also matches a typed token embedded in a longer string
	untypedToken = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)(?::(?:number|boolean))?\}`)
)

const hashCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// ErrorKind classifies a ResolutionError.
type ErrorKind string

const (
	Unresolved   ErrorKind = "unresolved variable"
	TypeMismatch ErrorKind = "type mismatch"
)

// ResolutionError is returned when a placeholder cannot be substituted.
type ResolutionError struct {
	Kind ErrorKind
	Name string
	Want string
	Got  any
}

func (e *ResolutionError) Error() string {
	if e.Kind == TypeMismatch {
		return fmt.Sprintf("%s: variable %q is %T (%v), expected %s", e.Kind, e.Name, e.Got, e.Got, e.Want)
	}
	return fmt.Sprintf("%s: %q", e.Kind, e.Name)
}

// Option customizes the dynamic values used during substitution.
type Option func(*substitution)

// WithClock overrides the time source for ${dateTime.now}.
func WithClock(now func() time.Time) Option {
	return func(s *substitution) { s.now = now }
}

// WithRand overrides the random source for hashes and numbers.
func WithRand(r *rand.Rand) Option {
	return func(s *substitution) { s.intn = r.IntN }
}

type substitution struct {
	now  func() time.Time
	intn func(int) int

	hash   string
	number int
	vars   *Store
	err    error
}

// Substitute returns a copy of v with every ${...} placeholder replaced.
//
// The value is serialized to JSON and rewritten textually, so placeholders
// resolve the same way wherever they appear (URL, headers, body, paths).
// Dynamic values:
//   - ${random.hash}   6-char token, identical for every occurrence in v
//   - ${random.number} integer in [0, 10000), identical for every occurrence in v
//   - ${dateTime.now}  current UTC time, whole seconds, RFC 3339
//   - "${random.number:number}" a fresh integer per occurrence
func Substitute[T any](v T, vars *Store, opts ...Option) (T, error) {
	var zero T

	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("serializing: %w", err)
	}
	if !bytes.Contains(raw, []byte("${")) {
		return v, nil
	}

	s := &substitution{
		now:  time.Now,
		intn: rand.IntN,
		vars: vars,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hash = s.randomHash()
	s.number = s.intn(10000)

	out := s.rewriteTyped(raw)
	if s.err != nil {
		return zero, s.err
	}
	out = untypedToken.ReplaceAllFunc(out, s.replaceUntyped)
	if s.err != nil {
		return zero, s.err
	}

	var result T
	if err := json.Unmarshal(out, &result); err != nil {
		return zero, fmt.Errorf("deserializing substituted value: %w", err)
	}
	return result, nil
}

// rewriteTyped replaces typed tokens that form a whole JSON string. A
// match opening on an escaped quote lies inside a longer string and is left
// to the untyped pass.
func (s *substitution) rewriteTyped(raw []byte) []byte {
	var out bytes.Buffer
	last := 0
	for _, loc := range typedToken.FindAllIndex(raw, -1) {
		if escaped(raw, loc[0]) {
			continue
		}
		out.Write(raw[last:loc[0]])
		out.Write(s.replaceTyped(raw[loc[0]:loc[1]]))
		last = loc[1]
	}
	out.Write(raw[last:])
	return out.Bytes()
}

// escaped reports whether raw[i] is preceded by an odd number of backslashes
func escaped(raw []byte, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && raw[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func (s *substitution) replaceTyped(match []byte) []byte {
	if s.err != nil {
		return match
	}
	sub := typedToken.FindSubmatch(match)
	name, kind := string(sub[1]), string(sub[2])

	if name == RandomNumber && kind == "number" {
		return []byte(strconv.Itoa(s.intn(10000)))
	}

	val, ok := s.lookup(name)
	if !ok {
		s.err = &ResolutionError{Kind: Unresolved, Name: name}
		return match
	}

	switch kind {
	case "number":
		if n, ok := numberLiteral(val); ok {
			return []byte(n)
		}
	case "boolean":
		if b, ok := val.(bool); ok {
			return []byte(strconv.FormatBool(b))
		}
	}
	s.err = &ResolutionError{Kind: TypeMismatch, Name: name, Want: kind, Got: val}
	return match
}

func (s *substitution) replaceUntyped(match []byte) []byte {
	if s.err != nil {
		return match
	}
	name := string(untypedToken.FindSubmatch(match)[1])

	val, ok := s.lookup(name)
	if !ok {
		s.err = &ResolutionError{Kind: Unresolved, Name: name}
		return match
	}

	// the token sits inside a JSON string, so the value must be escaped
	quoted, err := json.Marshal(Stringify(val))
	if err != nil {
		s.err = fmt.Errorf("encoding variable %q: %w", name, err)
		return match
	}
	return quoted[1 : len(quoted)-1]
}

func (s *substitution) lookup(name string) (any, bool) {
	switch name {
	case RandomHash:
		return s.hash, true
	case RandomNumber:
		return s.number, true
	case DateTimeNow:
		return s.now().UTC().Truncate(time.Second).Format(time.RFC3339), true
	}
	if s.vars == nil {
		return nil, false
	}
	return s.vars.Get(name)
}

func (s *substitution) randomHash() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = hashCharset[s.intn(len(hashCharset))]
	}
	return string(b)
}

// Stringify renders a variable value the way it appears in text. Objects
// and arrays captured from a response body are rendered as JSON.
func Stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case map[string]any, []any:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprint(v)
	default:
		if n, ok := numberLiteral(v); ok {
			return n
		}
		return fmt.Sprint(v)
	}
}

func numberLiteral(val any) (string, bool) {
	switch n := val.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case int:
		return strconv.Itoa(n), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case json.Number:
		return n.String(), true
	default:
		return "", false
	}
}

// References returns the names of every variable v reads, in order of
// first appearance. Dynamic names are included.
func References(v any) ([]string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializing: %w", err)
	}
	var names []string
	seen := make(map[string]bool)
	for _, m := range untypedToken.FindAllSubmatch(raw, -1) {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// Neutralize replaces every placeholder in s with "0" so the text can be
// checked for syntax before any value is known.
func Neutralize(s string) string {
	return untypedToken.ReplaceAllString(s, "0")
}
