package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomatool/ketchup/internal/assertion"
)

const (
	HeaderPrefix = "responseHeader"
	BodyPrefix   = "responseBody"
)

// Response is the outcome of one HTTP call as seen by validations.
type Response struct {
	StatusCode int
	// Headers are keyed by lower-cased name; repeated headers are joined with ", ".
	Headers  map[string]string
	Body     any
	RawBody  []byte
	Duration time.Duration
}

// New builds a Response from raw parts. A body that parses as JSON is
// decoded, anything else is kept as text.
func New(status int, header http.Header, body []byte, duration time.Duration) *Response {
	headers := make(map[string]string, len(header))
	for name, values := range header {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return &Response{
		StatusCode: status,
		Headers:    headers,
		Body:       DecodeBody(body),
		RawBody:    body,
		Duration:   duration,
	}
}

// DecodeBody parses JSON bodies and returns other payloads as a string.
// An empty body yields nil.
func DecodeBody(body []byte) any {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}

// ErrorKind classifies a PathError.
type ErrorKind string

const (
	InvalidPathPrefix ErrorKind = "invalid path prefix"
	HeaderNotFound    ErrorKind = "header not found"
	PathNotFound      ErrorKind = "path not found"
)

// PathError is returned when a path cannot be resolved against a response.
type PathError struct {
	Kind ErrorKind
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.Path)
}

// Resolve extracts the value addressed by path:
//
//	responseHeader.<name>      header lookup, name matched exactly against lower-cased headers
//	responseBody               the whole decoded body
//	responseBody.a.b.0.c       body navigation; a.b[0].c is accepted as well
//	responseBody[0].id         indexing straight into an array body
//
// Navigation stops at the first missing segment and yields
// assertion.Undefined; with assertExists set that is a PathNotFound error.
func Resolve(resp *Response, path string, assertExists bool) (any, error) {
	tokens := Tokenize(path)
	if len(tokens) == 0 {
		return nil, &PathError{Kind: InvalidPathPrefix, Path: path}
	}

	switch tokens[0] {
	case HeaderPrefix:
		segments := strings.Split(path, ".")
		if len(segments) != 2 || segments[0] != HeaderPrefix {
			return nil, &PathError{Kind: InvalidPathPrefix, Path: path}
		}
		val, ok := resp.Headers[segments[1]]
		if !ok {
			return nil, &PathError{Kind: HeaderNotFound, Path: path}
		}
		return val, nil

	case BodyPrefix:
		val := walk(resp.Body, tokens[1:])
		if assertExists && assertion.IsUndefined(val) {
			return nil, &PathError{Kind: PathNotFound, Path: path}
		}
		return val, nil

	default:
		return nil, &PathError{Kind: InvalidPathPrefix, Path: path}
	}
}

// Tokenize splits a body path on dots and expands name[index] segments,
// so "a.b[0].c" and "a.b.0.c" both yield [a b 0 c].
func Tokenize(path string) []string {
	if path == "" {
		return nil
	}
	var tokens []string
	for _, part := range strings.Split(path, ".") {
		for part != "" {
			idx := strings.Index(part, "[")
			if idx == -1 {
				tokens = append(tokens, part)
				break
			}
			if idx > 0 {
				tokens = append(tokens, part[:idx])
			}
			end := strings.Index(part[idx:], "]")
			if end == -1 {
				tokens = append(tokens, part[idx:])
				break
			}
			tokens = append(tokens, part[idx+1:idx+end])
			part = part[idx+end+1:]
		}
	}
	return tokens
}

func walk(current any, tokens []string) any {
	for _, tok := range tokens {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[tok]
			if !ok {
				return assertion.Undefined
			}
			current = next
		case []any:
			i, err := strconv.Atoi(tok)
			if err != nil || i < 0 || i >= len(node) {
				return assertion.Undefined
			}
			current = node[i]
		default:
			return assertion.Undefined
		}
	}
	return current
}
