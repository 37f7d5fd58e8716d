package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// StatusCode is the expected HTTP status of a test unit: either a single
// code or a list of inclusive ranges.
type StatusCode struct {
	Code   int
	Ranges []StatusRange
}

type StatusRange struct {
	Low  int
	High int
}

func (r StatusRange) String() string {
	if r.Low == r.High {
		return strconv.Itoa(r.Low)
	}
	return fmt.Sprintf("%d-%d", r.Low, r.High)
}

// DefaultStatusCode is expected when a unit does not say otherwise
var DefaultStatusCode = StatusCode{Code: http.StatusOK}

// Matches reports whether status satisfies the expectation.
func (s StatusCode) Matches(status int) bool {
	if len(s.Ranges) == 0 {
		return status == s.Code
	}
	for _, r := range s.Ranges {
		if status >= r.Low && status <= r.High {
			return true
		}
	}
	return false
}

func (s StatusCode) String() string {
	if len(s.Ranges) == 0 {
		return strconv.Itoa(s.Code)
	}
	parts := make([]string, len(s.Ranges))
	for i, r := range s.Ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

func (s StatusCode) MarshalJSON() ([]byte, error) {
	if len(s.Ranges) == 0 {
		return json.Marshal(s.Code)
	}
	parts := make([]string, len(s.Ranges))
	for i, r := range s.Ranges {
		parts[i] = r.String()
	}
	return json.Marshal(parts)
}

func (s *StatusCode) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch val := v.(type) {
	case float64:
		s.Code = int(val)
		s.Ranges = nil
		return nil
	case string:
		r, err := ParseStatusRange(val)
		if err != nil {
			return err
		}
		s.Code, s.Ranges = 0, []StatusRange{r}
		return nil
	case []any:
		if len(val) == 0 {
			return fmt.Errorf("status code range list is empty")
		}
		ranges := make([]StatusRange, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("status code range must be a string like \"200-299\", got %v", item)
			}
			r, err := ParseStatusRange(str)
			if err != nil {
				return err
			}
			ranges = append(ranges, r)
		}
		s.Code, s.Ranges = 0, ranges
		return nil
	default:
		return fmt.Errorf("status code must be a number or a list of ranges, got %v", v)
	}
}

// ParseStatusRange parses "200-299" or a single code "404".
func ParseStatusRange(s string) (StatusRange, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(s), "-")
	low, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return StatusRange{}, fmt.Errorf("invalid status code range %q", s)
	}
	if !isRange {
		return StatusRange{Low: low, High: low}, nil
	}
	high, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil || high < low {
		return StatusRange{}, fmt.Errorf("invalid status code range %q", s)
	}
	return StatusRange{Low: low, High: high}, nil
}
