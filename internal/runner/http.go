package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/response"
)

// TransportError means no HTTP response was received
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPClient is the net/http implementation of HTTPCaller
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient returns a caller; a zero timeout means none.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Call(ctx context.Context, endpoint config.Endpoint) (*response.Response, error) {
	method := strings.ToUpper(endpoint.Method)

	body, isJSON, err := encodeBody(endpoint.Body)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range endpoint.Headers {
		// net/http sends req.Host, never a Host entry of req.Header
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}
	if isJSON && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().Str("method", method).Str("url", endpoint.URL).Msg("sending request")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, URL: endpoint.URL, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: endpoint.URL, Err: fmt.Errorf("reading body: %w", err)}
	}

	return response.New(resp.StatusCode, resp.Header, raw, time.Since(start)), nil
}

// encodeBody sends strings as-is and JSON-encodes anything else
func encodeBody(body any) ([]byte, bool, error) {
	switch b := body.(type) {
	case nil:
		return nil, false, nil
	case string:
		return []byte(b), false, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, false, fmt.Errorf("encoding request body: %w", err)
		}
		return data, true, nil
	}
}

var _ HTTPCaller = (*HTTPClient)(nil)
