package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/dbcheck"
	"github.com/tomatool/ketchup/internal/response"
	"github.com/tomatool/ketchup/internal/variables"
)

// Mock implementations

type mockDBChecker struct {
	snapshotErr    error
	checkResult    bool
	snapshotCalled bool
	checkCalled    bool
	checkedTables  []config.TableCheck
}

func (m *mockDBChecker) Snapshot(ctx context.Context, v *config.Validation) (dbcheck.Snapshot, error) {
	m.snapshotCalled = true
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	return dbcheck.Snapshot{"public.users": 1}, nil
}

func (m *mockDBChecker) CheckAll(ctx context.Context, tables []config.TableCheck, before dbcheck.Snapshot) bool {
	m.checkCalled = true
	m.checkedTables = tables
	return m.checkResult
}

type mockCaller struct {
	resp  *response.Response
	err   error
	calls []config.Endpoint
}

func (m *mockCaller) Call(ctx context.Context, endpoint config.Endpoint) (*response.Response, error) {
	m.calls = append(m.calls, endpoint)
	return m.resp, m.err
}

func intPtr(n int) *int { return &n }

func statusCode(t *testing.T, raw string) *config.StatusCode {
	t.Helper()
	var sc config.StatusCode
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		t.Fatalf("invalid status code %s: %v", raw, err)
	}
	return &sc
}

func newUsersServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			http.Error(w, "expected json", http.StatusUnsupportedMediaType)
			return
		}
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req-1")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":   42,
			"name": in["name"],
			"age":  in["age"],
			"tags": []string{"new"},
		})
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "42" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 42, "name": "alice", "address": null}`))
	})
	mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.Write(body)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRun_VariablesFlowBetweenUnits(t *testing.T) {
	server := newUsersServer(t)
	r := New(config.TestRunnerOptions{}, nil, nil)
	vars := variables.NewStore()
	vars.Set("age", 30)

	create := config.TestUnit{
		Name: "create user",
		Endpoint: config.Endpoint{
			Method: "POST",
			URL:    server.URL + "/users",
			Body:   map[string]any{"name": "alice", "age": "${age:number}"},
		},
		Validation: &config.Validation{
			StatusCode: statusCode(t, `["200-299"]`),
			Assertions: []config.Assertion{
				{Path: "responseBody.age", Assertion: "value = 30"},
				{Path: "responseBody.tags", Assertion: "length = 1"},
				{Path: "responseHeader.x-request-id", Assertion: "value = 'req-1'"},
			},
		},
		VariablesToSet: []config.VariableToSet{{VariableName: "userId", Path: "responseBody.id"}},
	}

	result := r.Run(context.Background(), create, vars)
	if !result.Passed {
		t.Fatal("expected create unit to pass")
	}
	if result.Name != "create user" {
		t.Errorf("expected result name 'create user', got %q", result.Name)
	}

	id, ok := vars.Get("userId")
	if !ok || id != float64(42) {
		t.Fatalf("expected userId=42, got %v (set=%v)", id, ok)
	}

	get := config.TestUnit{
		Name:     "get user",
		Endpoint: config.Endpoint{Method: "GET", URL: server.URL + "/users/${userId}"},
		Validation: &config.Validation{
			Assertions: []config.Assertion{
				{Path: "responseBody.name", Assertion: "value = 'alice'"},
				{Path: "responseBody.address", Assertion: "typeof null"},
				{Path: "responseBody.address", Assertion: "exists"},
			},
		},
	}
	if result := r.Run(context.Background(), get, vars); !result.Passed {
		t.Error("expected get unit to pass")
	}
}

func TestRun_Failures(t *testing.T) {
	server := newUsersServer(t)

	tests := []struct {
		name string
		unit config.TestUnit
	}{
		{
			name: "default status 200 rejects 201",
			unit: config.TestUnit{
				Name:     "create",
				Endpoint: config.Endpoint{Method: "POST", URL: server.URL + "/users", Body: map[string]any{"name": "a"}},
			},
		},
		{
			name: "status outside range",
			unit: config.TestUnit{
				Name:       "missing",
				Endpoint:   config.Endpoint{Method: "GET", URL: server.URL + "/users/7"},
				Validation: &config.Validation{StatusCode: statusCode(t, `["200-299"]`)},
			},
		},
		{
			name: "unresolved variable",
			unit: config.TestUnit{
				Name:     "unknown",
				Endpoint: config.Endpoint{Method: "GET", URL: server.URL + "/users/${nope}"},
			},
		},
		{
			name: "missing body path",
			unit: config.TestUnit{
				Name:     "path",
				Endpoint: config.Endpoint{Method: "GET", URL: server.URL + "/users/42"},
				Validation: &config.Validation{
					Assertions: []config.Assertion{{Path: "responseBody.profile.email", Assertion: "exists"}},
				},
			},
		},
		{
			name: "header lookup is case sensitive",
			unit: config.TestUnit{
				Name:     "header",
				Endpoint: config.Endpoint{Method: "GET", URL: server.URL + "/users/42"},
				Validation: &config.Validation{
					Assertions: []config.Assertion{{Path: "responseHeader.Content-Type", Assertion: "exists"}},
				},
			},
		},
		{
			name: "variable path missing",
			unit: config.TestUnit{
				Name:           "set",
				Endpoint:       config.Endpoint{Method: "GET", URL: server.URL + "/users/42"},
				VariablesToSet: []config.VariableToSet{{VariableName: "email", Path: "responseBody.email"}},
			},
		},
		{
			name: "transport error",
			unit: config.TestUnit{
				Name:     "down",
				Endpoint: config.Endpoint{Method: "GET", URL: "http://127.0.0.1:1/unreachable"},
			},
		},
	}

	r := New(config.TestRunnerOptions{}, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := r.Run(context.Background(), tt.unit, variables.NewStore()); result.Passed {
				t.Error("expected unit to fail")
			}
		})
	}
}

func TestRun_AssertionsAreExhaustive(t *testing.T) {
	caller := &mockCaller{resp: response.New(200, http.Header{}, []byte(`{"a": 1, "b": 2}`), time.Millisecond)}
	db := &mockDBChecker{checkResult: true}
	r := newRunner(caller, db, nil, config.DebugResponseOptions{})

	unit := config.TestUnit{
		Name:     "exhaustive",
		Endpoint: config.Endpoint{Method: "GET", URL: "http://example"},
		Validation: &config.Validation{
			Assertions: []config.Assertion{
				{Path: "responseBody.a", Assertion: "value = 99"},
				{Path: "responseBody.b", Assertion: "value = 2"},
			},
			TablesToCheck: []config.TableCheck{{TableName: "users", ExpectedRowCountChange: intPtr(0)}},
		},
	}

	if r.Run(context.Background(), unit, variables.NewStore()).Passed {
		t.Error("expected failing assertion to fail the unit")
	}
	if !db.checkCalled {
		t.Error("expected database checks to run despite the failing assertion")
	}
}

func TestRun_VariablesNotRolledBack(t *testing.T) {
	caller := &mockCaller{resp: response.New(200, http.Header{}, []byte(`{"id": 7}`), 0)}
	r := newRunner(caller, nil, nil, config.DebugResponseOptions{})
	vars := variables.NewStore()

	unit := config.TestUnit{
		Name:     "partial",
		Endpoint: config.Endpoint{Method: "GET", URL: "http://example"},
		VariablesToSet: []config.VariableToSet{
			{VariableName: "id", Path: "responseBody.id"},
			{VariableName: "missing", Path: "responseBody.nope"},
		},
	}

	if r.Run(context.Background(), unit, vars).Passed {
		t.Error("expected unit to fail")
	}
	if v, ok := vars.Get("id"); !ok || v != float64(7) {
		t.Errorf("expected id to stay set, got %v", v)
	}
	if _, ok := vars.Get("missing"); ok {
		t.Error("missing variable must not be set")
	}
}

func TestRun_StatusFailureSkipsVariables(t *testing.T) {
	caller := &mockCaller{resp: response.New(500, http.Header{}, []byte(`{"id": 7}`), 0)}
	r := newRunner(caller, nil, nil, config.DebugResponseOptions{})
	vars := variables.NewStore()

	unit := config.TestUnit{
		Name:           "boom",
		Endpoint:       config.Endpoint{Method: "GET", URL: "http://example"},
		VariablesToSet: []config.VariableToSet{{VariableName: "id", Path: "responseBody.id"}},
	}

	if r.Run(context.Background(), unit, vars).Passed {
		t.Error("expected unit to fail")
	}
	if vars.Len() != 0 {
		t.Errorf("expected no variables set, got %v", vars.Names())
	}
}

func TestRun_DatabaseChecks(t *testing.T) {
	ok := response.New(200, http.Header{}, []byte(`{}`), 0)
	unit := config.TestUnit{
		Name:     "db",
		Endpoint: config.Endpoint{Method: "POST", URL: "http://example"},
		Validation: &config.Validation{
			TablesToCheck: []config.TableCheck{{TableName: "users", ExpectedRowCountChange: intPtr(1)}},
		},
	}

	t.Run("skipped without database", func(t *testing.T) {
		r := newRunner(&mockCaller{resp: ok}, nil, nil, config.DebugResponseOptions{})
		if !r.Run(context.Background(), unit, variables.NewStore()).Passed {
			t.Error("expected unit to pass when no database is configured")
		}
	})

	t.Run("failed check fails unit", func(t *testing.T) {
		db := &mockDBChecker{checkResult: false}
		r := newRunner(&mockCaller{resp: ok}, db, nil, config.DebugResponseOptions{})
		if r.Run(context.Background(), unit, variables.NewStore()).Passed {
			t.Error("expected unit to fail")
		}
		if !db.snapshotCalled || !db.checkCalled {
			t.Error("expected snapshot and check to run")
		}
	})

	t.Run("snapshot error stops before request", func(t *testing.T) {
		db := &mockDBChecker{snapshotErr: errors.New("connection refused")}
		caller := &mockCaller{resp: ok}
		r := newRunner(caller, db, nil, config.DebugResponseOptions{})
		if r.Run(context.Background(), unit, variables.NewStore()).Passed {
			t.Error("expected unit to fail")
		}
		if len(caller.calls) != 0 {
			t.Errorf("expected no request, got %d", len(caller.calls))
		}
	})

	t.Run("no database validation requested", func(t *testing.T) {
		db := &mockDBChecker{checkResult: false}
		plain := config.TestUnit{Name: "plain", Endpoint: config.Endpoint{Method: "GET", URL: "http://example"}}
		r := newRunner(&mockCaller{resp: ok}, db, nil, config.DebugResponseOptions{})
		if !r.Run(context.Background(), plain, variables.NewStore()).Passed {
			t.Error("expected unit to pass")
		}
		if db.snapshotCalled {
			t.Error("expected no snapshot")
		}
	})
}

func TestHTTPClient_Body(t *testing.T) {
	server := newUsersServer(t)
	client := NewHTTPClient(time.Second)

	resp, err := client.Call(context.Background(), config.Endpoint{
		Method: "post",
		URL:    server.URL + "/echo",
		Body:   "plain text",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "plain text" {
		t.Errorf("expected raw string body, got %v", resp.Body)
	}
	if resp.Headers["content-type"] != "text/plain" {
		t.Errorf("expected lower-cased header key, got %v", resp.Headers)
	}

	resp, err = client.Call(context.Background(), config.Endpoint{
		Method:  "POST",
		URL:     server.URL + "/echo",
		Headers: map[string]string{"Content-Type": "application/vnd.api+json"},
		Body:    map[string]any{"a": 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, ok := resp.Body.(map[string]any)
	if !ok || body["a"] != float64(1) {
		t.Errorf("expected echoed json, got %v", resp.Body)
	}
}

func TestHTTPClient_HostHeader(t *testing.T) {
	var gotHost, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotHeader = r.Header.Get("X-Tenant")
	}))
	defer server.Close()

	_, err := NewHTTPClient(time.Second).Call(context.Background(), config.Endpoint{
		Method:  "GET",
		URL:     server.URL,
		Headers: map[string]string{"host": "api.internal", "X-Tenant": "acme"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotHost != "api.internal" {
		t.Errorf("expected virtual host api.internal, got %q", gotHost)
	}
	if gotHeader != "acme" {
		t.Errorf("expected other headers to be sent, got %q", gotHeader)
	}
}

func TestHTTPClient_TransportError(t *testing.T) {
	_, err := NewHTTPClient(time.Second).Call(context.Background(), config.Endpoint{Method: "GET", URL: "http://127.0.0.1:1"})

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.Contains(terr.Error(), "127.0.0.1:1") {
		t.Errorf("expected url in error, got %s", terr.Error())
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	r := New(config.TestRunnerOptions{RequestTimeout: config.Duration{Duration: 50 * time.Millisecond}}, nil, nil)
	unit := config.TestUnit{Name: "slow", Endpoint: config.Endpoint{Method: "GET", URL: slow.URL}}
	if r.Run(context.Background(), unit, variables.NewStore()).Passed {
		t.Error("expected timeout to fail the unit")
	}
}
