package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// RootConfig is the entry point of a test run
type RootConfig struct {
	// Test unit files, run in this order
	TestUnitsConfigs          []string                   `json:"testUnitsConfigs"`
	DatabaseConnectionOptions *DatabaseConnectionOptions `json:"databaseConnectionOptions,omitempty"`
	InitialTestRunVariables   map[string]any             `json:"initialTestRunVariables,omitempty"`
	TestRunnerOptions         TestRunnerOptions          `json:"testRunnerOptions,omitempty"`
}

// Supported values of DatabaseConnectionOptions.DBMS
const (
	DBMSPostgreSQL = "postgresql"
	DBMSMySQL      = "mysql"
)

type DatabaseConnectionOptions struct {
	DBMS     string `json:"dbms"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	// CA certificate; when set the connection requires TLS
	SSLCertificatePath string `json:"sslCertificatePath,omitempty"`
}

// MergeDatabaseOptions applies override on top of base. Options without a
// host or dbms only carry credentials and fill those into base; a nil base
// leaves nothing for them to apply to.
func MergeDatabaseOptions(base, override *DatabaseConnectionOptions) *DatabaseConnectionOptions {
	if override == nil {
		return base
	}
	if override.Host != "" || override.DBMS != "" {
		return override
	}
	if base == nil {
		return nil
	}
	merged := *base
	if override.User != "" {
		merged.User = override.User
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	return &merged
}

type TestRunnerOptions struct {
	DebugResponseOptions DebugResponseOptions `json:"debugResponseOptions,omitempty"`
	// Per-request timeout, zero means none
	RequestTimeout Duration `json:"requestTimeout,omitempty"`
}

// DebugResponseOptions controls dumping of HTTP responses to the log
type DebugResponseOptions struct {
	ShowHeaders   bool `json:"showHeaders,omitempty"`
	ShowBody      bool `json:"showBody,omitempty"`
	OnlyOnFailure bool `json:"onlyOnFailure,omitempty"`
}

// Enabled reports whether any part of the response should be dumped
func (o DebugResponseOptions) Enabled() bool {
	return o.ShowHeaders || o.ShowBody
}

// Secrets are merged over the root config at run start
type Secrets struct {
	DatabaseConnectionOptions *DatabaseConnectionOptions `json:"databaseConnectionOptions,omitempty"`
	TestRunVariables          map[string]any             `json:"testRunVariables,omitempty"`
}

// TestUnitsConfig is one file of test units
type TestUnitsConfig struct {
	// Name the file was requested by
	Name      string     `json:"-"`
	TestUnits []TestUnit `json:"testUnits"`
}

type TestUnit struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Endpoint       Endpoint        `json:"endpoint"`
	Validation     *Validation     `json:"validation,omitempty"`
	VariablesToSet []VariableToSet `json:"variablesToSet,omitempty"`
}

type Endpoint struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// Strings are sent as-is, anything else is JSON encoded
	Body any `json:"body,omitempty"`
}

type Validation struct {
	StatusCode             *StatusCode  `json:"statusCode,omitempty"`
	Assertions             []Assertion  `json:"assertions,omitempty"`
	TablesToCheck          []TableCheck `json:"tablesToCheck,omitempty"`
	NoUnexpectedRowChanges bool         `json:"tablesHaveNoUnexpectedRowCountChanges,omitempty"`
}

// HasDatabaseChecks reports whether the unit asks for any database validation
func (v *Validation) HasDatabaseChecks() bool {
	return v != nil && (len(v.TablesToCheck) > 0 || v.NoUnexpectedRowChanges)
}

type Assertion struct {
	Path      string `json:"path"`
	Assertion string `json:"assertion"`
}

type VariableToSet struct {
	VariableName string `json:"variableName"`
	Path         string `json:"path"`
}

type TableCheck struct {
	TableName              string     `json:"tableName"`
	SchemaName             string     `json:"schemaName,omitempty"`
	ExpectedRowCountChange *int       `json:"expectedRowCountChange,omitempty"`
	RowChecks              []RowCheck `json:"rowChecks,omitempty"`
}

// RowCheck selects rows with QueryFilter (all rows when empty) and asserts
// on their count and columns.
type RowCheck struct {
	QueryFilter       map[string]any `json:"queryFilter,omitempty"`
	ColumnChecks      []ColumnCheck  `json:"columnChecks,omitempty"`
	RowCountAssertion string         `json:"rowCountAssertion,omitempty"`
}

type ColumnCheck struct {
	Column    string `json:"column"`
	Assertion string `json:"assertion"`
}

// Duration accepts Go duration strings ("30s") or a number of milliseconds
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		d.Duration = time.Duration(val) * time.Millisecond
	case string:
		if val == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		d.Duration = parsed
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}
