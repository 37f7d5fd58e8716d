// Package database reads row counts and rows from the database behind the
// API under test.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomatool/ketchup/internal/config"
)

// ErrNotConfigured is returned when database checks are requested but no
// connection was configured for the run.
var ErrNotConfigured = errors.New("database not configured")

// Row is one table row keyed by column name. Values are normalized to
// string, int64, float64, bool or nil.
type Row map[string]any

// Service is the database capability the consistency checker needs
type Service interface {
	Connect(ctx context.Context, opts config.DatabaseConnectionOptions) error
	CountRows(ctx context.Context, schema, table string) (int64, error)
	// CountRowsForAllTables returns counts keyed by "schema.table"
	CountRowsForAllTables(ctx context.Context) (map[string]int64, error)
	// GetRowsByFilter returns rows whose columns equal every filter value;
	// an empty filter selects all rows.
	GetRowsByFilter(ctx context.Context, schema, table string, filter map[string]any) ([]Row, error)
	// DefaultSchema is used for table checks without a schemaName
	DefaultSchema() string
	Close() error
}

// New returns an unconnected service for the given dbms
func New(dbms string) (Service, error) {
	switch dbms {
	case config.DBMSPostgreSQL:
		return newSQL(postgres{}), nil
	case config.DBMSMySQL:
		return newSQL(&mysqlDialect{}), nil
	default:
		return nil, fmt.Errorf("unsupported dbms %q", dbms)
	}
}

// TableKey is the key used by CountRowsForAllTables
func TableKey(schema, table string) string {
	return schema + "." + table
}
