package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/config"
	"golang.org/x/sync/errgroup"
)

// countConcurrency bounds parallel COUNT queries
const countConcurrency = 8

// SQL implements Service over database/sql
type SQL struct {
	dialect dialect
	db      *sqlx.DB
	schema  string
}

func newSQL(d dialect) *SQL {
	return &SQL{dialect: d}
}

func (s *SQL) Connect(ctx context.Context, opts config.DatabaseConnectionOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	dsn, err := s.dialect.dsn(opts)
	if err != nil {
		return err
	}

	log.Debug().
		Str("dbms", opts.DBMS).
		Str("host", opts.Host).
		Str("database", opts.Database).
		Msg("connecting to database")

	db, err := sqlx.ConnectContext(ctx, s.dialect.driverName(), dsn)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", opts.DBMS, err)
	}
	db.SetMaxOpenConns(countConcurrency)

	s.db = db
	s.schema = s.dialect.defaultSchema(opts)
	return nil
}

func (s *SQL) DefaultSchema() string { return s.schema }

func (s *SQL) table(schema, table string) string {
	if schema == "" {
		schema = s.schema
	}
	return s.dialect.quote(schema) + "." + s.dialect.quote(table)
}

func (s *SQL) CountRows(ctx context.Context, schema, table string) (int64, error) {
	if s.db == nil {
		return 0, ErrNotConfigured
	}
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM "+s.table(schema, table)); err != nil {
		return 0, fmt.Errorf("counting rows of %s: %w", TableKey(schema, table), err)
	}
	return count, nil
}

func (s *SQL) CountRowsForAllTables(ctx context.Context) (map[string]int64, error) {
	if s.db == nil {
		return nil, ErrNotConfigured
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.listTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	type tableName struct{ schema, table string }
	var tables []tableName
	for rows.Next() {
		var t tableName
		if err := rows.Scan(&t.schema, &t.table); err != nil {
			rows.Close()
			return nil, fmt.Errorf("listing tables: %w", err)
		}
		tables = append(tables, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	var mu sync.Mutex
	counts := make(map[string]int64, len(tables))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for _, t := range tables {
		g.Go(func() error {
			n, err := s.CountRows(ctx, t.schema, t.table)
			if err != nil {
				return err
			}
			mu.Lock()
			counts[TableKey(t.schema, t.table)] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().Int("tables", len(counts)).Msg("counted rows for all tables")
	return counts, nil
}

func (s *SQL) GetRowsByFilter(ctx context.Context, schema, table string, filter map[string]any) ([]Row, error) {
	if s.db == nil {
		return nil, ErrNotConfigured
	}

	q := newQueryBuilder(s.dialect, "SELECT * FROM "+s.table(schema, table))
	q.WhereAll(filter)

	rows, err := s.db.QueryxContext(ctx, q.Query(), q.Arguments()...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", TableKey(schema, table), err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("reading column types: %w", err)
	}
	numeric := make(map[string]bool, len(colTypes))
	for _, ct := range colTypes {
		numeric[ct.Name()] = isNumericType(ct.DatabaseTypeName())
	}

	var result []Row
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(Row, len(m))
		for col, v := range m {
			row[col] = normalizeValue(v, numeric[col])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return result, nil
}

func (s *SQL) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isNumericType(name string) bool {
	switch strings.ToUpper(name) {
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"UNSIGNED INT", "UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED BIGINT",
		"DECIMAL", "NUMERIC", "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL":
		return true
	}
	return false
}

// normalizeValue converts driver values into the scalar types assertions
// compare against.
func normalizeValue(v any, numeric bool) any {
	switch val := v.(type) {
	case []byte:
		s := string(val)
		if numeric {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
		return s
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int32:
		return int64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Service = (*SQL)(nil)
