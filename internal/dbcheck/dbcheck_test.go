package dbcheck

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/database"
)

// fakeDB serves counts and rows from memory
type fakeDB struct {
	mu        sync.Mutex
	counts    map[string]int64
	rows      map[string][]database.Row
	countErr  map[string]error
	countHits map[string]int
	allErr    error
}

func newFakeDB(counts map[string]int64) *fakeDB {
	return &fakeDB{
		counts:    counts,
		rows:      make(map[string][]database.Row),
		countErr:  make(map[string]error),
		countHits: make(map[string]int),
	}
}

func (f *fakeDB) Connect(ctx context.Context, opts config.DatabaseConnectionOptions) error { return nil }
func (f *fakeDB) DefaultSchema() string                                                    { return "public" }
func (f *fakeDB) Close() error                                                             { return nil }

func (f *fakeDB) CountRows(ctx context.Context, schema, table string) (int64, error) {
	if schema == "" {
		schema = f.DefaultSchema()
	}
	key := database.TableKey(schema, table)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countHits[key]++
	if err := f.countErr[key]; err != nil {
		return 0, err
	}
	n, ok := f.counts[key]
	if !ok {
		return 0, errors.New("relation does not exist")
	}
	return n, nil
}

func (f *fakeDB) CountRowsForAllTables(ctx context.Context) (map[string]int64, error) {
	if f.allErr != nil {
		return nil, f.allErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out, nil
}

func (f *fakeDB) GetRowsByFilter(ctx context.Context, schema, table string, filter map[string]any) ([]database.Row, error) {
	if schema == "" {
		schema = f.DefaultSchema()
	}
	var out []database.Row
	for _, row := range f.rows[database.TableKey(schema, table)] {
		match := true
		for k, v := range filter {
			if row[k] != v {
				match = false
			}
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeDB) set(key string, n int64) {
	f.mu.Lock()
	f.counts[key] = n
	f.mu.Unlock()
}

func intPtr(n int) *int { return &n }

func TestSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("only tables with expected change", func(t *testing.T) {
		db := newFakeDB(map[string]int64{"public.users": 5, "public.orders": 2, "audit.events": 9})
		c := New(db, nil)

		snap, err := c.Snapshot(ctx, &config.Validation{
			TablesToCheck: []config.TableCheck{
				{TableName: "users", ExpectedRowCountChange: intPtr(1)},
				{TableName: "events", SchemaName: "audit", ExpectedRowCountChange: intPtr(0)},
				{TableName: "orders", RowChecks: []config.RowCheck{{RowCountAssertion: "value = 0"}}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, Snapshot{"public.users": 5, "audit.events": 9}, snap)
	})

	t.Run("whole database", func(t *testing.T) {
		db := newFakeDB(map[string]int64{"public.users": 5, "public.orders": 2})
		c := New(db, nil)

		snap, err := c.Snapshot(ctx, &config.Validation{NoUnexpectedRowChanges: true})
		require.NoError(t, err)
		assert.Equal(t, Snapshot{"public.users": 5, "public.orders": 2}, snap)
	})

	t.Run("count error", func(t *testing.T) {
		db := newFakeDB(map[string]int64{})
		c := New(db, nil)

		_, err := c.Snapshot(ctx, &config.Validation{
			TablesToCheck: []config.TableCheck{{TableName: "missing", ExpectedRowCountChange: intPtr(1)}},
		})
		assert.Error(t, err)
	})

	t.Run("nil validation", func(t *testing.T) {
		snap, err := New(newFakeDB(nil), nil).Snapshot(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, snap)
	})
}

func TestCheckAll_RowCountDelta(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		expected int
		want     bool
	}{
		{"matching delta", 3, true},
		{"wrong delta", 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newFakeDB(map[string]int64{"public.users": 5})
			c := New(db, nil)
			tables := []config.TableCheck{{TableName: "users", ExpectedRowCountChange: intPtr(tt.expected)}}

			before, err := c.Snapshot(ctx, &config.Validation{TablesToCheck: tables})
			require.NoError(t, err)

			db.set("public.users", 8)
			assert.Equal(t, tt.want, c.CheckAll(ctx, tables, before))
		})
	}
}

func TestCheckAll_UnexpectedChanges(t *testing.T) {
	ctx := context.Background()
	tables := []config.TableCheck{{TableName: "users", ExpectedRowCountChange: intPtr(1)}}

	t.Run("flag set fails on unnamed change", func(t *testing.T) {
		db := newFakeDB(map[string]int64{"public.users": 5, "public.orders": 2})
		c := New(db, nil)

		before, err := c.Snapshot(ctx, &config.Validation{TablesToCheck: tables, NoUnexpectedRowChanges: true})
		require.NoError(t, err)

		db.set("public.users", 6)
		db.set("public.orders", 3)
		assert.False(t, c.CheckAll(ctx, tables, before))
	})

	t.Run("flag set passes without unnamed change", func(t *testing.T) {
		db := newFakeDB(map[string]int64{"public.users": 5, "public.orders": 2})
		c := New(db, nil)

		before, err := c.Snapshot(ctx, &config.Validation{TablesToCheck: tables, NoUnexpectedRowChanges: true})
		require.NoError(t, err)

		db.set("public.users", 6)
		assert.True(t, c.CheckAll(ctx, tables, before))
	})

	t.Run("flag unset ignores unnamed change", func(t *testing.T) {
		db := newFakeDB(map[string]int64{"public.users": 5, "public.orders": 2})
		c := New(db, nil)

		before, err := c.Snapshot(ctx, &config.Validation{TablesToCheck: tables})
		require.NoError(t, err)

		db.set("public.users", 6)
		db.set("public.orders", 30)
		assert.True(t, c.CheckAll(ctx, tables, before))
		assert.Zero(t, db.countHits["public.orders"])
	})
}

func TestCheckAll_RowChecks(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB(map[string]int64{})
	db.rows["public.users"] = []database.Row{
		{"id": int64(1), "name": "alice", "age": int64(30), "email": nil},
		{"id": int64(2), "name": "bob", "age": int64(41), "email": "bob@example.com"},
	}
	c := New(db, nil)

	tests := []struct {
		name string
		rc   config.RowCheck
		want bool
	}{
		{
			name: "column checks on filtered row",
			rc: config.RowCheck{
				QueryFilter:  map[string]any{"name": "alice"},
				ColumnChecks: []config.ColumnCheck{{Column: "age", Assertion: "value = 30"}, {Column: "email", Assertion: "typeof null"}},
			},
			want: true,
		},
		{
			name: "no rows without count assertion",
			rc: config.RowCheck{
				QueryFilter:  map[string]any{"name": "carol"},
				ColumnChecks: []config.ColumnCheck{{Column: "age", Assertion: "exists"}},
			},
			want: false,
		},
		{
			name: "no rows with count assertion",
			rc: config.RowCheck{
				QueryFilter:       map[string]any{"name": "carol"},
				RowCountAssertion: "value = 0",
			},
			want: true,
		},
		{
			name: "length form of count assertion",
			rc:   config.RowCheck{RowCountAssertion: "length = 2"},
			want: true,
		},
		{
			name: "wrong count",
			rc:   config.RowCheck{RowCountAssertion: "value > 2"},
			want: false,
		},
		{
			name: "failing column on any row fails",
			rc: config.RowCheck{
				ColumnChecks: []config.ColumnCheck{{Column: "age", Assertion: "value < 40"}},
			},
			want: false,
		},
		{
			name: "missing column is undefined",
			rc: config.RowCheck{
				QueryFilter:  map[string]any{"name": "bob"},
				ColumnChecks: []config.ColumnCheck{{Column: "nickname", Assertion: "exists"}},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := []config.TableCheck{{TableName: "users", RowChecks: []config.RowCheck{tt.rc}}}
			assert.Equal(t, tt.want, c.CheckAll(ctx, tables, Snapshot{}))
		})
	}
}

func TestCheckAll_Exhaustive(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB(map[string]int64{"public.users": 1, "public.orders": 1})
	db.rows["public.orders"] = []database.Row{{"id": int64(1)}}
	c := New(db, nil)

	tables := []config.TableCheck{
		{TableName: "users", ExpectedRowCountChange: intPtr(5)},
		{TableName: "orders", ExpectedRowCountChange: intPtr(0), RowChecks: []config.RowCheck{{RowCountAssertion: "value = 1"}}},
	}
	before, err := c.Snapshot(ctx, &config.Validation{TablesToCheck: tables})
	require.NoError(t, err)

	assert.False(t, c.CheckAll(ctx, tables, before))
	// the failing users check did not stop the orders count
	assert.Equal(t, 2, db.countHits["public.orders"])

	t.Run("row count failure still checks columns", func(t *testing.T) {
		logs := captureLogs(t)
		db.rows["public.users"] = []database.Row{{"id": int64(1), "email": "x"}}
		tables := []config.TableCheck{{TableName: "users", RowChecks: []config.RowCheck{{
			RowCountAssertion: "value = 2",
			ColumnChecks:      []config.ColumnCheck{{Column: "email", Assertion: "value = 'y'"}},
		}}}}

		assert.False(t, c.CheckAll(ctx, tables, Snapshot{}))
		assert.Contains(t, logs.String(), "public.users row count")
		assert.Contains(t, logs.String(), "public.users[0].email")
	})
}

// captureLogs redirects the global logger for the duration of the test
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestCheckAll_CountErrorAfterRequest(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB(map[string]int64{"public.users": 1})
	c := New(db, nil)
	tables := []config.TableCheck{{TableName: "users", ExpectedRowCountChange: intPtr(0)}}

	before, err := c.Snapshot(ctx, &config.Validation{TablesToCheck: tables})
	require.NoError(t, err)

	db.countErr["public.users"] = errors.New("connection reset")
	assert.False(t, c.CheckAll(ctx, tables, before))
}
