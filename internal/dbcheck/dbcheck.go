// Package dbcheck verifies the database side effects of a test unit against
// row counts captured right before its HTTP call.
package dbcheck

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/database"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentCounts bounds parallel COUNT queries per unit
const maxConcurrentCounts = 8

// Snapshot maps "schema.table" to its row count
type Snapshot map[string]int64

// Keys returns the snapshot tables in sorted order
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type Checker struct {
	db    database.Service
	cache *assertion.Cache
}

// New returns a checker reading from db. A nil cache gets a private one.
func New(db database.Service, cache *assertion.Cache) *Checker {
	if cache == nil {
		cache = assertion.NewCache()
	}
	return &Checker{db: db, cache: cache}
}

func (c *Checker) key(t config.TableCheck) string {
	schema := t.SchemaName
	if schema == "" {
		schema = c.db.DefaultSchema()
	}
	return database.TableKey(schema, t.TableName)
}

// Snapshot captures the counts needed by CheckAll. When the validation asks
// for no unexpected row changes every table is counted, otherwise only the
// tables with an expectedRowCountChange.
func (c *Checker) Snapshot(ctx context.Context, v *config.Validation) (Snapshot, error) {
	if v == nil {
		return Snapshot{}, nil
	}
	if v.NoUnexpectedRowChanges {
		counts, err := c.db.CountRowsForAllTables(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot of all tables: %w", err)
		}
		snap := Snapshot(counts)
		// tables named explicitly may live outside the listed schemas
		for _, t := range v.TablesToCheck {
			if t.ExpectedRowCountChange == nil {
				continue
			}
			if _, ok := snap[c.key(t)]; !ok {
				n, err := c.db.CountRows(ctx, t.SchemaName, t.TableName)
				if err != nil {
					return nil, fmt.Errorf("snapshot of %s: %w", c.key(t), err)
				}
				snap[c.key(t)] = n
			}
		}
		return snap, nil
	}

	var tables []config.TableCheck
	for _, t := range v.TablesToCheck {
		if t.ExpectedRowCountChange != nil {
			tables = append(tables, t)
		}
	}

	var mu sync.Mutex
	snap := make(Snapshot, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCounts)
	for _, t := range tables {
		g.Go(func() error {
			n, err := c.db.CountRows(gctx, t.SchemaName, t.TableName)
			if err != nil {
				return fmt.Errorf("snapshot of %s: %w", c.key(t), err)
			}
			mu.Lock()
			snap[c.key(t)] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

type countResult struct {
	n   int64
	err error
}

// afterCounts fetches current counts for keys concurrently. A failed count
// is kept per table so the remaining checks still run.
func (c *Checker) afterCounts(ctx context.Context, keys map[string][2]string) map[string]countResult {
	var mu sync.Mutex
	results := make(map[string]countResult, len(keys))

	var g errgroup.Group
	g.SetLimit(maxConcurrentCounts)
	for key, st := range keys {
		g.Go(func() error {
			n, err := c.db.CountRows(ctx, st[0], st[1])
			mu.Lock()
			results[key] = countResult{n: n, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// CheckAll runs every table check and the implicit zero-delta check for
// each snapshot table not named in tables. It never stops at the first
// failure: every failing check is logged.
func (c *Checker) CheckAll(ctx context.Context, tables []config.TableCheck, before Snapshot) bool {
	named := make(map[string]bool, len(tables))
	toCount := make(map[string][2]string)
	for _, t := range tables {
		key := c.key(t)
		named[key] = true
		if t.ExpectedRowCountChange != nil {
			schema := t.SchemaName
			if schema == "" {
				schema = c.db.DefaultSchema()
			}
			toCount[key] = [2]string{schema, t.TableName}
		}
	}
	for _, key := range before.Keys() {
		if named[key] {
			continue
		}
		schema, table := splitKey(key)
		toCount[key] = [2]string{schema, table}
	}

	after := c.afterCounts(ctx, toCount)
	passed := true

	for _, t := range tables {
		key := c.key(t)
		if t.ExpectedRowCountChange != nil {
			if !checkDelta(key, before, after[key], *t.ExpectedRowCountChange) {
				passed = false
			}
		}
		for i, rc := range t.RowChecks {
			if !c.checkRows(ctx, t, key, i, rc) {
				passed = false
			}
		}
	}

	for _, key := range before.Keys() {
		if named[key] {
			continue
		}
		if !checkDelta(key, before, after[key], 0) {
			passed = false
		}
	}

	return passed
}

func checkDelta(key string, before Snapshot, after countResult, expected int) bool {
	prev, ok := before[key]
	if !ok {
		log.Warn().Str("table", key).Msg("table check failed: no row count captured before the request")
		return false
	}
	if after.err != nil {
		log.Warn().Str("table", key).Err(after.err).Msg("table check failed: counting rows")
		return false
	}
	delta := after.n - prev
	if delta != int64(expected) {
		log.Warn().
			Str("table", key).
			Int64("before", prev).
			Int64("after", after.n).
			Int("expected_change", expected).
			Msgf("table check failed: %s row count changed by %d, expected %d", key, delta, expected)
		return false
	}
	log.Debug().Str("table", key).Int64("change", delta).Msg("row count change ok")
	return true
}

func (c *Checker) checkRows(ctx context.Context, t config.TableCheck, key string, index int, rc config.RowCheck) bool {
	logger := log.With().Str("table", key).Int("row_check", index).Logger()

	rows, err := c.db.GetRowsByFilter(ctx, t.SchemaName, t.TableName, rc.QueryFilter)
	if err != nil {
		logger.Warn().Err(err).Msg("row check failed: querying rows")
		return false
	}

	passed := true
	if rc.RowCountAssertion == "" {
		if len(rows) == 0 {
			logger.Warn().Interface("filter", rc.QueryFilter).Msg("row check failed: no rows match the filter")
			return false
		}
	} else if expr, err := c.cache.Get(rc.RowCountAssertion); err != nil {
		logger.Warn().Err(err).Msg("row check failed")
		passed = false
	} else {
		// "length" expressions measure the rows, the others see the count
		var actual any = len(rows)
		if expr.Kind == assertion.KindLength {
			actual = rows
		}
		if !assertion.Evaluate(key+" row count", actual, expr, true) {
			passed = false
		}
	}

	// column checks still run after a failed row count
	for i, row := range rows {
		for _, cc := range rc.ColumnChecks {
			expr, err := c.cache.Get(cc.Assertion)
			if err != nil {
				logger.Warn().Err(err).Str("column", cc.Column).Msg("column check failed")
				passed = false
				continue
			}
			actual, ok := row[cc.Column]
			if !ok {
				actual = assertion.Undefined
			}
			path := fmt.Sprintf("%s[%d].%s", key, i, cc.Column)
			if !assertion.Evaluate(path, actual, expr, true) {
				passed = false
			}
		}
	}
	return passed
}

func splitKey(key string) (schema, table string) {
	schema, table, ok := strings.Cut(key, ".")
	if !ok {
		return "", key
	}
	return schema, table
}
