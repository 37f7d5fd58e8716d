package runner

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/dbcheck"
	"github.com/tomatool/ketchup/internal/response"
	"github.com/tomatool/ketchup/internal/variables"
)

// Result is the outcome of one test unit
type Result struct {
	Name     string
	Passed   bool
	Duration time.Duration
}

// Runner executes single test units
type Runner struct {
	http       HTTPCaller
	db         DBChecker
	cache      *assertion.Cache
	debug      config.DebugResponseOptions
	substitute []variables.Option
}

// New creates a runner calling endpoints over net/http. db is nil when no
// database is configured, in which case database checks are skipped.
func New(opts config.TestRunnerOptions, db DBChecker, cache *assertion.Cache) *Runner {
	return newRunner(NewHTTPClient(opts.RequestTimeout.Duration), db, cache, opts.DebugResponseOptions)
}

// newRunner is the internal constructor that allows dependency injection for testing
func newRunner(caller HTTPCaller, db DBChecker, cache *assertion.Cache, debug config.DebugResponseOptions, opts ...variables.Option) *Runner {
	if cache == nil {
		cache = assertion.NewCache()
	}
	return &Runner{
		http:       caller,
		db:         db,
		cache:      cache,
		debug:      debug,
		substitute: opts,
	}
}

// Run executes unit against the current variables. Variables listed in
// variablesToSet are written to vars as soon as they resolve.
func (r *Runner) Run(ctx context.Context, unit config.TestUnit, vars *variables.Store) Result {
	start := time.Now()
	logger := log.With().Str("unit", unit.Name).Logger()
	result := Result{Name: unit.Name}

	finish := func(passed bool) Result {
		result.Passed = passed
		result.Duration = time.Since(start)
		logger.Debug().Bool("passed", passed).Dur("duration", result.Duration).Msg("unit finished")
		return result
	}

	u, err := variables.Substitute(unit, vars, r.substitute...)
	if err != nil {
		logger.Error().Err(err).Msg("substituting variables")
		return finish(false)
	}

	validation := u.Validation
	checkDB := validation.HasDatabaseChecks()
	if checkDB && r.db == nil {
		logger.Debug().Msg("no database configured, skipping database checks")
		checkDB = false
	}

	var snapshot dbcheck.Snapshot
	if checkDB {
		snap, err := r.db.Snapshot(ctx, validation)
		if err != nil {
			logger.Error().Err(err).Msg("capturing row counts")
			return finish(false)
		}
		snapshot = snap
	}

	resp, err := r.http.Call(ctx, u.Endpoint)
	if err != nil {
		var terr *TransportError
		if errors.As(err, &terr) {
			logger.Error().Err(terr.Err).Str("url", terr.URL).Msg("request failed")
		} else {
			logger.Error().Err(err).Msg("request failed")
		}
		return finish(false)
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("latency", resp.Duration).Msg("response received")

	passed := true

	expected := config.DefaultStatusCode
	if validation != nil && validation.StatusCode != nil {
		expected = *validation.StatusCode
	}
	if !expected.Matches(resp.StatusCode) {
		logger.Warn().
			Int("status", resp.StatusCode).
			Str("expected", expected.String()).
			Msgf("unexpected status code %d, expected %s", resp.StatusCode, expected)
		passed = false
	} else if !r.setVariables(logger, u.VariablesToSet, resp, vars) {
		passed = false
	}

	if checkDB {
		if !r.db.CheckAll(ctx, validation.TablesToCheck, snapshot) {
			passed = false
		}
	}

	if validation != nil && !r.checkAssertions(logger, validation.Assertions, resp) {
		passed = false
	}

	r.dump(logger, resp, passed)
	return finish(passed)
}

// setVariables stores every resolved value. A failed resolution fails the
// unit; values already set stay in place.
func (r *Runner) setVariables(logger zerolog.Logger, toSet []config.VariableToSet, resp *response.Response, vars *variables.Store) bool {
	ok := true
	for _, v := range toSet {
		val, err := response.Resolve(resp, v.Path, true)
		if err != nil {
			logger.Warn().Err(err).Str("variable", v.VariableName).Msg("setting variable")
			ok = false
			continue
		}
		vars.Set(v.VariableName, val)
		logger.Debug().Str("variable", v.VariableName).Str("value", assertion.Describe(val)).Msg("variable set")
	}
	return ok
}

// checkAssertions evaluates every assertion, a missing path is passed to
// the evaluator as undefined.
func (r *Runner) checkAssertions(logger zerolog.Logger, assertions []config.Assertion, resp *response.Response) bool {
	ok := true
	for _, a := range assertions {
		expr, err := r.cache.Get(a.Assertion)
		if err != nil {
			logger.Warn().Err(err).Str("path", a.Path).Msg("assertion failed")
			ok = false
			continue
		}
		actual, err := response.Resolve(resp, a.Path, false)
		var perr *response.PathError
		if errors.As(err, &perr) && perr.Kind == response.HeaderNotFound {
			actual, err = assertion.Undefined, nil
		}
		if err != nil {
			logger.Warn().Err(err).Str("path", a.Path).Msg("assertion failed")
			ok = false
			continue
		}
		if !assertion.Evaluate(a.Path, actual, expr, true) {
			ok = false
		}
	}
	return ok
}

func (r *Runner) dump(logger zerolog.Logger, resp *response.Response, passed bool) {
	if !r.debug.Enabled() || (r.debug.OnlyOnFailure && passed) {
		return
	}
	ev := logger.Info().Int("status", resp.StatusCode)
	if r.debug.ShowHeaders {
		ev = ev.Interface("headers", resp.Headers)
	}
	if r.debug.ShowBody {
		ev = ev.Str("body", strings.TrimSpace(string(resp.RawBody)))
	}
	ev.Msg("response")
}
