// Package flow drives a whole test run: configuration, secrets, upfront
// validation, then every test unit in order.
package flow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/assertion"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/database"
	"github.com/tomatool/ketchup/internal/dbcheck"
	"github.com/tomatool/ketchup/internal/runner"
	"github.com/tomatool/ketchup/internal/secrets"
	"github.com/tomatool/ketchup/internal/variables"
)

// SecretsLoader returns the run secrets, nil when there are none
type SecretsLoader = secrets.Loader

// ConfirmFunc is asked after each unit in interactive mode
type ConfirmFunc func() bool

// UnitRunner executes one test unit
type UnitRunner interface {
	Run(ctx context.Context, unit config.TestUnit, vars *variables.Store) runner.Result
}

// DatabaseFactory returns an unconnected service for a dbms
type DatabaseFactory func(dbms string) (database.Service, error)

// RunnerFactory builds the unit runner once the run configuration is known
type RunnerFactory func(opts config.TestRunnerOptions, db runner.DBChecker, cache *assertion.Cache) UnitRunner

type Options struct {
	StopOnFailure bool
	Interactive   bool

	Secrets SecretsLoader
	Confirm ConfirmFunc
	// AskPassword is used when the database options carry no password
	AskPassword secrets.AskFunc
	Observer    Observer
}

// Controller runs test units
type Controller struct {
	loader    config.Loader
	opts      Options
	newDB     DatabaseFactory
	newRunner RunnerFactory
}

func New(loader config.Loader, opts Options) *Controller {
	return newController(loader, opts, database.New, func(o config.TestRunnerOptions, db runner.DBChecker, cache *assertion.Cache) UnitRunner {
		return runner.New(o, db, cache)
	})
}

// newController is the internal constructor that allows dependency injection for testing
func newController(loader config.Loader, opts Options, newDB DatabaseFactory, newRunner RunnerFactory) *Controller {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Controller{
		loader:    loader,
		opts:      opts,
		newDB:     newDB,
		newRunner: newRunner,
	}
}

type plannedUnit struct {
	file string
	unit config.TestUnit
}

// plan is a loaded and fully validated run configuration
type plan struct {
	root       *config.RootConfig
	dbOpts     *config.DatabaseConnectionOptions
	secretVars map[string]any
	cfgs       []config.TestUnitsConfig
	cache      *assertion.Cache
}

// prepare loads the configuration and secrets and checks everything that
// can be checked before the first request.
func (c *Controller) prepare(ctx context.Context) (*plan, error) {
	root, err := c.loader.LoadAndValidateRootConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading root config: %w", err)
	}
	p := &plan{root: root, dbOpts: root.DatabaseConnectionOptions}

	if c.opts.Secrets != nil {
		s, err := c.opts.Secrets(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
		if s != nil {
			p.dbOpts = config.MergeDatabaseOptions(p.dbOpts, s.DatabaseConnectionOptions)
			p.secretVars = s.TestRunVariables
		}
	}

	if p.dbOpts != nil {
		if p.dbOpts.Password == "" && c.opts.AskPassword != nil {
			password, err := c.opts.AskPassword(fmt.Sprintf("Password for %s@%s/%s:", p.dbOpts.User, p.dbOpts.Host, p.dbOpts.Database))
			if err != nil {
				return nil, fmt.Errorf("reading database password: %w", err)
			}
			copied := *p.dbOpts
			copied.Password = password
			p.dbOpts = &copied
		}
		if err := p.dbOpts.Validate(); err != nil {
			return nil, err
		}
	}

	p.cfgs, err = c.loader.LoadTestUnitsConfigs(ctx, root.TestUnitsConfigs)
	if err != nil {
		return nil, fmt.Errorf("loading test units: %w", err)
	}

	known := make([]string, 0, len(root.InitialTestRunVariables)+len(p.secretVars))
	for name := range root.InitialTestRunVariables {
		known = append(known, name)
	}
	for name := range p.secretVars {
		known = append(known, name)
	}
	sort.Strings(known)
	if err := config.CheckReadBeforeWrite(p.cfgs, known); err != nil {
		return nil, err
	}

	p.cache = assertion.NewCache()
	if err := config.CompileAssertions(p.cfgs, p.cache); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate loads and checks the whole configuration without connecting to
// the database or sending any request. It returns the test unit files.
func (c *Controller) Validate(ctx context.Context) ([]config.TestUnitsConfig, error) {
	p, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return p.cfgs, nil
}

// Run executes the whole run. The returned error is the reason the run was
// aborted; failing units only show up in the report.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: newRunID()}

	fail := func(err error) (*Report, error) {
		report.Err = err
		report.Success = false
		report.Duration = time.Since(start)
		log.Error().Err(err).Str("run", report.RunID).Msg("run aborted")
		c.opts.Observer.RunFinished(report)
		return report, err
	}

	p, err := c.prepare(ctx)
	if err != nil {
		return fail(err)
	}

	var checker runner.DBChecker
	if p.dbOpts != nil {
		svc, err := c.newDB(p.dbOpts.DBMS)
		if err != nil {
			return fail(err)
		}
		if err := svc.Connect(ctx, *p.dbOpts); err != nil {
			return fail(fmt.Errorf("connecting to database: %w", err))
		}
		defer svc.Close()
		checker = dbcheck.New(svc, p.cache)
	}

	vars := variables.NewStore()
	vars.Merge(p.root.InitialTestRunVariables)
	vars.Merge(p.secretVars)
	vars.Set(variables.TestRunHash, report.RunID)

	var units []plannedUnit
	for _, cfg := range p.cfgs {
		for _, u := range cfg.TestUnits {
			units = append(units, plannedUnit{file: cfg.Name, unit: u})
		}
	}

	unitRunner := c.newRunner(p.root.TestRunnerOptions, checker, p.cache)
	log.Info().Str("run", report.RunID).Int("units", len(units)).Int("files", len(p.cfgs)).Msg("starting run")
	c.opts.Observer.RunStarted(report.RunID, len(units))

	for i, planned := range units {
		if err := ctx.Err(); err != nil {
			report.NotExecuted = append(report.NotExecuted, names(units[i:])...)
			return fail(err)
		}

		c.opts.Observer.UnitStarted(planned.file, planned.unit)
		result := unitRunner.Run(ctx, planned.unit, vars)
		report.Results = append(report.Results, result)
		c.opts.Observer.UnitFinished(planned.file, result)

		if result.Passed {
			report.Successful = append(report.Successful, planned.unit.Name)
		} else {
			report.Failed = append(report.Failed, planned.unit.Name)
			if c.opts.StopOnFailure {
				report.NotExecuted = append(report.NotExecuted, names(units[i+1:])...)
				log.Warn().Str("unit", planned.unit.Name).Int("remaining", len(units)-i-1).Msg("stopping on failure")
				break
			}
		}

		last := i == len(units)-1
		if c.opts.Interactive && !last && c.opts.Confirm != nil && !c.opts.Confirm() {
			report.Skipped = append(report.Skipped, names(units[i+1:])...)
			log.Info().Int("skipped", len(units)-i-1).Msg("run stopped by user")
			break
		}
	}

	report.Success = len(report.Failed) == 0
	report.Duration = time.Since(start)
	c.opts.Observer.RunFinished(report)
	return report, nil
}

func names(units []plannedUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.unit.Name
	}
	return out
}

func newRunID() string {
	return uuid.New().String()[:8]
}
