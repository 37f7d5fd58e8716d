package flow

import (
	"time"

	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/runner"
)

// Report is the outcome of a run. Units after a failure under
// stop-on-failure are NotExecuted; units the user declined to run in
// interactive mode are Skipped.
type Report struct {
	RunID       string
	Success     bool
	Successful  []string
	Failed      []string
	Skipped     []string
	NotExecuted []string
	Results     []runner.Result
	Duration    time.Duration
	// Err is set when the run was aborted before or between units
	Err error
}

// Total is the number of units the run knew about
func (r *Report) Total() int {
	return len(r.Successful) + len(r.Failed) + len(r.Skipped) + len(r.NotExecuted)
}

// Observer is notified as the run progresses
type Observer interface {
	RunStarted(runID string, units int)
	UnitStarted(file string, unit config.TestUnit)
	UnitFinished(file string, result runner.Result)
	RunFinished(report *Report)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string, int)              {}
func (nopObserver) UnitStarted(string, config.TestUnit) {}
func (nopObserver) UnitFinished(string, runner.Result)  {}
func (nopObserver) RunFinished(*Report)                 {}
