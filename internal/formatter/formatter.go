package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/flow"
	"github.com/tomatool/ketchup/internal/runner"
)

// Output formats accepted by New
const (
	FormatPretty = "pretty"
	FormatEvents = "events"
)

// New returns the observer printing a run in format
func New(format string, out io.Writer) (flow.Observer, error) {
	switch format {
	case "", FormatPretty:
		return NewPretty(out), nil
	case FormatEvents:
		return NewEvents(out), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want %s or %s)", format, FormatPretty, FormatEvents)
	}
}

// Event types for structured output
const (
	EventRunStart  = "run_start"
	EventUnitStart = "unit_start"
	EventUnitEnd   = "unit_end"
	EventSummary   = "summary"
)

// Event represents a structured run event
type Event struct {
	Type     string `json:"type"`
	RunID    string `json:"runId,omitempty"`
	File     string `json:"file,omitempty"`
	Unit     string `json:"unit,omitempty"`
	Status   string `json:"status,omitempty"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`

	// Summary fields
	Total       int      `json:"total,omitempty"`
	Passed      int      `json:"passed,omitempty"`
	Failed      int      `json:"failed,omitempty"`
	Skipped     int      `json:"skipped,omitempty"`
	NotExecuted int      `json:"notExecuted,omitempty"`
	FailedUnits []string `json:"failedUnits,omitempty"`
}

// EventPrefix marks event lines so they can be picked out of mixed output
const EventPrefix = "KETCHUP_EVENT:"

// Events outputs one JSON event per line
type Events struct {
	out   io.Writer
	runID string
}

func NewEvents(out io.Writer) *Events {
	return &Events{out: out}
}

func (f *Events) emit(event Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(f.out, "%s%s\n", EventPrefix, string(data))
}

func (f *Events) RunStarted(runID string, units int) {
	f.runID = runID
	f.emit(Event{Type: EventRunStart, RunID: runID, Total: units})
}

func (f *Events) UnitStarted(file string, unit config.TestUnit) {
	f.emit(Event{Type: EventUnitStart, RunID: f.runID, File: file, Unit: unit.Name})
}

func (f *Events) UnitFinished(file string, result runner.Result) {
	f.emit(Event{
		Type:     EventUnitEnd,
		RunID:    f.runID,
		File:     file,
		Unit:     result.Name,
		Status:   status(result.Passed),
		Duration: result.Duration.Round(time.Millisecond).String(),
	})
}

func (f *Events) RunFinished(report *flow.Report) {
	event := Event{
		Type:        EventSummary,
		RunID:       report.RunID,
		Status:      status(report.Success),
		Duration:    report.Duration.Round(time.Millisecond).String(),
		Total:       report.Total(),
		Passed:      len(report.Successful),
		Failed:      len(report.Failed),
		Skipped:     len(report.Skipped),
		NotExecuted: len(report.NotExecuted),
		FailedUnits: report.Failed,
	}
	if report.Err != nil {
		event.Error = report.Err.Error()
	}
	f.emit(event)
}

func status(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

// Styles for terminal output
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	passStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	skipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA500"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// Pretty prints a human readable run
type Pretty struct {
	out         io.Writer
	currentFile string
}

func NewPretty(out io.Writer) *Pretty {
	return &Pretty{out: out}
}

func (f *Pretty) RunStarted(runID string, units int) {
	fmt.Fprintf(f.out, "%s %s\n", titleStyle.Render("🥫 ketchup"), dimStyle.Render(fmt.Sprintf("run %s, %d units", runID, units)))
}

func (f *Pretty) UnitStarted(file string, unit config.TestUnit) {
	if file != f.currentFile {
		f.currentFile = file
		fmt.Fprintf(f.out, "\n%s\n", fileStyle.Render(file))
	}
}

func (f *Pretty) UnitFinished(file string, result runner.Result) {
	mark := passStyle.Render("✓")
	if !result.Passed {
		mark = failStyle.Render("✗")
	}
	fmt.Fprintf(f.out, "  %s %s %s\n", mark, result.Name, dimStyle.Render(result.Duration.Round(time.Millisecond).String()))
}

func (f *Pretty) RunFinished(report *flow.Report) {
	fmt.Fprint(f.out, Summary(report))
}

// Summary renders the outcome lists of a report
func Summary(report *flow.Report) string {
	var s strings.Builder
	s.WriteString("\n")

	section := func(title string, style lipgloss.Style, names []string) {
		if len(names) == 0 {
			return
		}
		s.WriteString(style.Render(fmt.Sprintf("%s (%d)", title, len(names))))
		s.WriteString("\n")
		for _, n := range names {
			s.WriteString(fmt.Sprintf("  - %s\n", n))
		}
	}

	section("Successful", passStyle, report.Successful)
	section("Failed", failStyle, report.Failed)
	section("Skipped", skipStyle, report.Skipped)
	section("Not executed", dimStyle, report.NotExecuted)

	if report.Err != nil {
		s.WriteString(failStyle.Render("Run aborted: "))
		s.WriteString(report.Err.Error())
		s.WriteString("\n")
	}

	line := fmt.Sprintf("%d passed, %d failed, %d skipped, %d not executed in %s",
		len(report.Successful), len(report.Failed), len(report.Skipped), len(report.NotExecuted),
		report.Duration.Round(time.Millisecond))
	if report.Success {
		s.WriteString(passStyle.Bold(true).Render("PASS") + " " + line + "\n")
	} else {
		s.WriteString(failStyle.Render("FAIL") + " " + line + "\n")
	}
	return s.String()
}

var (
	_ flow.Observer = (*Events)(nil)
	_ flow.Observer = (*Pretty)(nil)
)
