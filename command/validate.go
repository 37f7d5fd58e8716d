package command

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/ketchup/internal/flow"
	"github.com/urfave/cli/v2"
)

var validateCommand = &cli.Command{
	Name:  "validate",
	Usage: "Validate configuration and test unit files",
	Description: `Validate runs every check done before the first request of a run: config
shape, assertion syntax and variables read before any unit sets them. No
request is sent and the database is not contacted.`,
	Flags:  configFlags(),
	Action: runValidate,
}

// ErrInvalidConfig is returned by the validate command after printing the problems
var ErrInvalidConfig = errors.New("configuration is invalid")

var (
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#4ECDC4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)
)

func runValidate(c *cli.Context) error {
	loader, closeLoader, err := newLoader(c)
	if err != nil {
		return err
	}
	defer closeLoader()

	cfgs, err := flow.New(loader, flow.Options{Secrets: secretsLoader(c)}).Validate(c.Context)
	if err != nil {
		fmt.Fprintf(c.App.Writer, "%s %v\n", errorStyle.Render("✗"), err)
		return ErrInvalidConfig
	}

	units := 0
	for _, cfg := range cfgs {
		units += len(cfg.TestUnits)
		fmt.Fprintf(c.App.Writer, "%s %s %s\n", okStyle.Render("✓"), cfg.Name, unselectedStyle.Render(fmt.Sprintf("(%d units)", len(cfg.TestUnits))))
	}
	fmt.Fprintf(c.App.Writer, "\n%s\n", okStyle.Bold(true).Render(fmt.Sprintf("%d test units in %d files are valid", units, len(cfgs))))
	return nil
}
