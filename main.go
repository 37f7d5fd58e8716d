package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/ketchup/command"
)

var errorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FF6B6B")).
	Bold(true)

func main() {
	if err := command.Run(os.Args); err != nil {
		// the summary already explains failed units
		if !errors.Is(err, command.ErrTestsFailed) {
			fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		}
		os.Exit(1)
	}
}
