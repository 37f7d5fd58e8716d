package command

import (
	"fmt"

	"github.com/tomatool/ketchup/internal/version"
	"github.com/urfave/cli/v2"
)

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Print version information",
	Action: func(c *cli.Context) error {
		w := c.App.Writer
		fmt.Fprintf(w, "ketchup version %s\n", version.Version)
		fmt.Fprintf(w, "  commit:   %s\n", version.Commit)
		fmt.Fprintf(w, "  built:    %s\n", version.BuildDate)
		fmt.Fprintf(w, "  platform: %s\n", version.Platform())
		return nil
	},
}
