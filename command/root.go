package command

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/version"
	"github.com/urfave/cli/v2"
)

func init() {
	// -v is taken by --verbose
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}
}

func Run(args []string) error {
	return newApp().Run(args)
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ketchup",
		Usage:   "Declarative API testing with database consistency checks",
		Version: version.String(),
		Description: `Ketchup runs HTTP test units described in JSON or YAML files, one after
another, passing values between them through run variables. Each unit can
assert on the response and on how the database changed because of it.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "environment variable file path",
				EnvVars: []string{"KETCHUP_ENV_FILE"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log every request and check",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "write logs as JSON instead of console text",
			},
		},
		Before: func(c *cli.Context) error {
			setupLogging(c.Bool("verbose"), c.Bool("log-json"))
			if envFile := c.String("env-file"); envFile != "" {
				return godotenv.Load(envFile)
			}
			return nil
		},
		Commands: []*cli.Command{
			initCommand,
			runCommand,
			validateCommand,
			versionCommand,
		},
	}
}

func setupLogging(verbose, asJSON bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if asJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}
