package command

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/flow"
	"github.com/tomatool/ketchup/internal/formatter"
	"github.com/tomatool/ketchup/internal/secrets"
	"github.com/urfave/cli/v2"
)

// ErrTestsFailed is returned by the run command when at least one unit
// failed or was not executed
var ErrTestsFailed = errors.New("test run failed")

// configFlags are the flags of commands that read a configuration
func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "ketchup.json",
			Usage:   "root config file path",
			EnvVars: []string{"KETCHUP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "config-redis",
			Usage:   "read configs from redis instead of files (redis://host:port/db)",
			EnvVars: []string{"KETCHUP_CONFIG_REDIS"},
		},
		&cli.StringFlag{
			Name:    "config-prefix",
			Value:   "ketchup",
			Usage:   "key prefix of configs stored in redis",
			EnvVars: []string{"KETCHUP_CONFIG_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "secrets-file",
			Usage:   "JSON or YAML file with database options and run variables",
			EnvVars: []string{"KETCHUP_SECRETS_FILE"},
		},
	}
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run test units",
	Description: `Run loads the root config, validates every test unit file, then runs the
units in order. The exit code is non-zero when any unit fails.

Secrets are read from KETCHUP_DB_* and KETCHUP_VAR_* environment variables,
the env file and the secrets file, later sources overriding earlier ones.
KETCHUP_DB_PASSWORD alone only supplies the password for the configured
database.`,
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:    "stop-on-failure",
			Usage:   "stop at the first failing unit",
			EnvVars: []string{"KETCHUP_STOP_ON_FAILURE"},
		},
		&cli.BoolFlag{
			Name:    "interactive",
			Aliases: []string{"i"},
			Usage:   "ask before running each following unit",
		},
		&cli.BoolFlag{
			Name:  "ask-db-password",
			Usage: "prompt for the database password when none is configured",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Value:   formatter.FormatPretty,
			Usage:   "output format: pretty or events",
			EnvVars: []string{"KETCHUP_FORMAT"},
		},
	}, configFlags()...),
	Action: runRun,
}

func runRun(c *cli.Context) error {
	observer, err := formatter.New(c.String("format"), c.App.Writer)
	if err != nil {
		return err
	}

	loader, closeLoader, err := newLoader(c)
	if err != nil {
		return err
	}
	defer closeLoader()

	opts := flow.Options{
		StopOnFailure: c.Bool("stop-on-failure"),
		Interactive:   c.Bool("interactive"),
		Secrets:       secretsLoader(c),
		Observer:      observer,
	}
	if opts.Interactive {
		opts.Confirm = promptConfirm(os.Stdin, c.App.Writer)
	}
	if c.Bool("ask-db-password") {
		opts.AskPassword = secrets.SurveyPassword
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := flow.New(loader, opts).Run(ctx)
	if err != nil {
		return err
	}
	if !report.Success {
		return ErrTestsFailed
	}
	return nil
}

// newLoader picks the config source from the flags. The returned func
// releases it.
func newLoader(c *cli.Context) (config.Loader, func(), error) {
	url := c.String("config-redis")
	if url == "" {
		return config.NewFileLoader(c.String("config")), func() {}, nil
	}

	client, err := config.NewRedisClient(url)
	if err != nil {
		return nil, nil, fmt.Errorf("config-redis: %w", err)
	}
	return config.NewRedisLoader(client, c.String("config-prefix")), func() { client.Close() }, nil
}

func secretsLoader(c *cli.Context) secrets.Loader {
	loaders := []secrets.Loader{secrets.FromEnv(c.String("env-file"))}
	if path := c.String("secrets-file"); path != "" {
		loaders = append(loaders, secrets.FromFile(path))
	}
	return secrets.Chain(loaders...)
}
