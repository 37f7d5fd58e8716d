// Package secrets provides the sources of run secrets: database credentials
// and extra run variables kept out of the checked-in config.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/joho/godotenv"
	"github.com/tomatool/ketchup/internal/config"
)

// Loader returns the secrets of a run, or nil when it has none
type Loader func(ctx context.Context) (*config.Secrets, error)

// Environment variables read by FromEnv
const (
	EnvDBMS       = "KETCHUP_DB_DBMS"
	EnvDBHost     = "KETCHUP_DB_HOST"
	EnvDBPort     = "KETCHUP_DB_PORT"
	EnvDBUser     = "KETCHUP_DB_USER"
	EnvDBPassword = "KETCHUP_DB_PASSWORD"
	EnvDBName     = "KETCHUP_DB_NAME"
	EnvDBSSLCert  = "KETCHUP_DB_SSL_CERT"
	EnvVarPrefix  = "KETCHUP_VAR_"
)

// FromEnv reads secrets from the process environment. Variables missing
// there are taken from envFile when it is set; KETCHUP_VAR_<name> becomes
// the run variable <name>.
func FromEnv(envFile string) Loader {
	return func(ctx context.Context) (*config.Secrets, error) {
		fileVars := map[string]string{}
		if envFile != "" {
			vars, err := godotenv.Read(envFile)
			if err != nil {
				return nil, fmt.Errorf("reading env file: %w", err)
			}
			fileVars = vars
		}

		env := make(map[string]string, len(fileVars))
		for k, v := range fileVars {
			env[k] = v
		}
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
		return fromMap(env)
	}
}

func fromMap(env map[string]string) (*config.Secrets, error) {
	var s config.Secrets

	if env[EnvDBHost] != "" || env[EnvDBMS] != "" || env[EnvDBPassword] != "" {
		opts := &config.DatabaseConnectionOptions{
			DBMS:               env[EnvDBMS],
			Host:               env[EnvDBHost],
			User:               env[EnvDBUser],
			Password:           env[EnvDBPassword],
			Database:           env[EnvDBName],
			SSLCertificatePath: env[EnvDBSSLCert],
		}
		if p := env[EnvDBPort]; p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid port %q", EnvDBPort, p)
			}
			opts.Port = port
		}
		s.DatabaseConnectionOptions = opts
	}

	for k, v := range env {
		name, ok := strings.CutPrefix(k, EnvVarPrefix)
		if !ok || name == "" {
			continue
		}
		if s.TestRunVariables == nil {
			s.TestRunVariables = make(map[string]any)
		}
		s.TestRunVariables[name] = v
	}

	if s.DatabaseConnectionOptions == nil && s.TestRunVariables == nil {
		return nil, nil
	}
	return &s, nil
}

// FromFile reads a JSON or YAML secrets file
func FromFile(path string) Loader {
	return func(ctx context.Context) (*config.Secrets, error) {
		return config.LoadSecretsFile(path)
	}
}

// Chain merges loaders in order; later database options replace earlier
// ones, except that credential-only options just fill in the credentials.
// Later variables override earlier variables of the same name.
func Chain(loaders ...Loader) Loader {
	return func(ctx context.Context) (*config.Secrets, error) {
		var merged *config.Secrets
		for _, load := range loaders {
			s, err := load(ctx)
			if err != nil {
				return nil, err
			}
			if s == nil {
				continue
			}
			if merged == nil {
				merged = &config.Secrets{}
			}
			switch {
			case s.DatabaseConnectionOptions == nil:
			case merged.DatabaseConnectionOptions == nil:
				merged.DatabaseConnectionOptions = s.DatabaseConnectionOptions
			default:
				merged.DatabaseConnectionOptions = config.MergeDatabaseOptions(merged.DatabaseConnectionOptions, s.DatabaseConnectionOptions)
			}
			for k, v := range s.TestRunVariables {
				if merged.TestRunVariables == nil {
					merged.TestRunVariables = make(map[string]any)
				}
				merged.TestRunVariables[k] = v
			}
		}
		return merged, nil
	}
}

// AskFunc asks the user for a hidden value
type AskFunc func(message string) (string, error)

// ErrPromptAborted is returned when the user interrupts the password prompt
var ErrPromptAborted = errors.New("password prompt aborted")

// SurveyPassword prompts on the terminal without echoing input
func SurveyPassword(message string) (string, error) {
	var password string
	prompt := &survey.Password{Message: message}
	if err := survey.AskOne(prompt, &password); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPromptAborted, err)
	}
	return password, nil
}
