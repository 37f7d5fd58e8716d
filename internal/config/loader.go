package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader acquires and validates run configuration
type Loader interface {
	LoadAndValidateRootConfig(ctx context.Context) (*RootConfig, error)
	// LoadTestUnitsConfigs returns the files in the order of names
	LoadTestUnitsConfigs(ctx context.Context, names []string) ([]TestUnitsConfig, error)
}

// Format of a config document
type Format int

const (
	FormatAuto Format = iota
	FormatJSON
	FormatYAML
)

func formatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	case ".json":
		return FormatJSON
	default:
		return FormatAuto
	}
}

// Decode parses a JSON or YAML document into v, rejecting unknown fields.
// YAML is converted to JSON first so both formats share the JSON field names
// and custom unmarshalers.
func Decode(data []byte, format Format, v any) error {
	if format == FormatAuto {
		format = FormatJSON
		if !json.Valid(data) {
			format = FormatYAML
		}
	}

	if format == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("converting yaml: %w", err)
		}
		data = converted
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parsing json: %w", err)
	}
	return nil
}

// decodeRoot turns a document into a validated RootConfig.
func decodeRoot(source string, data []byte, format Format) (*RootConfig, error) {
	var cfg RootConfig
	if err := Decode(data, format, &cfg); err != nil {
		return nil, &ValidationError{Source: source, Problems: []string{err.Error()}}
	}
	if err := cfg.Validate(source); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeUnits turns a document into a validated TestUnitsConfig.
func decodeUnits(name string, data []byte, format Format) (TestUnitsConfig, error) {
	cfg := TestUnitsConfig{Name: name}
	if err := Decode(data, format, &cfg); err != nil {
		return cfg, &ValidationError{Source: name, Problems: []string{err.Error()}}
	}
	cfg.Name = name
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FileLoader reads configuration from the local filesystem. Test unit
// files are resolved relative to the root config's directory; a name
// without extension is tried as .json, .yaml and .yml.
type FileLoader struct {
	RootPath string
}

func NewFileLoader(rootPath string) *FileLoader {
	return &FileLoader{RootPath: rootPath}
}

func (l *FileLoader) LoadAndValidateRootConfig(ctx context.Context) (*RootConfig, error) {
	data, err := os.ReadFile(l.RootPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return decodeRoot(l.RootPath, data, formatFromPath(l.RootPath))
}

func (l *FileLoader) LoadTestUnitsConfigs(ctx context.Context, names []string) ([]TestUnitsConfig, error) {
	cfgs := make([]TestUnitsConfig, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, err := l.resolve(name)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading test units file %s: %w", path, err)
		}
		cfg, err := decodeUnits(name, data, formatFromPath(path))
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (l *FileLoader) resolve(name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(l.RootPath), name)
	}
	if filepath.Ext(path) != "" {
		return path, nil
	}
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		if _, err := os.Stat(path + ext); err == nil {
			return path + ext, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", path+ext, err)
		}
	}
	return "", fmt.Errorf("test units file %q not found (tried .json, .yaml, .yml)", name)
}

// LoadSecretsFile reads a secrets document in JSON or YAML.
func LoadSecretsFile(path string) (*Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var s Secrets
	if err := Decode(data, formatFromPath(path), &s); err != nil {
		return nil, &ValidationError{Source: path, Problems: []string{err.Error()}}
	}
	return &s, nil
}

var _ Loader = (*FileLoader)(nil)
