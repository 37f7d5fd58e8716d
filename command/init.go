package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tomatool/ketchup/internal/config"
	"github.com/urfave/cli/v2"
)

var initCommand = &cli.Command{
	Name:  "init",
	Usage: "Initialize a new ketchup project",
	Description: `Create ketchup.json and an example test units file interactively.

Asks for the database the API writes to and the base URL the tests call.`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "overwrite existing files",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "skip the wizard and use the defaults",
		},
		&cli.StringFlag{
			Name:  "dir",
			Value: ".",
			Usage: "directory to create the files in",
		},
	},
	Action: runInit,
}

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FF6B6B")).
	MarginBottom(1)

type databaseChoice struct {
	name string
	dbms string
}

var databaseChoices = []databaseChoice{
	{"No database checks", ""},
	{"PostgreSQL", config.DBMSPostgreSQL},
	{"MySQL", config.DBMSMySQL},
}

const defaultBaseURL = "http://localhost:8080"

type initStep int

const (
	stepDatabase initStep = iota
	stepBaseURL
	stepConfirm
)

type initModel struct {
	step   initStep
	cursor int

	dbms    string
	baseURL string

	// Text input state
	textInput string

	done      bool
	cancelled bool
}

func initialInitModel() initModel {
	return initModel{step: stepDatabase, textInput: defaultBaseURL}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.step == stepBaseURL {
		return m.handleTextInput(key)
	}

	switch key.String() {
	case "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.maxCursor() {
			m.cursor++
		}
	case "enter":
		return m.handleEnter()
	}
	return m, nil
}

func (m initModel) maxCursor() int {
	if m.step == stepDatabase {
		return len(databaseChoices) - 1
	}
	return 1
}

func (m initModel) handleEnter() (tea.Model, tea.Cmd) {
	switch m.step {
	case stepDatabase:
		m.dbms = databaseChoices[m.cursor].dbms
		m.step = stepBaseURL
		m.cursor = 0
	case stepConfirm:
		if m.cursor == 0 {
			m.done = true
		} else {
			m.cancelled = true
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleTextInput(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "ctrl+c":
		m.cancelled = true
		return m, tea.Quit
	case "enter":
		m.baseURL = strings.TrimRight(strings.TrimSpace(m.textInput), "/")
		if m.baseURL == "" {
			m.baseURL = defaultBaseURL
		}
		m.step = stepConfirm
		m.cursor = 0
	case "backspace":
		if len(m.textInput) > 0 {
			m.textInput = m.textInput[:len(m.textInput)-1]
		}
	case "esc":
		m.step = stepDatabase
		m.cursor = 0
	default:
		if key.Type == tea.KeyRunes {
			m.textInput += string(key.Runes)
		}
	}
	return m, nil
}

func (m initModel) View() string {
	if m.done || m.cancelled {
		return ""
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("🥫 ketchup init"))
	s.WriteString("\n")

	option := func(i int, label string) {
		cursor, style := "  ", unselectedStyle
		if i == m.cursor {
			cursor, style = "> ", selectedStyle
		}
		s.WriteString(fmt.Sprintf("%s%s\n", cursor, style.Render(label)))
	}

	switch m.step {
	case stepDatabase:
		s.WriteString(questionStyle.Render("Which database does your API write to?"))
		s.WriteString("\n\n")
		for i, c := range databaseChoices {
			option(i, c.name)
		}
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("↑/↓ navigate • ENTER select • q quit"))

	case stepBaseURL:
		s.WriteString(questionStyle.Render("Base URL of the API under test:"))
		s.WriteString("\n\n> ")
		s.WriteString(m.textInput)
		s.WriteString("█\n\n")
		s.WriteString(helpStyle.Render("ENTER confirm • ESC back"))

	case stepConfirm:
		s.WriteString(questionStyle.Render("Ready to create configuration"))
		s.WriteString("\n\n")
		database := "(none)"
		if m.dbms != "" {
			database = m.dbms
		}
		s.WriteString(fmt.Sprintf("  Database: %s\n", database))
		s.WriteString(fmt.Sprintf("  Base URL: %s\n\n", m.baseURL))
		option(0, "Create ketchup.json")
		option(1, "Cancel")
	}
	return s.String()
}

func runInit(c *cli.Context) error {
	dir := c.String("dir")
	rootPath := filepath.Join(dir, "ketchup.json")
	if _, err := os.Stat(rootPath); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", rootPath)
	}

	m := initModel{baseURL: defaultBaseURL, done: true}
	if !c.Bool("yes") {
		result, err := tea.NewProgram(initialInitModel()).Run()
		if err != nil {
			return fmt.Errorf("error running init: %w", err)
		}
		m = result.(initModel)
	}
	if m.cancelled || !m.done {
		fmt.Fprintln(c.App.Writer, "Cancelled.")
		return nil
	}

	if err := writeScaffold(dir, m.dbms, m.baseURL, c.Bool("force")); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s created %s and units/example.json\n", okStyle.Render("✓"), rootPath)
	fmt.Fprintf(c.App.Writer, "\nNext: %s\n", selectedStyle.Render("ketchup run -c "+rootPath))
	return nil
}

// writeScaffold creates the root config and an example units file. An
// existing units file is kept unless force is set.
func writeScaffold(dir, dbms, baseURL string, force bool) error {
	root, units := scaffold(dbms, baseURL)

	if err := os.MkdirAll(filepath.Join(dir, "units"), 0755); err != nil {
		return fmt.Errorf("creating units directory: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "ketchup.json"), root); err != nil {
		return err
	}

	unitsPath := filepath.Join(dir, "units", "example.json")
	if _, err := os.Stat(unitsPath); errors.Is(err, os.ErrNotExist) || force {
		return writeJSON(unitsPath, units)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

// scaffold returns a root config and a units file where the second unit
// reads a variable set by the first.
func scaffold(dbms, baseURL string) (*config.RootConfig, *config.TestUnitsConfig) {
	root := &config.RootConfig{
		TestUnitsConfigs:        []string{"units/example"},
		InitialTestRunVariables: map[string]any{"baseUrl": baseURL},
		TestRunnerOptions: config.TestRunnerOptions{
			DebugResponseOptions: config.DebugResponseOptions{ShowBody: true, OnlyOnFailure: true},
			RequestTimeout:       config.Duration{Duration: 10 * time.Second},
		},
	}

	created := config.StatusCode{Ranges: []config.StatusRange{{Low: 200, High: 299}}}
	ok := config.StatusCode{Code: 200}

	create := config.TestUnit{
		Name:        "create item",
		Description: "Creates an item with a unique name",
		Endpoint: config.Endpoint{
			Method:  "POST",
			URL:     "${baseUrl}/items",
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    map[string]any{"name": "item-${random.hash}"},
		},
		Validation: &config.Validation{
			StatusCode: &created,
			Assertions: []config.Assertion{
				{Path: "responseBody.id", Assertion: "exists"},
			},
		},
		VariablesToSet: []config.VariableToSet{
			{VariableName: "itemId", Path: "responseBody.id"},
		},
	}

	if dbms != "" {
		port := 5432
		if dbms == config.DBMSMySQL {
			port = 3306
		}
		root.DatabaseConnectionOptions = &config.DatabaseConnectionOptions{
			DBMS:     dbms,
			Host:     "localhost",
			Port:     port,
			User:     "app",
			Database: "app",
		}
		one := 1
		create.Validation.TablesToCheck = []config.TableCheck{{
			TableName:              "items",
			ExpectedRowCountChange: &one,
		}}
		create.Validation.NoUnexpectedRowChanges = true
	}

	get := config.TestUnit{
		Name:     "get item",
		Endpoint: config.Endpoint{Method: "GET", URL: "${baseUrl}/items/${itemId}"},
		Validation: &config.Validation{
			StatusCode: &ok,
			Assertions: []config.Assertion{
				{Path: "responseBody.name", Assertion: "typeof string"},
				{Path: "responseBody.name", Assertion: "length > 5"},
				{Path: "responseHeader.content-type", Assertion: "exists"},
			},
		},
	}

	return root, &config.TestUnitsConfig{TestUnits: []config.TestUnit{create, get}}
}
