package command

import (
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
)

var (
	questionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFA500"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	unselectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true)
)

// confirmModel is a yes/no question, defaulting to yes
type confirmModel struct {
	question string
	no       bool
	answered bool
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.no = true
		return m, tea.Quit
	case "left", "h", "right", "l", "tab":
		m.no = !m.no
	case "y", "Y":
		m.no = false
		m.answered = true
		return m, tea.Quit
	case "n", "N":
		m.no = true
		m.answered = true
		return m, tea.Quit
	case "enter":
		m.answered = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.answered {
		return ""
	}

	var s strings.Builder
	s.WriteString(questionStyle.Render(m.question))
	s.WriteString("  ")
	if m.no {
		s.WriteString(unselectedStyle.Render("Yes") + " / " + selectedStyle.Render("[No]"))
	} else {
		s.WriteString(selectedStyle.Render("[Yes]") + " / " + unselectedStyle.Render("No"))
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("y/n • ←/→ toggle • ENTER confirm"))
	s.WriteString("\n")
	return s.String()
}

func (m confirmModel) confirmed() bool {
	return m.answered && !m.no
}

// promptConfirm returns the confirm callback used between test units in
// interactive mode. Any terminal error is treated as "no".
func promptConfirm(in io.Reader, out io.Writer) func() bool {
	return func() bool {
		p := tea.NewProgram(confirmModel{question: "Run the next test unit?"}, tea.WithInput(in), tea.WithOutput(out))
		result, err := p.Run()
		if err != nil {
			log.Error().Err(err).Msg("confirm prompt failed")
			return false
		}
		return result.(confirmModel).confirmed()
	}
}
