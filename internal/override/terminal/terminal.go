// Package terminal implements override.Prompter as a one-line bubbletea
// dialog on the controlling terminal.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// CharLimit bounds a single operator message.
const CharLimit = 4000

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff71ce")).
			Padding(0, 1)
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7dcfff"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7089"))
	frameStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#05ffa1")).
			Padding(0, 1)
)

// Prompter shows one dialog per PromptLine call.
type Prompter struct {
	in  io.Reader
	out io.Writer
	mu  sync.Mutex // one dialog at a time
}

// Opts holds parameters for creating a Prompter.
type Opts struct {
	In  io.Reader // defaults to os.Stdin
	Out io.Writer // defaults to os.Stdout
}

// New creates a Prompter.
func New(opts Opts) *Prompter {
	p := &Prompter{in: opts.In, out: opts.Out}
	if p.in == nil {
		p.in = os.Stdin
	}
	if p.out == nil {
		p.out = os.Stdout
	}
	return p
}

// Available reports whether input and output are both a terminal.
func (p *Prompter) Available() bool {
	return isTerminal(p.in) && isTerminal(p.out)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// PromptLine implements override.Prompter. Enter submits; Esc or Ctrl+C
// cancels. Ending ctx closes the dialog as a cancel.
func (p *Prompter) PromptLine(ctx context.Context, title, question string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prog := tea.NewProgram(newModel(title, question),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)
	final, err := prog.Run()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, tea.ErrProgramKilled) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("terminal: prompt: %w", err)
	}
	m, ok := final.(model)
	if !ok || !m.submitted {
		return "", false, nil
	}
	return m.value, true, nil
}

// model is the dialog state.
type model struct {
	title     string
	question  string
	input     textinput.Model
	submitted bool
	cancelled bool
	value     string
}

func newModel(title, question string) model {
	in := textinput.New()
	in.Prompt = "> "
	in.CharLimit = CharLimit
	in.Placeholder = "message"
	in.Focus()
	return model{title: title, question: question, input: in}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.submitted = true
			m.value = m.input.Value()
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.cancelled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(questionStyle.Render(m.question))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send · esc cancel"))
	return frameStyle.Render(b.String()) + "\n"
}
