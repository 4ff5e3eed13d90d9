package planprompt

import (
	"context"
	"errors"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"qagen/internal/errs"
)

var ErrAborted = errors.New("plan prompt aborted")

// Answers are the run parameters collected from the operator.
type Answers struct {
	PlanName         string
	PlanType         string
	IncludeEdgeCases bool
}

// Preset marks which answers were already supplied as flags and must not be asked.
type Preset struct {
	Answers
	HasPlanName  bool
	HasPlanType  bool
	HasEdgeCases bool
}

type question int

const (
	askPlanName question = iota
	askPlanType
	askEdgeCases
	askDone
)

var prompts = map[question]string{
	askPlanName:  "What is the name of the test plan? (ex. Sprint 44) ",
	askPlanType:  "What is the plan type? (Press enter to skip) ",
	askEdgeCases: "Include Edge Cases? (y/n) [default: n] ",
}

type promptModel struct {
	preset  Preset
	answers Answers
	current question
	input   []rune
	problem string
	aborted bool
}

func newPromptModel(preset Preset) *promptModel {
	m := &promptModel{preset: preset, answers: preset.Answers}
	m.current = m.nextQuestion(askPlanName)
	return m
}

func (m *promptModel) nextQuestion(from question) question {
	for q := from; q < askDone; q++ {
		switch {
		case q == askPlanName && m.preset.HasPlanName && strings.TrimSpace(m.preset.PlanName) != "":
		case q == askPlanType && m.preset.HasPlanType:
		case q == askEdgeCases && m.preset.HasEdgeCases:
		default:
			return q
		}
	}
	return askDone
}

func (m *promptModel) Init() tea.Cmd {
	if m.current == askDone {
		return tea.Quit
	}
	return nil
}

func (m *promptModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	msg, ok := message.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.aborted = true
		return m, tea.Quit
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeySpace:
		m.input = append(m.input, ' ')
		return m, nil
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
		return m, nil
	case tea.KeyEnter:
		return m.submit()
	}
	return m, nil
}

func (m *promptModel) submit() (tea.Model, tea.Cmd) {
	answer := strings.TrimSpace(string(m.input))
	m.problem = ""

	switch m.current {
	case askPlanName:
		if answer == "" {
			m.problem = "a test plan name is required"
			return m, nil
		}
		m.answers.PlanName = answer
	case askPlanType:
		m.answers.PlanType = answer
	case askEdgeCases:
		m.answers.IncludeEdgeCases = strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
	}

	m.input = m.input[:0]
	m.current = m.nextQuestion(m.current + 1)
	if m.current == askDone {
		return m, tea.Quit
	}
	return m, nil
}

func (m *promptModel) View() string {
	if m.current == askDone || m.aborted {
		return ""
	}
	promptStyle := lipgloss.NewStyle().Bold(true)
	inputStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
	problemStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	var b strings.Builder
	b.WriteString(promptStyle.Render(prompts[m.current]))
	b.WriteString(inputStyle.Render(string(m.input)))
	b.WriteString("\n")
	if m.problem != "" {
		b.WriteString(problemStyle.Render(m.problem))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("enter to confirm, esc to cancel"))
	b.WriteString("\n")
	return b.String()
}

// Ask collects the answers missing from preset on the terminal behind in/out.
func Ask(ctx context.Context, in io.Reader, out io.Writer, preset Preset) (Answers, error) {
	if ctx == nil {
		return Answers{}, errors.New("context is required")
	}

	model := newPromptModel(preset)
	if model.current == askDone {
		return model.answers, nil
	}

	final, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return Answers{}, errs.Wrap(err, "run plan prompt")
	}
	result, ok := final.(*promptModel)
	if !ok {
		return Answers{}, errors.New("unexpected plan prompt model")
	}
	if result.aborted || result.current != askDone {
		return Answers{}, ErrAborted
	}
	return result.answers, nil
}
