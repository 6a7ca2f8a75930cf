package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/deploy-runtime/pool"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	slotStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB86C"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	pool    *pool.Pool
	input   textinput.Model
	result  string
	err     error
	calling bool
}

type tickMsg time.Time

type callResultMsg struct {
	err    error
	result string
}

func newInteractiveModel(p *pool.Pool) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "module.name arg1 arg2 ..."
	ti.Prompt = "> "
	ti.Width = 60
	ti.Focus()
	return &interactiveModel{pool: p, input: ti}
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			if m.calling || strings.TrimSpace(m.input.Value()) == "" {
				break
			}
			line := m.input.Value()
			m.input.Reset()
			m.calling = true
			m.result = ""
			m.err = nil
			return m, m.callCmd(line)
		}

	case tickMsg:
		// Redraw so the per-slot user counts stay live.
		return m, tick()

	case callResultMsg:
		m.calling = false
		m.result = msg.result
		m.err = msg.err
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) callCmd(line string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()

		fields := strings.Fields(line)
		module, name, ok := splitCall(fields[0])
		if !ok {
			return callResultMsg{err: fmt.Errorf("call target %q is not module.name", fields[0])}
		}

		s := m.pool.AcquireOne()
		defer s.Close()

		fn, err := s.Global(ctx, module, name)
		if err != nil {
			return callResultMsg{err: err}
		}
		args := make([]any, len(fields)-1)
		for i, a := range fields[1:] {
			args[i] = a
		}
		res, err := fn.Call(ctx, args...)
		if err != nil {
			return callResultMsg{err: err}
		}
		val, err := res.Value(ctx)
		if err != nil {
			return callResultMsg{err: err}
		}
		return callResultMsg{
			result: fmt.Sprintf("instance %d: %v", s.Instance().Ordinal(), val),
		}
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Deploy Runtime"))
	fmt.Fprintf(&b, " %d instances\n\n", len(m.pool.Instances()))

	for i := 0; i < m.pool.Balancer().Len(); i++ {
		users := m.pool.Balancer().Users(i)
		line := fmt.Sprintf("  instance %d  %s", i, gauge(users))
		if users > 0 {
			b.WriteString(busyStyle.Render(line))
		} else {
			b.WriteString(slotStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	switch {
	case m.calling:
		b.WriteString(helpStyle.Render("calling..."))
	case m.err != nil:
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
	case m.result != "":
		b.WriteString(resultStyle.Render(m.result))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter call • esc quit"))

	return b.String()
}

func gauge(users uint64) string {
	if users == 0 {
		return "idle"
	}
	return fmt.Sprintf("%s %d", strings.Repeat("█", int(users)), users)
}

func runInteractive(p *pool.Pool) error {
	prog := tea.NewProgram(newInteractiveModel(p), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}
