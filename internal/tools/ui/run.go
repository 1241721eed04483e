package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

var ErrInterrupted = errors.New("interrupted")

type tickMsg time.Time

type doneMsg struct {
	details []string
	err     error
}

type runModel struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
}

func newRunModel(title string) runModel {
	return runModel{title: title, started: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m runModel) Init() tea.Cmd { return tick() }

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.done, m.details, m.err = true, msg.details, msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m runModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	if !m.done {
		elapsed := time.Since(m.started).Truncate(100 * time.Millisecond)
		fmt.Fprintf(&b, "%s running %s\n", spinnerFrames[m.frame], mutedStyle.Render(elapsed.String()))
		return b.String()
	}
	for _, d := range m.details {
		b.WriteString("  " + d + "\n")
	}
	if m.err != nil {
		b.WriteString(errStyle.Render("FAIL: "+m.err.Error()) + "\n")
	} else {
		b.WriteString(okStyle.Render("OK") + "\n")
	}
	return b.String()
}

// Run executes fn behind a progress view and returns its result. Quitting
// the view cancels fn's context and returns ErrInterrupted.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(newRunModel(title))
	go func() {
		details, err := fn(ctx)
		p.Send(doneMsg{details: details, err: err})
	}()
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(runModel)
	if !m.done {
		return nil, ErrInterrupted
	}
	return m.details, m.err
}
