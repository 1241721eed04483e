package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Event is one frame received from the realtime gateway.
type Event struct {
	At   time.Time
	Name string
	Data string
}

type eventMsg Event

type closedMsg struct{ err error }

type watchModel struct {
	title  string
	limit  int
	events []Event
	counts map[string]int
	closed bool
	err    error
}

func newWatchModel(title string, limit int) watchModel {
	if limit <= 0 {
		limit = 20
	}
	return watchModel{title: title, limit: limit, counts: map[string]int{}}
}

func (m watchModel) Init() tea.Cmd { return nil }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		m.counts[msg.Name]++
		m.events = append(m.events, Event(msg))
		if len(m.events) > m.limit {
			m.events = m.events[len(m.events)-m.limit:]
		}
	case closedMsg:
		m.closed, m.err = true, msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "  " + mutedStyle.Render("q to quit") + "\n\n")
	for _, e := range m.events {
		fmt.Fprintf(&b, "%s %s %s\n", mutedStyle.Render(e.At.Format("15:04:05")), eventStyle.Render(e.Name), e.Data)
	}
	if len(m.counts) > 0 {
		names := make([]string, 0, len(m.counts))
		for name := range m.counts {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", name, m.counts[name]))
		}
		b.WriteString("\n" + summaryStyle.Render(strings.Join(parts, "  ")) + "\n")
	}
	if m.closed {
		if m.err != nil {
			b.WriteString(errStyle.Render("connection closed: "+m.err.Error()) + "\n")
		} else {
			b.WriteString(mutedStyle.Render("connection closed") + "\n")
		}
	}
	return b.String()
}

// Watch renders events produced by source until it returns or the user quits.
func Watch(title string, source func(ctx context.Context, emit func(Event)) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(newWatchModel(title, 20))
	go func() {
		err := source(ctx, func(e Event) { p.Send(eventMsg(e)) })
		p.Send(closedMsg{err: err})
	}()
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m := final.(watchModel); m.closed {
		return m.err
	}
	return nil
}
