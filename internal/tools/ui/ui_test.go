package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestRunModelLifecycle(t *testing.T) {
	var m tea.Model = newRunModel("loadgen")
	if !strings.Contains(m.View(), "running") {
		t.Fatalf("expected running view, got %q", m.View())
	}
	m, cmd := m.Update(tickMsg(time.Now()))
	if cmd == nil || m.(runModel).frame != 1 {
		t.Fatal("expected tick to advance the spinner and schedule another tick")
	}

	m, cmd = m.Update(doneMsg{details: []string{"requests=10"}, err: errors.New("boom")})
	if cmd == nil {
		t.Fatal("expected quit command once done")
	}
	view := m.View()
	if !strings.Contains(view, "requests=10") || !strings.Contains(view, "FAIL: boom") {
		t.Fatalf("unexpected final view %q", view)
	}
	if _, cmd := m.Update(tickMsg(time.Now())); cmd != nil {
		t.Fatal("expected ticks to stop after completion")
	}
}

func TestWatchModelKeepsRecentEvents(t *testing.T) {
	var m tea.Model = newWatchModel("watch", 2)
	for i, name := range []string{"new_message", "user_typing", "new_message"} {
		m, _ = m.Update(eventMsg{At: time.Unix(int64(i), 0), Name: name, Data: `{"n":1}`})
	}
	wm := m.(watchModel)
	if len(wm.events) != 2 || wm.events[0].Name != "user_typing" {
		t.Fatalf("expected the two most recent events, got %+v", wm.events)
	}
	if wm.counts["new_message"] != 2 {
		t.Fatalf("expected counts to include dropped events, got %v", wm.counts)
	}
	if !strings.Contains(m.View(), "new_message=2") {
		t.Fatalf("expected summary in view, got %q", m.View())
	}

	m, cmd := m.Update(closedMsg{err: errors.New("eof")})
	if cmd == nil || !strings.Contains(m.View(), "connection closed: eof") {
		t.Fatal("expected close to quit and render the error")
	}
}

func TestModelsQuitOnKey(t *testing.T) {
	key := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
	if _, cmd := newRunModel("x").Update(key); cmd == nil {
		t.Fatal("expected run model to quit on q")
	}
	if _, cmd := newWatchModel("x", 5).Update(key); cmd == nil {
		t.Fatal("expected watch model to quit on q")
	}
}
