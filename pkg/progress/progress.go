// Package progress renders scheduler.Event streams to the user: a live
// bubbletea/lipgloss display when the output writer is an interactive
// terminal, or a line-delimited JSON stream (one object per event) when
// it isn't, so rv's output stays scriptable in CI. The --format flag
// does not affect this choice.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/spinel-coop/rv/pkg/scheduler"
)

var (
	styleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Run consumes events until the channel closes, rendering them either
// as a live bubbletea program (interactive terminal) or as NDJSON lines
// written to out.
func Run(events <-chan scheduler.Event, out io.Writer, total int) {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		runInteractive(events, total)
		return
	}
	runNDJSON(events, out)
}

func runNDJSON(events <-chan scheduler.Event, out io.Writer) {
	enc := json.NewEncoder(out)
	for e := range events {
		payload := map[string]any{
			"job":  e.Job,
			"kind": kindString(e.Kind),
			"ts":   time.Now().UTC().Format(time.RFC3339Nano),
		}
		if e.Err != nil {
			payload["error"] = e.Err.Error()
		}
		_ = enc.Encode(payload)
	}
}

func kindString(k scheduler.EventKind) string {
	switch k {
	case scheduler.EventStarted:
		return "started"
	case scheduler.EventFinished:
		return "finished"
	case scheduler.EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type model struct {
	total    int
	done     int
	failed   int
	running  map[string]bool
	lastFail string
	eventsCh <-chan scheduler.Event
}

type eventMsg scheduler.Event
type closedMsg struct{}

func waitForEvent(ch <-chan scheduler.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(e)
	}
}

func runInteractive(events <-chan scheduler.Event, total int) {
	m := model{total: total, running: make(map[string]bool), eventsCh: events}
	p := tea.NewProgram(m)
	_, _ = p.Run()
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.eventsCh)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		e := scheduler.Event(msg)
		switch e.Kind {
		case scheduler.EventStarted:
			m.running[e.Job] = true
		case scheduler.EventFinished:
			delete(m.running, e.Job)
			m.done++
		case scheduler.EventFailed:
			delete(m.running, e.Job)
			m.done++
			m.failed++
			m.lastFail = e.Job
		}
		return m, waitForEvent(m.eventsCh)
	case closedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	bar := fmt.Sprintf("%d/%d", m.done, m.total)
	line := styleDim.Render(bar) + "  "
	for name := range m.running {
		line += styleRunning.Render("» "+name) + "  "
	}
	if m.failed > 0 {
		line += styleFailed.Render(fmt.Sprintf("(%d failed, last: %s)", m.failed, m.lastFail))
	} else if m.done == m.total {
		line += styleDone.Render("done")
	}
	return line + "\n"
}
