package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/corefuzz/corefuzz/internal/eventbus"
)

// logEntry is one rendered line of the scrolling log panel.
type logEntry struct {
	at   time.Time
	text string
}

// Model is the bubbletea program state. It holds no reference back into
// the fuzzer — it only ever reads events off a Subscriber, matching the
// spec's rule that monitor surfaces are pure observers of eventbus.Stats.
type Model struct {
	sub *eventbus.Subscriber

	width, height int
	tick          int

	stats     eventbus.StatsSnapshot
	solutions int
	logs      []logEntry
	maxLogs   int

	quitting bool
}

// New builds a dashboard model polling sub for events.
func New(sub *eventbus.Subscriber) Model {
	return Model{sub: sub, width: 80, height: 24, maxLogs: 12}
}

type pollMsg struct{ events []eventbus.Event }

func (m Model) pollCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		var batch []eventbus.Event
		for {
			ev, ok := m.sub.Poll()
			if !ok {
				break
			}
			batch = append(batch, ev)
		}
		return pollMsg{events: batch}
	})
}

func (m Model) Init() tea.Cmd { return m.pollCmd() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil
	case pollMsg:
		m.tick++
		for _, ev := range msg.events {
			m.apply(ev)
		}
		return m, m.pollCmd()
	}
	return m, nil
}

func (m *Model) apply(ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.Stats:
		if ev.Stats != nil {
			m.stats = *ev.Stats
		}
	case eventbus.Solution:
		m.solutions++
		m.pushLog(fmt.Sprintf("solution (%s) from %s: %s", ev.CrashKind, ev.NodeID, ev.InputHash))
	case eventbus.NewTestcase:
		m.pushLog(fmt.Sprintf("new corpus entry #%d from %s", ev.CorpusID, ev.NodeID))
	case eventbus.Log:
		m.pushLog(ev.Message)
	}
}

func (m *Model) pushLog(text string) {
	m.logs = append(m.logs, logEntry{at: time.Now(), text: text})
	if len(m.logs) > m.maxLogs {
		m.logs = m.logs[len(m.logs)-m.maxLogs:]
	}
}

func (m Model) View() string {
	if m.quitting {
		return "Fuzzing stopped by user. Good bye.\n"
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(Banner))
	b.WriteString("\n")

	stats := strings.Builder{}
	stats.WriteString(renderLabelValue("Executions", fmt.Sprintf("%d", m.stats.Executions)))
	stats.WriteString("\n")
	stats.WriteString(renderLabelValue("Exec/sec", fmt.Sprintf("%.1f", m.stats.ExecPerSec)))
	stats.WriteString("\n")
	stats.WriteString(renderLabelValue("Corpus", fmt.Sprintf("%d", m.stats.CorpusCount)))
	stats.WriteString("\n")
	stats.WriteString(renderLabelValue("Solutions", fmt.Sprintf("%d", m.stats.Solutions)))
	stats.WriteString("\n")
	stats.WriteString(renderLabelValue("Coverage bits", fmt.Sprintf("%d", m.stats.CoverageBits)))
	b.WriteString(PanelStyle.Width(40).Render(stats.String()))
	b.WriteString("\n")

	logs := strings.Builder{}
	for _, l := range m.logs {
		style := InfoStyle
		if strings.HasPrefix(l.text, "solution") {
			style = SolutionStyle
		}
		logs.WriteString(DimStyle.Render(l.at.Format("15:04:05")) + " " + style.Render(l.text) + "\n")
	}
	b.WriteString(LogPanelStyle.Width(70).Render(logs.String()))
	b.WriteString("\n")

	b.WriteString(FooterStyle.Render(renderKeyHelp("q", "quit") + "  " + renderKeyHelp("ctrl+c", "quit")))
	b.WriteString("\n")
	return b.String()
}

// Run starts the bubbletea program and blocks until the user quits.
func Run(sub *eventbus.Subscriber) error {
	p := tea.NewProgram(New(sub))
	_, err := p.Run()
	return err
}
