// Package tui renders a live terminal view of repository reservations,
// agent queues, and recent coordination events.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/forgecrew/wrangler/internal/reservation"
)

// maxRecentEvents bounds the event log shown at the bottom of the view.
const maxRecentEvents = 8

// StatusSource provides the reservation snapshot the monitor renders.
type StatusSource interface {
	AllRepositoriesStatus() []reservation.RepoStatus
}

// staleAfter marks reservations old enough to flag in the view.
const staleAfter = 2 * time.Hour

// Messages

type tickMsg time.Time

type eventMsg struct {
	at   time.Time
	line string
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the bubbletea model for the monitor view.
type Model struct {
	source StatusSource

	width  int
	height int
	ready  bool

	repos  []reservation.RepoStatus
	events []eventMsg
}

// NewModel creates a monitor model over the given status source.
func NewModel(source StatusSource) Model {
	return Model{source: source}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case tickMsg:
		m.repos = m.source.AllRepositoriesStatus()
		return m, tick()

	case eventMsg:
		m.events = append(m.events, msg)
		if len(m.events) > maxRecentEvents {
			m.events = m.events[len(m.events)-maxRecentEvents:]
		}
		return m, nil
	}

	return m, nil
}

// View renders the monitor
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Wrangler Monitor"))
	b.WriteString("\n")

	if len(m.repos) == 0 {
		b.WriteString(mutedStyle.Render("No active reservations."))
		b.WriteString("\n")
	}

	for _, repo := range m.repos {
		b.WriteString(repoStyle.Render(repo.Repo))
		b.WriteString("\n")

		for _, r := range repo.Reservations {
			line := fmt.Sprintf("  %-18s %-45s %s",
				r.AgentType, r.Branch, formatAge(r.Age))
			if r.Age > staleAfter {
				line += warnStyle.Render("  stale")
			}
			b.WriteString(line)
			b.WriteString("\n")
		}

		if depths := formatQueues(repo.QueueDepths); depths != "" {
			b.WriteString(mutedStyle.Render("  queued: " + depths))
			b.WriteString("\n")
		}
	}

	if len(m.events) > 0 {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("Recent events"))
		b.WriteString("\n")
		for _, ev := range m.events {
			b.WriteString(eventStyle.Render(fmt.Sprintf("  %s  %s",
				ev.at.Format("15:04:05"), ev.line)))
			b.WriteString("\n")
		}
	}

	b.WriteString(helpStyle.Render("q: quit"))

	out := b.String()
	if m.ready && m.width > 0 {
		out = lipgloss.NewStyle().MaxWidth(m.width).Render(out)
	}
	return out
}

// formatAge renders a reservation age compactly (e.g. "1h05m", "12m").
func formatAge(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	min := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, min)
	}
	return fmt.Sprintf("%dm", min)
}

// formatQueues renders per-agent queue depths in stable order.
func formatQueues(depths map[string]int) string {
	if len(depths) == 0 {
		return ""
	}
	agents := make([]string, 0, len(depths))
	for agent := range depths {
		agents = append(agents, agent)
	}
	sort.Strings(agents)

	parts := make([]string, 0, len(agents))
	for _, agent := range agents {
		parts = append(parts, fmt.Sprintf("%s:%d", agent, depths[agent]))
	}
	return strings.Join(parts, "  ")
}
