package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/forgecrew/wrangler/internal/event"
)

// App wraps the Bubbletea program
type App struct {
	program *tea.Program
	model   Model
	bus     *event.Bus
}

// New creates a new monitor application. bus may be nil, in which case the
// event log stays empty.
func New(source StatusSource, bus *event.Bus) *App {
	return &App{
		model: NewModel(source),
		bus:   bus,
	}
}

// Run starts the monitor and blocks until the user quits.
func (a *App) Run() error {
	a.program = tea.NewProgram(
		a.model,
		tea.WithAltScreen(),
	)

	var subID string
	if a.bus != nil {
		subID = a.bus.SubscribeAll(func(e event.Event) {
			a.program.Send(eventMsg{
				at:   e.Timestamp(),
				line: summarize(e),
			})
		})
		defer a.bus.Unsubscribe(subID)
	}

	_, err := a.program.Run()
	return err
}

// summarize renders one event as a single log line.
func summarize(e event.Event) string {
	switch ev := e.(type) {
	case event.ReservationCreatedEvent:
		return fmt.Sprintf("%s reserved %s for %s", ev.AgentType, ev.Repo, ev.UnitID)
	case event.ReservationReleasedEvent:
		if ev.Forced {
			return fmt.Sprintf("force-released %s (%s)", ev.Branch, ev.Reason)
		}
		return fmt.Sprintf("released %s", ev.Branch)
	case event.QueueAdmittedEvent:
		return fmt.Sprintf("%s admitted to %s after %s", ev.UnitID, ev.Repo, ev.Waited.Round(time.Second))
	case event.CleanupForcedEvent:
		return fmt.Sprintf("cleanup released %d stale reservations", ev.Released)
	case event.ConflictDetectedEvent:
		return fmt.Sprintf("%s conflict on %s: %s vs %s",
			ev.Category, ev.Repo, ev.UnitID, strings.Join(ev.With, ", "))
	case event.ConflictResolvedEvent:
		return fmt.Sprintf("%s resolved via %s", ev.UnitID, ev.Strategy)
	case event.StageChangedEvent:
		return fmt.Sprintf("%s stage %s %s", ev.UnitID, ev.Stage, ev.Status)
	case event.PipelineCompletedEvent:
		return fmt.Sprintf("%s finished: %s", ev.UnitID, ev.State)
	case event.DriftDetectedEvent:
		return fmt.Sprintf("%s drifted: %s", ev.UnitID, strings.Join(ev.Files, ", "))
	default:
		return e.EventType()
	}
}
