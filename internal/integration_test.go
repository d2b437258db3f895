// Package internal contains integration tests that verify the scheduler
// packages work together: the planner's grouping feeds the pipeline, the
// pipeline's reservations flow through the manager, and events reach bus
// subscribers.
package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/forgecrew/wrangler/internal/event"
	"github.com/forgecrew/wrangler/internal/executor"
	"github.com/forgecrew/wrangler/internal/logging"
	"github.com/forgecrew/wrangler/internal/pipeline"
	"github.com/forgecrew/wrangler/internal/plan"
	"github.com/forgecrew/wrangler/internal/reservation"
	"github.com/forgecrew/wrangler/internal/resolution"
	"github.com/forgecrew/wrangler/internal/store"
	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

func batchUnit(id, title, agentType string, deps []string) *unit.UnitOfWork {
	return &unit.UnitOfWork{
		ID:         id,
		Title:      title,
		Type:       "feature",
		Complexity: unit.Moderate,
		Priority:   unit.PriorityMedium,
		DependsOn:  deps,
		AgentType:  agentType,
		Status:     unit.StatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

func TestBatchFlowsThroughScheduler(t *testing.T) {
	log := logging.NopLogger()
	bus := event.NewBus()
	st := store.NewMemStore()
	predictor := taskctx.NewKeywordExtractor()
	manager := reservation.NewManager(predictor, st, log, bus)

	var mu sync.Mutex
	completed := make(map[string]string)
	bus.Subscribe("pipeline.completed", func(e event.Event) {
		ev := e.(event.PipelineCompletedEvent)
		mu.Lock()
		completed[ev.UnitID] = ev.State
		mu.Unlock()
	})

	units := []*unit.UnitOfWork{
		batchUnit("u-core", "Implement auth token core", "senior-developer", nil),
		batchUnit("u-ui", "Wire auth into login flow", "senior-developer", []string{"u-core"}),
		batchUnit("u-docs", "Document the auth flow", "doc-writer", nil),
	}

	// The planner splits the batch where the dependency edge lands.
	planner := plan.NewPlanner(plan.DefaultMaxGroupSize)
	ep, err := planner.ValidateAndOrder(units)
	if err != nil {
		t.Fatalf("ValidateAndOrder: %v", err)
	}
	if len(ep.Groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(ep.Groups))
	}

	orch, err := pipeline.New(pipeline.Config{
		Store:        st,
		Reservations: manager,
		Executor:     executor.NewScriptedExecutor(),
		Resolver:     resolution.NewEngine(predictor, log, bus),
		Logger:       log,
		Bus:          bus,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.RunBatch(ctx, units, "acme/api", plan.DefaultMaxGroupSize); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	for _, u := range units {
		stored, err := st.Load(u.ID)
		if err != nil {
			t.Fatalf("Load(%s): %v", u.ID, err)
		}
		if stored.Status != unit.StatusCompleted {
			t.Errorf("%s status = %s, want completed", u.ID, stored.Status)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != len(units) {
		t.Errorf("got %d completion events, want %d", len(completed), len(units))
	}
	for id, state := range completed {
		if state != "completed" {
			t.Errorf("%s completion state = %s, want completed", id, state)
		}
	}

	// Every reservation taken during the batch must be released again.
	for _, repo := range manager.AllRepositoriesStatus() {
		if n := len(repo.Reservations); n != 0 {
			t.Errorf("%s still holds %d reservations after the batch", repo.Repo, n)
		}
	}
}
