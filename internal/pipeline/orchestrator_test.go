package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/forgecrew/wrangler/internal/errors"
	"github.com/forgecrew/wrangler/internal/event"
	"github.com/forgecrew/wrangler/internal/executor"
	"github.com/forgecrew/wrangler/internal/reservation"
	"github.com/forgecrew/wrangler/internal/store"
	"github.com/forgecrew/wrangler/internal/unit"
)

type fixture struct {
	orch  *Orchestrator
	store *store.MemStore
	res   *reservation.Manager
	exec  *executor.ScriptedExecutor
	bus   *event.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	res := reservation.NewManager(nil, st, nil, nil)
	exec := executor.NewScriptedExecutor()
	bus := event.NewBus()

	orch, err := New(Config{
		Store:        st,
		Reservations: res,
		Executor:     exec,
		Bus:          bus,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{orch: orch, store: st, res: res, exec: exec, bus: bus}
}

func newUnit(t *testing.T, id string, files ...string) *unit.UnitOfWork {
	t.Helper()
	u := unit.New(id, "unit "+id, "")
	u.AgentType = "senior-developer"
	u.Files = files
	return u
}

func TestRunCompletesAllStages(t *testing.T) {
	f := newFixture(t)

	var completed []event.Event
	f.bus.Subscribe("pipeline.completed", func(e event.Event) {
		completed = append(completed, e)
	})

	u := newUnit(t, "u-1", "src/pkg/a.go")
	run, err := f.orch.Start(context.Background(), u, "acme/widgets")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	run.Wait()

	if state := run.State(); state != unit.StatusCompleted {
		t.Fatalf("run state = %s, want completed (err: %v)", state, run.Err())
	}
	for name, status := range run.StageStatuses() {
		if status != StageCompleted {
			t.Errorf("stage %s = %s, want completed", name, status)
		}
	}

	// Stages execute in the declared fixed order.
	calls := f.exec.Calls()
	if len(calls) != len(Stages) {
		t.Fatalf("executed %d stages, want %d", len(calls), len(Stages))
	}
	for i, stage := range Stages {
		if calls[i].AgentType != stage.AgentType {
			t.Errorf("call %d agent = %s, want %s", i, calls[i].AgentType, stage.AgentType)
		}
	}

	// No reservation survives the run.
	status := f.res.RepositoryStatus("acme/widgets")
	if len(status.Reservations) != 0 {
		t.Errorf("reservations left after run: %+v", status.Reservations)
	}

	stored, err := f.store.Load("u-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.Status != unit.StatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
	if len(completed) != 1 {
		t.Errorf("pipeline completed events = %d, want 1", len(completed))
	}
}

func TestRunStopsOnStageFailure(t *testing.T) {
	f := newFixture(t)

	f.exec.ScriptError("u-1", "test-engineer", errors.New("tests exploded"))

	u := newUnit(t, "u-1", "src/pkg/a.go")
	run, err := f.orch.Start(context.Background(), u, "acme/widgets")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	run.Wait()

	if state := run.State(); state != unit.StatusFailed {
		t.Fatalf("run state = %s, want failed", state)
	}
	if !errors.Is(run.Err(), errors.ErrStageFailed) {
		t.Errorf("run error = %v, want ErrStageFailed", run.Err())
	}

	statuses := run.StageStatuses()
	if statuses["testing"] != StageFailed {
		t.Errorf("testing stage = %s, want failed", statuses["testing"])
	}
	if statuses["review"] != StagePending {
		t.Errorf("review stage = %s, want pending (never run)", statuses["review"])
	}

	// The failing stage held a reservation; it must be released anyway.
	status := f.res.RepositoryStatus("acme/widgets")
	if len(status.Reservations) != 0 {
		t.Errorf("reservations left after failure: %+v", status.Reservations)
	}

	stored, _ := f.store.Load("u-1")
	if stored.Status != unit.StatusFailed {
		t.Errorf("stored status = %s, want failed", stored.Status)
	}
}

// execHook wraps the scripted executor to run a callback per execution.
type execHook struct {
	inner *executor.ScriptedExecutor
	hook  func(agentType string)
}

func (h *execHook) Execute(ctx context.Context, u *unit.UnitOfWork, agentType, instructions string, stageCtx map[string]string) (*executor.Result, error) {
	if h.hook != nil {
		h.hook(agentType)
	}
	return h.inner.Execute(ctx, u, agentType, instructions, stageCtx)
}

func TestRunObservesExternalCancellationAtStageBoundary(t *testing.T) {
	st := store.NewMemStore()
	res := reservation.NewManager(nil, st, nil, nil)
	scripted := executor.NewScriptedExecutor()

	// Cancel the unit in the store while the first stage runs; the reload
	// before the second stage must observe it.
	hooked := &execHook{inner: scripted, hook: func(agentType string) {
		if agentType != "architect" {
			return
		}
		u, err := st.Load("u-1")
		if err != nil {
			return
		}
		if err := u.Transition(unit.StatusCancelled); err == nil {
			_ = st.Save(u)
		}
	}}

	orch, err := New(Config{Store: st, Reservations: res, Executor: hooked})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run, err := orch.Start(context.Background(), newUnit(t, "u-1", "a.go"), "acme/widgets")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	run.Wait()

	if state := run.State(); state != unit.StatusCancelled {
		t.Fatalf("run state = %s, want cancelled", state)
	}
	if calls := scripted.Calls(); len(calls) != 1 {
		t.Errorf("executed %d stages after cancellation, want 1", len(calls))
	}
}

func TestCancelStopsRun(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	release := make(chan struct{})
	hooked := &execHook{inner: f.exec, hook: func(agentType string) {
		if agentType == "architect" {
			close(started)
			<-release
		}
	}}
	orch, err := New(Config{Store: f.store, Reservations: f.res, Executor: hooked})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run, err := orch.Start(context.Background(), newUnit(t, "u-1", "a.go"), "acme/widgets")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-started
	if err := orch.Cancel("u-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)
	run.Wait()

	if state := run.State(); state != unit.StatusCancelled {
		t.Fatalf("run state = %s, want cancelled", state)
	}

	stored, _ := f.store.Load("u-1")
	if stored.Status != unit.StatusCancelled {
		t.Errorf("stored status = %s, want cancelled", stored.Status)
	}
}

func TestStartRejectsActiveRun(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	hooked := &execHook{inner: f.exec, hook: func(string) {
		<-release
	}}
	orch, err := New(Config{Store: f.store, Reservations: f.res, Executor: hooked})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	u := newUnit(t, "u-1", "a.go")
	run, err := orch.Start(context.Background(), u, "acme/widgets")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(release)
		run.Wait()
	}()

	if _, err := orch.Start(context.Background(), u.Clone(), "acme/widgets"); !errors.Is(err, errors.ErrRunActive) {
		t.Fatalf("second Start = %v, want ErrRunActive", err)
	}
}

// Two units competing for the same agent types complete via the queue: the
// second unit's mutating stages wait for the first's reservations.
func TestRunBatchCompletesConcurrentGroup(t *testing.T) {
	f := newFixture(t)

	units := []*unit.UnitOfWork{
		newUnit(t, "u-1", "a.go"),
		newUnit(t, "u-2", "b.go"),
	}

	done := make(chan error, 1)
	go func() {
		done <- f.orch.RunBatch(context.Background(), units, "acme/widgets", 3)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunBatch: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("RunBatch did not finish")
	}

	for _, id := range []string{"u-1", "u-2"} {
		stored, err := f.store.Load(id)
		if err != nil {
			t.Fatalf("Load %s: %v", id, err)
		}
		if stored.Status != unit.StatusCompleted {
			t.Errorf("unit %s status = %s, want completed", id, stored.Status)
		}
	}
}

func TestRunBatchRespectsDependencyOrder(t *testing.T) {
	f := newFixture(t)

	first := newUnit(t, "u-first", "a.go")
	second := newUnit(t, "u-second", "b.go")
	second.DependsOn = []string{"u-first"}

	if err := f.orch.RunBatch(context.Background(), []*unit.UnitOfWork{second, first}, "acme/widgets", 3); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	// u-first's stages all ran before u-second's.
	calls := f.exec.Calls()
	lastFirst, firstSecond := -1, len(calls)
	for i, c := range calls {
		if c.UnitID == "u-first" && i > lastFirst {
			lastFirst = i
		}
		if c.UnitID == "u-second" && i < firstSecond {
			firstSecond = i
		}
	}
	if lastFirst > firstSecond {
		t.Errorf("dependency order violated: u-first call %d after u-second call %d", lastFirst, firstSecond)
	}
}

// A run cancelled while queued must not keep the reservation a later
// admission cycle created for it; the hand-off gives it straight back.
func TestCancelledQueuedRunReturnsAdmittedReservation(t *testing.T) {
	f := newFixture(t)
	repo := "acme/widgets"

	blocker := newUnit(t, "u-blocker", "z.go")
	blockRes, err := f.res.Reserve(blocker, "senior-developer", repo)
	if err != nil {
		t.Fatalf("reserve blocker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run, err := f.orch.Start(ctx, newUnit(t, "u-1", "a.go"), repo)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the implementation stage to queue behind the blocker.
	deadline := time.After(5 * time.Second)
	for f.res.RepositoryStatus(repo).QueueDepths["senior-developer"] != 1 {
		select {
		case <-deadline:
			t.Fatal("unit never queued behind the blocker")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	run.Wait()
	if state := run.State(); state != unit.StatusCancelled {
		t.Fatalf("run state = %s, want cancelled", state)
	}

	// Releasing the blocker admits the abandoned run with a fresh
	// reservation, which must be released again immediately.
	if err := f.res.Release(blockRes.Branch); err != nil {
		t.Fatalf("release blocker: %v", err)
	}
	status := f.res.RepositoryStatus(repo)
	if len(status.Reservations) != 0 {
		t.Errorf("reservations left after cancelled admission: %+v", status.Reservations)
	}
	if depth := status.QueueDepths["senior-developer"]; depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestResolutionOptionsFromStatus(t *testing.T) {
	status := reservation.RepoStatus{
		Repo: "acme/widgets",
		Reservations: []reservation.ReservationStatus{
			{AgentType: "devops", Age: 5 * time.Minute},
			{AgentType: "senior-developer", Age: 25 * time.Minute},
		},
		QueueDepths: map[string]int{"senior-developer": 2},
	}

	opts := resolutionOptions(status, "senior-developer")
	if opts.ReservationAge != 25*time.Minute {
		t.Errorf("ReservationAge = %v, want 25m", opts.ReservationAge)
	}
	if opts.QueueDepth != 2 {
		t.Errorf("QueueDepth = %d, want 2", opts.QueueDepth)
	}

	opts = resolutionOptions(status, "doc-writer")
	if opts.ReservationAge != 0 || opts.QueueDepth != 0 {
		t.Errorf("options for idle agent type = %+v, want zero", opts)
	}
}

func TestRunBatchReportsCycle(t *testing.T) {
	f := newFixture(t)

	a := newUnit(t, "u-a", "a.go")
	a.DependsOn = []string{"u-b"}
	b := newUnit(t, "u-b", "b.go")
	b.DependsOn = []string{"u-a"}

	err := f.orch.RunBatch(context.Background(), []*unit.UnitOfWork{a, b}, "acme/widgets", 3)
	if !errors.Is(err, errors.ErrDependencyCycle) {
		t.Fatalf("RunBatch = %v, want ErrDependencyCycle", err)
	}
}
