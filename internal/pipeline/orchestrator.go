// Package pipeline drives units of work through the fixed stage sequence,
// taking branch reservations for mutating stages and threading each stage's
// output into the next. Runs execute in background goroutines owning a
// cancel context; cancellation is observed at stage boundaries.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgecrew/wrangler/internal/errors"
	"github.com/forgecrew/wrangler/internal/event"
	"github.com/forgecrew/wrangler/internal/executor"
	"github.com/forgecrew/wrangler/internal/logging"
	"github.com/forgecrew/wrangler/internal/plan"
	"github.com/forgecrew/wrangler/internal/reservation"
	"github.com/forgecrew/wrangler/internal/resolution"
	"github.com/forgecrew/wrangler/internal/sourcehost"
	"github.com/forgecrew/wrangler/internal/store"
	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

// Config holds the orchestrator's required dependencies.
type Config struct {
	Store        store.Store
	Reservations *reservation.Manager
	Executor     executor.Executor
	Host         sourcehost.SourceHost // nil means no branch/PR calls
	RepoPath     string                // local checkout for the Host
	Resolver     *resolution.Engine    // nil disables conflict resolution
	Logger       *logging.Logger
	Bus          *event.Bus
}

// Orchestrator runs pipelines for units of work.
type Orchestrator struct {
	mu   sync.Mutex
	runs map[string]*Run

	store    store.Store
	res      *reservation.Manager
	exec     executor.Executor
	host     sourcehost.SourceHost
	repoPath string
	resolver *resolution.Engine
	log      *logging.Logger
	bus      *event.Bus
	stages   []Stage
	wg       sync.WaitGroup
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline: Store is required")
	}
	if cfg.Reservations == nil {
		return nil, errors.New("pipeline: Reservations is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("pipeline: Executor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Host == nil {
		cfg.Host = sourcehost.NopHost{}
	}
	return &Orchestrator{
		runs:     make(map[string]*Run),
		store:    cfg.Store,
		res:      cfg.Reservations,
		exec:     cfg.Executor,
		host:     cfg.Host,
		repoPath: cfg.RepoPath,
		resolver: cfg.Resolver,
		log:      cfg.Logger,
		bus:      cfg.Bus,
		stages:   Stages,
	}, nil
}

// Run tracks one unit's passage through the pipeline.
type Run struct {
	UnitID string
	Repo   string

	mu       sync.Mutex
	stages   map[string]StageStatus
	state    unit.Status
	err      error
	cancel   context.CancelFunc
	done     chan struct{}
	finished bool
}

// State returns the overall run state.
func (r *Run) State() unit.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the run's terminal error, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// StageStatuses returns a copy of the per-stage statuses.
func (r *Run) StageStatuses() map[string]StageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]StageStatus, len(r.stages))
	for k, v := range r.stages {
		out[k] = v
	}
	return out
}

// Wait blocks until the run reaches a terminal state.
func (r *Run) Wait() {
	<-r.done
}

func (r *Run) setStage(name string, status StageStatus) {
	r.mu.Lock()
	r.stages[name] = status
	r.mu.Unlock()
}

// Start begins executing the unit's pipeline in the background. The unit
// is persisted to the store first; a unit can have only one active run.
func (o *Orchestrator) Start(ctx context.Context, u *unit.UnitOfWork, repo string) (*Run, error) {
	o.mu.Lock()
	if existing, ok := o.runs[u.ID]; ok && !existing.isFinished() {
		o.mu.Unlock()
		return nil, errors.NewStageError("run already active", errors.ErrRunActive).WithUnit(u.ID)
	}

	if u.Status == unit.StatusPending {
		if err := u.Transition(unit.StatusInProgress); err != nil {
			o.mu.Unlock()
			return nil, err
		}
	}
	if err := o.store.Save(u); err != nil {
		o.mu.Unlock()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		UnitID: u.ID,
		Repo:   repo,
		stages: make(map[string]StageStatus, len(o.stages)),
		state:  unit.StatusInProgress,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, s := range o.stages {
		run.stages[s.Name] = StagePending
	}
	o.runs[u.ID] = run
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.execute(runCtx, run)
	}()
	return run, nil
}

func (r *Run) isFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// Cancel requests cancellation of the unit's active run. The run stops at
// the next stage boundary.
func (o *Orchestrator) Cancel(unitID string) error {
	o.mu.Lock()
	run, ok := o.runs[unitID]
	o.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("run", unitID)
	}

	// Persist the cancellation so the pre-stage reload observes it even
	// if it raced past the context check.
	if u, err := o.store.Load(unitID); err == nil && !u.Status.IsTerminal() {
		if err := u.Transition(unit.StatusCancelled); err == nil {
			_ = o.store.Save(u)
		}
	}
	run.cancel()
	return nil
}

// Wait blocks until every started run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// execute drives the unit through every stage in order.
func (o *Orchestrator) execute(ctx context.Context, run *Run) {
	log := o.log.WithRepo(run.Repo).WithUnit(run.UnitID)
	stageCtx := make(map[string]string, len(o.stages))
	stagesRun := 0

	for _, stage := range o.stages {
		// Reload before each stage so external cancellation and status
		// changes are observed at the boundary.
		u, err := o.store.Load(run.UnitID)
		if err != nil {
			o.finish(run, unit.StatusFailed, err, stagesRun)
			return
		}
		if u.Status == unit.StatusCancelled || ctx.Err() != nil {
			o.finish(run, unit.StatusCancelled, errors.ErrRunCancelled, stagesRun)
			return
		}

		run.setStage(stage.Name, StageRunning)
		o.publishStage(u.ID, stage, StageRunning)
		log.WithStage(stage.Name).Info("stage started", "agent_type", stage.AgentType)

		output, err := o.runStage(ctx, u, stage, stageCtx, run.Repo)
		if err != nil {
			run.setStage(stage.Name, StageFailed)
			o.publishStage(u.ID, stage, StageFailed)
			log.WithStage(stage.Name).Error("stage failed", "error", err)

			if errors.Is(err, errors.ErrRunCancelled) || ctx.Err() != nil {
				o.finish(run, unit.StatusCancelled, errors.ErrRunCancelled, stagesRun)
				return
			}
			o.finish(run, unit.StatusFailed,
				errors.NewStageError("stage execution failed", err).WithStage(stage.Name).WithUnit(u.ID),
				stagesRun)
			return
		}

		stageCtx[stage.Name] = output
		stagesRun++
		run.setStage(stage.Name, StageCompleted)
		o.publishStage(u.ID, stage, StageCompleted)
	}

	o.finish(run, unit.StatusCompleted, nil, stagesRun)
}

// runStage executes one stage, holding a reservation for the duration when
// the stage mutates code. The reservation is released on every path.
func (o *Orchestrator) runStage(ctx context.Context, u *unit.UnitOfWork, stage Stage, stageCtx map[string]string, repo string) (string, error) {
	var held *reservation.Reservation
	if stage.MutatesCode {
		res, err := o.reserve(ctx, u, stage, repo)
		if err != nil {
			return "", err
		}
		held = res
		defer func() {
			_ = o.res.Release(held.Branch)
		}()
	}

	result, err := o.exec.Execute(ctx, u, stage.AgentType, stage.Instructions, stageCtx)
	if err != nil {
		return "", err
	}

	if held != nil && o.repoPath != "" {
		if err := o.host.CreateBranch(o.repoPath, held.Branch); err != nil {
			return "", fmt.Errorf("create branch after %s: %w", stage.Name, err)
		}
		title := fmt.Sprintf("%s: %s", stage.Name, u.Title)
		if _, err := o.host.CreatePullRequest(o.repoPath, held.Branch, title, result.Output); err != nil {
			return "", fmt.Errorf("open pull request after %s: %w", stage.Name, err)
		}
	}
	return result.Output, nil
}

// reserve takes the stage's branch reservation, consulting the resolution
// engine on conflict. Preemption force-releases the losing reservations;
// anything else queues the unit and waits for admission.
func (o *Orchestrator) reserve(ctx context.Context, u *unit.UnitOfWork, stage Stage, repo string) (*reservation.Reservation, error) {
	staged := u.Clone()
	staged.AgentType = stage.AgentType

	res, err := o.res.Reserve(staged, stage.AgentType, repo)
	if err == nil {
		return res, nil
	}

	var ce *reservation.ConflictError
	if !errors.As(err, &ce) {
		return nil, err
	}

	if o.resolver != nil && len(ce.Result.Conflicts) > 0 {
		snap := o.res.Snapshot(repo, staged)
		ctxFp := taskctx.Extract(taskctx.NewKeywordExtractor(), staged)
		opts := resolutionOptions(o.res.RepositoryStatus(repo), stage.AgentType)
		r := o.resolver.Resolve(staged, ctxFp, ce.Result.Conflicts[0], snap, opts)
		if r.Resolved && r.Strategy == resolution.StrategyPreemptLowerPriority {
			if res, err := o.preempt(staged, stage, repo, r.PreemptedUnits); err == nil {
				return res, nil
			}
		}
	}

	// Queue and wait for admission at a later release cycle. If the run is
	// cancelled first, a late admission hands its reservation straight back.
	// The mutex makes the hand-off atomic: a deposit happens only while the
	// waiter has not yet abandoned, so exactly one side owns the reservation.
	var (
		handoffMu sync.Mutex
		abandoned bool
	)
	admitted := make(chan *reservation.Reservation, 1)
	o.res.QueueTask(staged, stage.AgentType, repo, func(_ *unit.UnitOfWork, r *reservation.Reservation) {
		handoffMu.Lock()
		defer handoffMu.Unlock()
		if abandoned {
			_ = o.res.ForceRelease(r.Branch, "run cancelled while queued")
			return
		}
		admitted <- r
	})
	select {
	case r := <-admitted:
		return r, nil
	case <-ctx.Done():
		handoffMu.Lock()
		abandoned = true
		handoffMu.Unlock()
		select {
		case r := <-admitted:
			_ = o.res.ForceRelease(r.Branch, "run cancelled while queued")
		default:
		}
		return nil, errors.ErrRunCancelled
	}
}

// resolutionOptions derives the handler context from the repository's
// monitoring snapshot: how long the blocking agent-type reservation has
// been held and how deep its queue already is.
func resolutionOptions(status reservation.RepoStatus, agentType string) resolution.Options {
	opts := resolution.Options{QueueDepth: status.QueueDepths[agentType]}
	for _, r := range status.Reservations {
		if r.AgentType == agentType {
			opts.ReservationAge = r.Age
			break
		}
	}
	return opts
}

// preempt force-releases the named units' reservations and retries once.
func (o *Orchestrator) preempt(u *unit.UnitOfWork, stage Stage, repo string, losers []string) (*reservation.Reservation, error) {
	status := o.res.RepositoryStatus(repo)
	loserSet := make(map[string]struct{}, len(losers))
	for _, id := range losers {
		loserSet[id] = struct{}{}
	}
	for _, r := range status.Reservations {
		if _, ok := loserSet[r.UnitID]; ok {
			_ = o.res.ForceRelease(r.Branch, "preempted by higher priority unit "+u.ID)
		}
	}
	return o.res.Reserve(u, stage.AgentType, repo)
}

// finish records the run's terminal state and persists the unit.
func (o *Orchestrator) finish(run *Run, state unit.Status, runErr error, stagesRun int) {
	run.mu.Lock()
	run.state = state
	run.err = runErr
	run.finished = true
	run.mu.Unlock()

	if u, err := o.store.Load(run.UnitID); err == nil && !u.Status.IsTerminal() {
		if err := u.Transition(state); err == nil {
			_ = o.store.Save(u)
		}
	}

	o.log.WithRepo(run.Repo).WithUnit(run.UnitID).Info("pipeline finished",
		"state", state.String(), "stages_run", stagesRun)
	if o.bus != nil {
		o.bus.Publish(event.NewPipelineCompletedEvent(run.UnitID, state.String(), stagesRun))
	}
	close(run.done)
}

func (o *Orchestrator) publishStage(unitID string, stage Stage, status StageStatus) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(event.NewStageChangedEvent(unitID, stage.Name, status.String(), stage.AgentType))
}

// RunBatch plans the batch and executes it group by group: units within a
// group run concurrently, groups run in order, and a failed unit stops the
// remaining groups.
func (o *Orchestrator) RunBatch(ctx context.Context, units []*unit.UnitOfWork, repo string, maxGroupSize int) error {
	ordered, err := plan.NewPlanner(maxGroupSize).ValidateAndOrder(units)
	if err != nil {
		return err
	}

	for _, group := range ordered.Groups {
		runs := make([]*Run, 0, len(group))
		for _, u := range group {
			run, err := o.Start(ctx, u, repo)
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
		for _, run := range runs {
			run.Wait()
		}
		for _, run := range runs {
			if state := run.State(); state != unit.StatusCompleted {
				return errors.NewStageError(
					fmt.Sprintf("unit %s finished %s; remaining groups skipped", run.UnitID, state),
					run.Err(),
				).WithUnit(run.UnitID)
			}
		}
	}
	return nil
}
