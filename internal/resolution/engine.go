package resolution

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgecrew/wrangler/internal/conflict"
	"github.com/forgecrew/wrangler/internal/event"
	"github.com/forgecrew/wrangler/internal/logging"
	"github.com/forgecrew/wrangler/internal/plan"
	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

// Engine resolves conflicts reported by the compatibility checker.
// It never mutates the snapshot or the candidate unit; action payloads
// describe what the caller should apply.
type Engine struct {
	predictor taskctx.Predictor
	log       *logging.Logger
	bus       *event.Bus
	now       func() time.Time

	// similarity is the keyword-similarity ratio above which two units
	// are treated as duplicates and merged.
	similarity float64

	// noPreempt disables the priority-preemption strategy.
	noPreempt bool
}

// SetAllowPreemption toggles whether higher-priority candidates may
// preempt reservations held by lower-priority work.
func (e *Engine) SetAllowPreemption(allow bool) {
	e.noPreempt = !allow
}

// SetSimilarityThreshold overrides the duplicate-merge threshold. Values
// outside (0, 1] are ignored.
func (e *Engine) SetSimilarityThreshold(t float64) {
	if t > 0 && t <= 1 {
		e.similarity = t
	}
}

// NewEngine creates a resolution engine. The bus may be nil when no
// observer cares about resolution events.
func NewEngine(predictor taskctx.Predictor, log *logging.Logger, bus *event.Bus) *Engine {
	if predictor == nil {
		predictor = taskctx.NewKeywordExtractor()
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Engine{
		predictor:  predictor,
		log:        log,
		bus:        bus,
		now:        time.Now,
		similarity: mergeThreshold,
	}
}

// Resolve dispatches the conflict to its category handler and returns the
// outcome. Unresolvable conflicts yield an unresolved Resolution with
// fallback suggestions; Resolve never returns an error.
func (e *Engine) Resolve(u *unit.UnitOfWork, ctx taskctx.Context, c conflict.Conflict, snap conflict.Snapshot, opts Options) Resolution {
	var res Resolution
	switch c.Category {
	case conflict.FileOverlap:
		res = e.resolveFileOverlap(u, ctx, c, snap, opts)
	case conflict.DependencyConflict:
		res = e.resolveDependencyConflict(u, c, snap)
	case conflict.ModuleOverlap:
		res = e.resolveModuleOverlap(u, c, snap)
	case conflict.AgentBusy:
		res = e.resolveAgentBusy(u, snap, opts)
	case conflict.ConceptualConflict:
		res = e.resolveConceptualConflict(u, c, snap)
	default:
		res = unresolved(fmt.Sprintf("no handler for conflict category %s", c.Category))
	}

	e.log.WithRepo(snap.Repo).WithUnit(u.ID).Info("conflict resolution",
		"category", c.Category.String(),
		"strategy", res.Strategy.String(),
		"resolved", res.Resolved,
	)
	if e.bus != nil {
		e.bus.Publish(event.NewConflictResolvedEvent(snap.Repo, u.ID, res.Strategy.String(), res.Resolved))
	}
	return res
}

func unresolved(detail string) Resolution {
	return Resolution{
		Resolved:    false,
		Strategy:    StrategyNone,
		Detail:      detail,
		Suggestions: append([]string(nil), fallbackSuggestions...),
	}
}

// resolveFileOverlap tries sequencing, then splitting, then priority
// preemption, and finally falls back to an intelligent queue placement.
func (e *Engine) resolveFileOverlap(u *unit.UnitOfWork, ctx taskctx.Context, c conflict.Conflict, snap conflict.Snapshot, opts Options) Resolution {
	if res, ok := e.trySequence(u, c, snap); ok {
		return res
	}
	if res, ok := e.trySplit(u, ctx, c); ok {
		return res
	}
	if !e.noPreempt {
		if res, ok := e.tryPreempt(u, c, snap); ok {
			return res
		}
	}
	return e.queuePlacement(StrategyIntelligentQueue, c.UnitIDs, snap, opts)
}

// trySequence orders the candidate strictly after the conflicting units.
// Eligible when the overlap is a single file or the candidate's type differs
// from every conflicting unit's type; the added edges must not introduce a
// dependency cycle.
func (e *Engine) trySequence(u *unit.UnitOfWork, c conflict.Conflict, snap conflict.Snapshot) (Resolution, bool) {
	eligible := len(c.Files) <= 1
	if !eligible {
		eligible = true
		for _, id := range c.UnitIDs {
			other, ok := snap.UnitOf(id)
			if !ok || other.Type == u.Type {
				eligible = false
				break
			}
		}
	}
	if !eligible {
		return Resolution{}, false
	}
	if introducesCycle(u, c.UnitIDs, snap) {
		return Resolution{}, false
	}
	return Resolution{
		Resolved:          true,
		Strategy:          StrategySequenceAfterConflicts,
		Detail:            fmt.Sprintf("sequence %s after %v", u.ID, c.UnitIDs),
		AddedDependencies: append([]string(nil), c.UnitIDs...),
	}, true
}

// trySplit carves the candidate into a non-conflicting slice that can run
// now and an integration slice sequenced after the conflicts. Requires the
// unit to touch more files than it conflicts on and to be above simple
// complexity.
func (e *Engine) trySplit(u *unit.UnitOfWork, ctx taskctx.Context, c conflict.Conflict) (Resolution, bool) {
	if u.Complexity == unit.Simple || len(ctx.Files) <= len(c.Files) {
		return Resolution{}, false
	}

	conflicting := make(map[string]struct{}, len(c.Files))
	for _, f := range c.Files {
		conflicting[f] = struct{}{}
	}
	var free []string
	for _, f := range ctx.Files {
		if _, ok := conflicting[f]; !ok {
			free = append(free, f)
		}
	}
	if len(free) == 0 {
		return Resolution{}, false
	}

	core := subUnit(u, "core", free)
	integration := subUnit(u, "integration", append([]string(nil), c.Files...))
	integration.DependsOn = append([]string{core.ID}, c.UnitIDs...)

	return Resolution{
		Resolved: true,
		Strategy: StrategySplitTask,
		Detail:   fmt.Sprintf("split %s into %s and %s", u.ID, core.ID, integration.ID),
		SubUnits: []*unit.UnitOfWork{core, integration},
	}, true
}

// tryPreempt runs the candidate now when its priority score strictly
// exceeds every conflicting unit's score.
func (e *Engine) tryPreempt(u *unit.UnitOfWork, c conflict.Conflict, snap conflict.Snapshot) (Resolution, bool) {
	now := e.now()
	mine := Score(u, now)
	for _, id := range c.UnitIDs {
		other, ok := snap.UnitOf(id)
		if !ok || Score(other, now) >= mine {
			return Resolution{}, false
		}
	}
	return Resolution{
		Resolved:       true,
		Strategy:       StrategyPreemptLowerPriority,
		Detail:         fmt.Sprintf("unit %s (score %d) preempts %v", u.ID, mine, c.UnitIDs),
		PreemptedUnits: append([]string(nil), c.UnitIDs...),
	}, true
}

// resolveDependencyConflict restructures cycles, waits on incomplete
// dependencies, or declares the units independently schedulable.
func (e *Engine) resolveDependencyConflict(u *unit.UnitOfWork, c conflict.Conflict, snap conflict.Snapshot) Resolution {
	batch := []*unit.UnitOfWork{u.Clone()}
	for _, entry := range snap.Active {
		if entry.Unit.ID != u.ID {
			batch = append(batch, entry.Unit.Clone())
		}
	}

	if ce := plan.DetectCycle(batch); ce != nil {
		return e.breakCycle(u, batch, ce)
	}

	var wait time.Duration
	waiting := false
	for _, depID := range c.UnitIDs {
		status, known := snap.Statuses[depID]
		if !known || status == unit.StatusCompleted {
			continue
		}
		waiting = true
		if d := e.remainingDuration(depID, snap); d > wait {
			wait = d
		}
	}
	if waiting {
		return Resolution{
			Resolved:      true,
			Strategy:      StrategyWaitForDependencies,
			Detail:        fmt.Sprintf("wait for %v to complete", c.UnitIDs),
			EstimatedWait: wait,
		}
	}

	return Resolution{
		Resolved: true,
		Strategy: StrategyParallelExecution,
		Detail:   "no blocking dependency remains; units are independently schedulable",
	}
}

// breakCycle demotes one dependency edge inside the cycle and recomputes
// the execution order.
func (e *Engine) breakCycle(u *unit.UnitOfWork, batch []*unit.UnitOfWork, ce *plan.CycleError) Resolution {
	inCycle := make(map[string]struct{}, len(ce.UnitIDs))
	for _, id := range ce.UnitIDs {
		inCycle[id] = struct{}{}
	}

	// Prefer demoting one of the candidate's own edges.
	var from *unit.UnitOfWork
	if _, ok := inCycle[u.ID]; ok {
		from = findUnit(batch, u.ID)
	} else {
		from = findUnit(batch, ce.UnitIDs[0])
	}
	if from == nil {
		return unresolved("dependency cycle detected but no edge could be demoted")
	}

	dropped := ""
	for i, depID := range from.DependsOn {
		if _, ok := inCycle[depID]; ok {
			dropped = fmt.Sprintf("%s->%s", from.ID, depID)
			from.DependsOn = append(from.DependsOn[:i], from.DependsOn[i+1:]...)
			break
		}
	}
	if dropped == "" {
		return unresolved("dependency cycle detected but no edge could be demoted")
	}

	ordered, err := plan.NewPlanner(0).ValidateAndOrder(batch)
	if err != nil {
		return unresolved(fmt.Sprintf("cycle restructuring failed: %v", err))
	}

	return Resolution{
		Resolved:    true,
		Strategy:    StrategyResolveCircularDependencies,
		Detail:      fmt.Sprintf("demoted edge %s to break cycle %v", dropped, ce.UnitIDs),
		DroppedEdge: dropped,
		NewOrder:    ordered.UnitIDs(),
	}
}

// resolveModuleOverlap tries layer separation, then merging near-duplicate
// work, then sequential execution with an explicit interface contract.
func (e *Engine) resolveModuleOverlap(u *unit.UnitOfWork, c conflict.Conflict, snap conflict.Snapshot) Resolution {
	myLayer := layerFor(u)
	layers := map[string]string{u.ID: myLayer}
	separable := true
	for _, id := range c.UnitIDs {
		other, ok := snap.UnitOf(id)
		if !ok {
			separable = false
			break
		}
		l := layerFor(other)
		if l == myLayer {
			separable = false
			break
		}
		layers[id] = l
	}
	if separable {
		return Resolution{
			Resolved: true,
			Strategy: StrategyLayerSeparation,
			Detail:   fmt.Sprintf("units work in disjoint layers of %v", c.Modules),
			Layers:   layers,
		}
	}

	if len(c.UnitIDs) == 1 {
		if other, ok := snap.UnitOf(c.UnitIDs[0]); ok && Similarity(u, other) >= e.similarity {
			return e.merge(u, other)
		}
	}

	if introducesCycle(u, c.UnitIDs, snap) {
		return unresolved("sequential fallback would introduce a dependency cycle")
	}
	return Resolution{
		Resolved:          true,
		Strategy:          StrategySequenceAfterConflicts,
		Detail:            fmt.Sprintf("run sequentially after %v behind an agreed interface contract for %v", c.UnitIDs, c.Modules),
		AddedDependencies: append([]string(nil), c.UnitIDs...),
		IntegrationPoints: append([]string(nil), c.Modules...),
	}
}

// resolveAgentBusy tries reassignment to a capable idle agent type, then a
// capacity split for complex work, then a workload-balanced queue placement.
func (e *Engine) resolveAgentBusy(u *unit.UnitOfWork, snap conflict.Snapshot, opts Options) Resolution {
	req := requirementTags(u)
	for _, agentType := range agentTypeOrder {
		if agentType == u.AgentType {
			continue
		}
		if _, busy := snap.ReservedAgents[agentType]; busy {
			continue
		}
		if !capsIntersect(agentCapabilities[agentType], req) {
			continue
		}
		return Resolution{
			Resolved:        true,
			Strategy:        StrategyReassignToAvailableAgent,
			Detail:          fmt.Sprintf("reassign %s from %s to %s", u.ID, u.AgentType, agentType),
			ReassignedAgent: agentType,
		}
	}

	if (u.Complexity == unit.Complex || u.Complexity == unit.Expert) && len(u.Files) >= 2 {
		mid := len(u.Files) / 2
		first := subUnit(u, "part1", append([]string(nil), u.Files[:mid]...))
		second := subUnit(u, "part2", append([]string(nil), u.Files[mid:]...))
		second.DependsOn = []string{first.ID}
		return Resolution{
			Resolved: true,
			Strategy: StrategySplitTask,
			Detail:   fmt.Sprintf("split %s to fit agent capacity", u.ID),
			SubUnits: []*unit.UnitOfWork{first, second},
		}
	}

	base, ok := agentBaseDuration[u.AgentType]
	if !ok {
		base = defaultAgentDuration
	}
	wait := base - opts.ReservationAge
	if wait < 5*time.Minute {
		wait = 5 * time.Minute
	}
	return Resolution{
		Resolved:      true,
		Strategy:      StrategyWorkloadBalancedQueue,
		Detail:        fmt.Sprintf("queue %s behind busy agent %s", u.ID, u.AgentType),
		EstimatedWait: wait,
		QueuePosition: opts.QueueDepth + 1,
	}
}

// resolveConceptualConflict merges near-duplicates or produces a
// coordination plan naming a lead unit and the shared integration points.
func (e *Engine) resolveConceptualConflict(u *unit.UnitOfWork, c conflict.Conflict, snap conflict.Snapshot) Resolution {
	if len(c.UnitIDs) == 0 {
		return unresolved("conceptual conflict without a counterpart unit")
	}
	other, ok := snap.UnitOf(c.UnitIDs[0])
	if !ok {
		return unresolved(fmt.Sprintf("conflicting unit %s is no longer active", c.UnitIDs[0]))
	}

	if Similarity(u, other) >= e.similarity {
		return e.merge(u, other)
	}

	lead := u.ID
	now := e.now()
	if Score(other, now) > Score(u, now) {
		lead = other.ID
	}
	points := make(map[string]struct{})
	for _, m := range c.Modules {
		points[m] = struct{}{}
	}
	for _, f := range c.Files {
		points[f] = struct{}{}
	}
	if otherCtx, ok := snap.ContextOf(other.ID); ok {
		myCtx := taskctx.Extract(e.predictor, u)
		for _, m := range myCtx.SharesModule(otherCtx) {
			points[m] = struct{}{}
		}
	}
	return Resolution{
		Resolved:          true,
		Strategy:          StrategyCoordinationPlan,
		Detail:            fmt.Sprintf("coordinate related work; %s leads", lead),
		LeadUnit:          lead,
		IntegrationPoints: sortedStrings(points),
	}
}

// merge combines two conceptually duplicate units into one replacement
// unit. Both source IDs are retained for traceability.
func (e *Engine) merge(a, b *unit.UnitOfWork) Resolution {
	merged := unit.New(uuid.NewString(), a.Title, a.Description+"\n\n"+b.Description)
	merged.Type = a.Type
	merged.MergedFrom = []string{a.ID, b.ID}

	merged.Complexity = a.Complexity
	if b.Complexity > merged.Complexity {
		merged.Complexity = b.Complexity
	}
	merged.Priority = a.Priority
	if b.Priority > merged.Priority {
		merged.Priority = b.Priority
	}

	merged.AgentType = a.AgentType
	if rankAgent(b.AgentType) < rankAgent(a.AgentType) {
		merged.AgentType = b.AgentType
	}

	merged.Files = unionExcluding(a.Files, b.Files, nil)
	exclude := map[string]struct{}{a.ID: {}, b.ID: {}}
	merged.DependsOn = unionExcluding(a.DependsOn, b.DependsOn, exclude)
	merged.Blocks = unionExcluding(a.Blocks, b.Blocks, exclude)

	return Resolution{
		Resolved:   true,
		Strategy:   StrategyMergeUnits,
		Detail:     fmt.Sprintf("merged duplicate units %s and %s into %s", a.ID, b.ID, merged.ID),
		MergedUnit: merged,
	}
}

// queuePlacement builds a queue resolution with the wait estimated from
// the conflicting units' remaining durations.
func (e *Engine) queuePlacement(s Strategy, blocking []string, snap conflict.Snapshot, opts Options) Resolution {
	var wait time.Duration
	for _, id := range blocking {
		if d := e.remainingDuration(id, snap); d > wait {
			wait = d
		}
	}
	if wait == 0 {
		wait = defaultAgentDuration
	}
	return Resolution{
		Resolved:      true,
		Strategy:      s,
		Detail:        fmt.Sprintf("queue behind active units %v", blocking),
		EstimatedWait: wait,
		QueuePosition: opts.QueueDepth + 1,
	}
}

// remainingDuration estimates how long the given active unit still needs.
func (e *Engine) remainingDuration(unitID string, snap conflict.Snapshot) time.Duration {
	if ctx, ok := snap.ContextOf(unitID); ok && ctx.EstimatedDuration > 0 {
		return ctx.EstimatedDuration
	}
	if u, ok := snap.UnitOf(unitID); ok {
		return e.predictor.EstimateDuration(u)
	}
	return 0
}

// introducesCycle reports whether adding edges from the candidate onto the
// given units would create a dependency cycle among the active set.
func introducesCycle(u *unit.UnitOfWork, onto []string, snap conflict.Snapshot) bool {
	candidate := u.Clone()
	candidate.DependsOn = append(candidate.DependsOn, onto...)
	batch := []*unit.UnitOfWork{candidate}
	for _, entry := range snap.Active {
		if entry.Unit.ID != u.ID {
			batch = append(batch, entry.Unit.Clone())
		}
	}
	return plan.DetectCycle(batch) != nil
}

// subUnit derives a new unit covering a slice of the parent's files.
func subUnit(parent *unit.UnitOfWork, label string, files []string) *unit.UnitOfWork {
	id := fmt.Sprintf("%s-%s-%s", parent.ID, label, uuid.NewString()[:8])
	s := unit.New(id, fmt.Sprintf("%s (%s)", parent.Title, label), parent.Description)
	s.Type = parent.Type
	s.Complexity = parent.Complexity
	s.Priority = parent.Priority
	s.AgentType = parent.AgentType
	s.Files = files
	s.DependsOn = append([]string(nil), parent.DependsOn...)
	return s
}

func findUnit(batch []*unit.UnitOfWork, id string) *unit.UnitOfWork {
	for _, u := range batch {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func capsIntersect(caps []string, req map[string]struct{}) bool {
	for _, c := range caps {
		if _, ok := req[c]; ok {
			return true
		}
	}
	return false
}

func unionExcluding(a, b []string, exclude map[string]struct{}) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	for s := range exclude {
		delete(set, s)
	}
	if len(set) == 0 {
		return nil
	}
	return sortedStrings(set)
}
