// Package reservation enforces the branch-lock invariant: at most one
// reservation per (repository, agent type) pair at any instant. The manager
// owns the per-repository registries the compatibility checker reads, the
// per-agent-type FIFO queues, and the stale-reservation recovery path.
package reservation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgecrew/wrangler/internal/conflict"
	"github.com/forgecrew/wrangler/internal/errors"
	"github.com/forgecrew/wrangler/internal/event"
	"github.com/forgecrew/wrangler/internal/logging"
	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

// Reservation is a mutual-exclusion claim on a (repository, agent type)
// pair, held while a unit's mutating stage runs.
type Reservation struct {
	Repo      string
	AgentType string
	Branch    string
	UnitID    string
	Ctx       taskctx.Context
	CreatedAt time.Time
}

// Age returns how long the reservation has been held.
func (r *Reservation) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// AdmitFunc is invoked outside the manager's lock when a queued unit is
// admitted with a freshly created reservation.
type AdmitFunc func(u *unit.UnitOfWork, res *Reservation)

// StatusSource reports lifecycle statuses for units the manager does not
// itself track, used to judge declared dependencies.
type StatusSource interface {
	UnitStatus(unitID string) (unit.Status, bool)
}

// ConflictError reports a failed reservation attempt. The caller is
// expected to run the resolution engine over Result.Conflicts.
type ConflictError struct {
	Repo   string
	UnitID string
	Result conflict.Result
}

func (e *ConflictError) Error() string {
	cats := make([]string, len(e.Result.Conflicts))
	for i, c := range e.Result.Conflicts {
		cats[i] = c.Category.String()
	}
	return fmt.Sprintf("unit %s incompatible with %s (%s): %s",
		e.UnitID, e.Repo, strings.Join(cats, ","), e.Result.Reason)
}

// Is matches ErrIncompatible always, and ErrAgentBusy when the reservation
// failed on agent capacity.
func (e *ConflictError) Is(target error) bool {
	if target == errors.ErrIncompatible {
		return true
	}
	if target == errors.ErrAgentBusy {
		for _, c := range e.Result.Conflicts {
			if c.Category == conflict.AgentBusy {
				return true
			}
		}
	}
	return false
}

type queueEntry struct {
	unit       *unit.UnitOfWork
	enqueuedAt time.Time
	onAdmit    AdmitFunc
}

type repoState struct {
	reservations map[string]*Reservation        // agentType -> reservation
	active       map[string]conflict.ActiveEntry // unitID -> entry
	fileUsage    map[string][]string            // filePath -> unit IDs
	queues       map[string][]queueEntry        // agentType -> FIFO
}

func newRepoState() *repoState {
	return &repoState{
		reservations: make(map[string]*Reservation),
		active:       make(map[string]conflict.ActiveEntry),
		fileUsage:    make(map[string][]string),
		queues:       make(map[string][]queueEntry),
	}
}

// Manager owns all per-repository scheduling state behind one mutex.
// Compatibility checks and reservation registration happen in the same
// critical section so no check result can go stale before it is acted on.
type Manager struct {
	mu    sync.Mutex
	repos map[string]*repoState

	predictor taskctx.Predictor
	statuses  StatusSource
	log       *logging.Logger
	bus       *event.Bus
	now       func() time.Time
}

// NewManager creates a reservation manager. statuses and bus may be nil.
func NewManager(predictor taskctx.Predictor, statuses StatusSource, log *logging.Logger, bus *event.Bus) *Manager {
	if predictor == nil {
		predictor = taskctx.NewKeywordExtractor()
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Manager{
		repos:     make(map[string]*repoState),
		predictor: predictor,
		statuses:  statuses,
		log:       log,
		bus:       bus,
		now:       time.Now,
	}
}

func (m *Manager) repo(name string) *repoState {
	rs, ok := m.repos[name]
	if !ok {
		rs = newRepoState()
		m.repos[name] = rs
	}
	return rs
}

// snapshotLocked assembles the point-in-time view the checker reads.
// Caller holds m.mu.
func (m *Manager) snapshotLocked(rs *repoState, repo string, u *unit.UnitOfWork) conflict.Snapshot {
	snap := conflict.Snapshot{
		Repo:           repo,
		FileUsage:      make(map[string][]string, len(rs.fileUsage)),
		ReservedAgents: make(map[string]string, len(rs.reservations)),
		Statuses:       make(map[string]unit.Status),
	}
	for _, entry := range rs.active {
		snap.Active = append(snap.Active, entry)
		snap.Statuses[entry.Unit.ID] = entry.Unit.Status
	}
	for f, owners := range rs.fileUsage {
		snap.FileUsage[f] = append([]string(nil), owners...)
	}
	for agentType, res := range rs.reservations {
		snap.ReservedAgents[agentType] = res.UnitID
	}
	if m.statuses != nil {
		for _, depID := range u.DependsOn {
			if _, have := snap.Statuses[depID]; have {
				continue
			}
			if status, ok := m.statuses.UnitStatus(depID); ok {
				snap.Statuses[depID] = status
			}
		}
	}
	return snap
}

// CheckCompatibility runs the compatibility check against the repository's
// current state without reserving anything.
func (m *Manager) CheckCompatibility(u *unit.UnitOfWork, repo string) conflict.Result {
	ctx := taskctx.Extract(m.predictor, u)

	m.mu.Lock()
	defer m.mu.Unlock()
	return conflict.Check(u, ctx, m.snapshotLocked(m.repo(repo), repo, u))
}

// Snapshot returns the repository's current scheduling snapshot, for
// callers that feed the resolution engine.
func (m *Manager) Snapshot(repo string, u *unit.UnitOfWork) conflict.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.repo(repo), repo, u)
}

// Reserve re-checks compatibility and, in the same critical section,
// registers the reservation, the active unit, and its files. Incompatible
// units fail with a ConflictError for the resolution engine.
func (m *Manager) Reserve(u *unit.UnitOfWork, agentType, repo string) (*Reservation, error) {
	if agentType == "" {
		agentType = u.AgentType
	}
	ctx := taskctx.Extract(m.predictor, u)

	m.mu.Lock()
	res, err := m.reserveLocked(u, ctx, agentType, repo)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	m.log.WithRepo(repo).WithUnit(u.ID).Info("branch reserved",
		"agent_type", agentType, "branch", res.Branch)
	if m.bus != nil {
		m.bus.Publish(event.NewReservationCreatedEvent(repo, agentType, res.Branch, u.ID))
	}
	return res, nil
}

// reserveLocked is the atomic check-then-reserve step. Caller holds m.mu.
func (m *Manager) reserveLocked(u *unit.UnitOfWork, ctx taskctx.Context, agentType, repo string) (*Reservation, error) {
	rs := m.repo(repo)

	if _, active := rs.active[u.ID]; active {
		return nil, errors.NewReservationError("unit is already active", errors.ErrAlreadyReserved).
			WithRepo(repo).WithUnit(u.ID)
	}

	snap := m.snapshotLocked(rs, repo, u)
	check := conflict.Check(u, ctx, snap)
	if !check.Compatible {
		return nil, &ConflictError{Repo: repo, UnitID: u.ID, Result: check}
	}

	// The checker judges capacity against the unit's own agent type; an
	// override still has to find its assignment slot free.
	if agentType != u.AgentType {
		if holder, busy := snap.ReservedAgents[agentType]; busy {
			c := conflict.Conflict{
				Category: conflict.AgentBusy,
				Severity: conflict.SeverityLow,
				UnitIDs:  []string{holder},
				Detail:   fmt.Sprintf("agent type %q is reserved by unit %s", agentType, holder),
			}
			return nil, &ConflictError{Repo: repo, UnitID: u.ID, Result: conflict.Result{
				Reason:    c.Detail,
				Conflicts: []conflict.Conflict{c},
			}}
		}
	}

	now := m.now()
	res := &Reservation{
		Repo:      repo,
		AgentType: agentType,
		Branch:    branchName(agentType, u.ID, now),
		UnitID:    u.ID,
		Ctx:       ctx,
		CreatedAt: now,
	}
	rs.reservations[agentType] = res
	rs.active[u.ID] = conflict.ActiveEntry{Unit: u, Ctx: ctx}
	for _, f := range ctx.Files {
		rs.fileUsage[f] = append(rs.fileUsage[f], u.ID)
	}
	return res, nil
}

// branchName derives the deterministic branch for a reservation.
func branchName(agentType, unitID string, now time.Time) string {
	return fmt.Sprintf("agent/%s/%s-%d", agentType, unitID, now.Unix())
}

// Release removes the reservation holding the given branch, drops the
// unit's files from the usage index, and runs a queue admission cycle.
// Releasing an unknown branch is a warned no-op.
func (m *Manager) Release(branch string) error {
	return m.release(branch, false, "released")
}

// ForceRelease removes a reservation regardless of who holds it, marking
// the release as forced.
func (m *Manager) ForceRelease(branch, reason string) error {
	return m.release(branch, true, reason)
}

func (m *Manager) release(branch string, forced bool, reason string) error {
	m.mu.Lock()
	repo, res := m.findByBranchLocked(branch)
	if res == nil {
		m.mu.Unlock()
		m.log.Warn("release of unknown branch", "branch", branch)
		return nil
	}
	m.dropReservationLocked(m.repos[repo], res)
	admitted := m.processQueueLocked(repo)
	m.mu.Unlock()

	m.log.WithRepo(repo).WithUnit(res.UnitID).Info("branch released",
		"branch", branch, "forced", forced)
	if m.bus != nil {
		m.bus.Publish(event.NewReservationReleasedEvent(repo, branch, res.UnitID, forced, reason))
	}
	m.deliver(repo, admitted)
	return nil
}

func (m *Manager) findByBranchLocked(branch string) (string, *Reservation) {
	for repo, rs := range m.repos {
		for _, res := range rs.reservations {
			if res.Branch == branch {
				return repo, res
			}
		}
	}
	return "", nil
}

// dropReservationLocked removes the reservation and every trace of its
// unit from the registries. Caller holds m.mu.
func (m *Manager) dropReservationLocked(rs *repoState, res *Reservation) {
	delete(rs.reservations, res.AgentType)
	delete(rs.active, res.UnitID)
	for _, f := range res.Ctx.Files {
		owners := rs.fileUsage[f]
		for i, owner := range owners {
			if owner == res.UnitID {
				owners = append(owners[:i], owners[i+1:]...)
				break
			}
		}
		if len(owners) == 0 {
			delete(rs.fileUsage, f)
		} else {
			rs.fileUsage[f] = owners
		}
	}
}

// QueueTask appends the unit to the repository's FIFO queue for its agent
// type. onAdmit fires when a later admission cycle finds it compatible.
func (m *Manager) QueueTask(u *unit.UnitOfWork, agentType, repo string, onAdmit AdmitFunc) {
	m.mu.Lock()
	rs := m.repo(repo)
	rs.queues[agentType] = append(rs.queues[agentType], queueEntry{
		unit:       u,
		enqueuedAt: m.now(),
		onAdmit:    onAdmit,
	})
	depth := len(rs.queues[agentType])
	m.mu.Unlock()

	m.log.WithRepo(repo).WithUnit(u.ID).Info("unit queued",
		"agent_type", agentType, "depth", depth)
}

// ProcessQueue runs one admission cycle for the repository.
func (m *Manager) ProcessQueue(repo string) {
	m.mu.Lock()
	admitted := m.processQueueLocked(repo)
	m.mu.Unlock()
	m.deliver(repo, admitted)
}

type admission struct {
	entry  queueEntry
	res    *Reservation
	waited time.Duration
}

// processQueueLocked scans each agent-type queue from the head and admits
// the first compatible entry, removing only that one. A blocked entry at
// the head does not surrender its position to later compatible entries;
// they are re-checked on the next cycle. This bounds work per release
// event to one admission per agent type. Caller holds m.mu.
func (m *Manager) processQueueLocked(repo string) []admission {
	rs, ok := m.repos[repo]
	if !ok {
		return nil
	}

	agentTypes := make([]string, 0, len(rs.queues))
	for at := range rs.queues {
		agentTypes = append(agentTypes, at)
	}
	sort.Strings(agentTypes)

	var admitted []admission
	for _, agentType := range agentTypes {
		queue := rs.queues[agentType]
		for i, entry := range queue {
			ctx := taskctx.Extract(m.predictor, entry.unit)
			res, err := m.reserveLocked(entry.unit, ctx, agentType, repo)
			if err != nil {
				continue
			}
			rs.queues[agentType] = append(queue[:i], queue[i+1:]...)
			admitted = append(admitted, admission{
				entry:  entry,
				res:    res,
				waited: m.now().Sub(entry.enqueuedAt),
			})
			break
		}
		if len(rs.queues[agentType]) == 0 {
			delete(rs.queues, agentType)
		}
	}
	return admitted
}

// deliver publishes admission events and invokes callbacks outside the lock.
func (m *Manager) deliver(repo string, admitted []admission) {
	for _, a := range admitted {
		m.log.WithRepo(repo).WithUnit(a.entry.unit.ID).Info("queued unit admitted",
			"agent_type", a.res.AgentType, "waited", a.waited)
		if m.bus != nil {
			m.bus.Publish(event.NewQueueAdmittedEvent(repo, a.res.AgentType, a.entry.unit.ID, a.waited))
		}
		if a.entry.onAdmit != nil {
			a.entry.onAdmit(a.entry.unit, a.res)
		}
	}
}

// EmergencyCleanup force-releases every reservation older than maxAge and
// returns how many were released. The normal reserve/release path never
// calls this; it exists for stuck-process recovery.
func (m *Manager) EmergencyCleanup(maxAge time.Duration) int {
	now := m.now()

	m.mu.Lock()
	var stale []*Reservation
	for _, rs := range m.repos {
		for _, res := range rs.reservations {
			if res.Age(now) > maxAge {
				stale = append(stale, res)
			}
		}
	}
	for _, res := range stale {
		m.dropReservationLocked(m.repos[res.Repo], res)
	}

	repos := make(map[string]struct{})
	for _, res := range stale {
		repos[res.Repo] = struct{}{}
	}
	repoAdmissions := make(map[string][]admission)
	for repo := range repos {
		repoAdmissions[repo] = m.processQueueLocked(repo)
	}
	m.mu.Unlock()


	for _, res := range stale {
		m.log.WithRepo(res.Repo).WithUnit(res.UnitID).Warn("stale reservation force-released",
			"branch", res.Branch, "age", res.Age(now))
		if m.bus != nil {
			m.bus.Publish(event.NewReservationReleasedEvent(res.Repo, res.Branch, res.UnitID, true, "emergency cleanup"))
		}
	}
	for repo, adms := range repoAdmissions {
		m.deliver(repo, adms)
	}
	if len(stale) > 0 && m.bus != nil {
		m.bus.Publish(event.NewCleanupForcedEvent(len(stale), maxAge))
	}
	return len(stale)
}

// RepoStatus is a read-only monitoring snapshot of one repository.
type RepoStatus struct {
	Repo         string              `json:"repo"`
	Reservations []ReservationStatus `json:"reservations"`
	QueueDepths  map[string]int      `json:"queue_depths"`
}

// ReservationStatus describes one active reservation with its age.
type ReservationStatus struct {
	AgentType string        `json:"agent_type"`
	Branch    string        `json:"branch"`
	UnitID    string        `json:"unit_id"`
	Age       time.Duration `json:"age"`
}

// RepositoryStatus returns the monitoring snapshot for one repository.
func (m *Manager) RepositoryStatus(repo string) RepoStatus {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(repo, now)
}

// AllRepositoriesStatus returns monitoring snapshots for every repository
// the manager has seen.
func (m *Manager) AllRepositoriesStatus() []RepoStatus {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	repos := make([]string, 0, len(m.repos))
	for repo := range m.repos {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	out := make([]RepoStatus, 0, len(repos))
	for _, repo := range repos {
		out = append(out, m.statusLocked(repo, now))
	}
	return out
}

func (m *Manager) statusLocked(repo string, now time.Time) RepoStatus {
	status := RepoStatus{Repo: repo, QueueDepths: make(map[string]int)}
	rs, ok := m.repos[repo]
	if !ok {
		return status
	}
	for _, res := range rs.reservations {
		status.Reservations = append(status.Reservations, ReservationStatus{
			AgentType: res.AgentType,
			Branch:    res.Branch,
			UnitID:    res.UnitID,
			Age:       res.Age(now),
		})
	}
	sort.Slice(status.Reservations, func(i, j int) bool {
		return status.Reservations[i].AgentType < status.Reservations[j].AgentType
	})
	for agentType, queue := range rs.queues {
		status.QueueDepths[agentType] = len(queue)
	}
	return status
}
