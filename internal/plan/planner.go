// Package plan turns a batch of units of work into an execution plan:
// a topologically valid order plus greedy parallel groupings. Planning is
// all-or-nothing: a dependency cycle fails the whole batch with a
// CycleError, never a partial plan.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forgecrew/wrangler/internal/errors"
	"github.com/forgecrew/wrangler/internal/unit"
)

// DefaultMaxGroupSize caps how many units a single parallel group may hold.
const DefaultMaxGroupSize = 3

// ExecutionPlan is the result of planning a batch: a total order in which
// every unit appears after all of its dependencies, and parallel groups the
// orchestrator may execute concurrently.
type ExecutionPlan struct {
	// Order is the full topological execution order.
	Order []*unit.UnitOfWork

	// Groups partitions Order into batches of independent units. Units
	// within a group have no dependency edges between them.
	Groups [][]*unit.UnitOfWork
}

// UnitIDs returns the IDs of the planned order.
func (p *ExecutionPlan) UnitIDs() []string {
	ids := make([]string, len(p.Order))
	for i, u := range p.Order {
		ids[i] = u.ID
	}
	return ids
}

// CycleError reports a dependency cycle found while planning a batch.
// It names every unit still blocked when the sort stalled.
type CycleError struct {
	// UnitIDs are the units participating in (or downstream of) the cycle.
	UnitIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving units: %s", strings.Join(e.UnitIDs, ", "))
}

// Is allows errors.Is(err, errors.ErrDependencyCycle) to match.
func (e *CycleError) Is(target error) bool {
	return target == errors.ErrDependencyCycle
}

// Planner computes execution plans for batches of units.
type Planner struct {
	maxGroupSize int
}

// NewPlanner creates a Planner with the given parallel group size cap.
// A cap below one falls back to DefaultMaxGroupSize.
func NewPlanner(maxGroupSize int) *Planner {
	if maxGroupSize < 1 {
		maxGroupSize = DefaultMaxGroupSize
	}
	return &Planner{maxGroupSize: maxGroupSize}
}

// ValidateAndOrder validates the batch and computes the execution plan.
// Dependencies referencing units outside the batch are rejected; a cycle
// yields a CycleError naming the blocked units.
func (p *Planner) ValidateAndOrder(units []*unit.UnitOfWork) (*ExecutionPlan, error) {
	if len(units) == 0 {
		return nil, errors.NewPlanError("cannot plan batch", errors.ErrEmptyBatch)
	}

	byID := make(map[string]*unit.UnitOfWork, len(units))
	for _, u := range units {
		if _, dup := byID[u.ID]; dup {
			return nil, errors.NewPlanError(
				fmt.Sprintf("duplicate unit id %s in batch", u.ID),
				errors.ErrInvalidInput,
			).WithUnits([]string{u.ID})
		}
		byID[u.ID] = u
	}

	for _, u := range units {
		for _, depID := range u.DependsOn {
			if _, ok := byID[depID]; !ok {
				return nil, errors.NewPlanError(
					fmt.Sprintf("unit %s depends on %s which is not in the batch", u.ID, depID),
					errors.ErrUnknownDependency,
				).WithUnits([]string{u.ID})
			}
		}
	}

	order, err := topoSort(units, byID)
	if err != nil {
		return nil, err
	}

	return &ExecutionPlan{
		Order:  order,
		Groups: p.group(order),
	}, nil
}

// topoSort runs Kahn's algorithm over the declared dependency edges.
// Ties are broken by batch submission order so planning is deterministic.
func topoSort(units []*unit.UnitOfWork, byID map[string]*unit.UnitOfWork) ([]*unit.UnitOfWork, error) {
	inDegree := make(map[string]int, len(units))
	dependents := make(map[string][]string, len(units))
	position := make(map[string]int, len(units))

	for i, u := range units {
		inDegree[u.ID] = 0
		position[u.ID] = i
	}
	for _, u := range units {
		for _, depID := range u.DependsOn {
			if _, ok := byID[depID]; !ok {
				continue
			}
			inDegree[u.ID]++
			dependents[depID] = append(dependents[depID], u.ID)
		}
	}

	var queue []string
	for _, u := range units {
		if inDegree[u.ID] == 0 {
			queue = append(queue, u.ID)
		}
	}

	order := make([]*unit.UnitOfWork, 0, len(units))
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool {
			return position[queue[i]] < position[queue[j]]
		})

		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])

		for _, depID := range dependents[id] {
			inDegree[depID]--
			if inDegree[depID] == 0 {
				queue = append(queue, depID)
			}
		}
	}

	if len(order) < len(units) {
		var blocked []string
		for _, u := range units {
			if inDegree[u.ID] > 0 {
				blocked = append(blocked, u.ID)
			}
		}
		sort.Strings(blocked)
		return nil, &CycleError{UnitIDs: blocked}
	}

	return order, nil
}

// group packs the topological order into parallel groups by dependency
// level: a unit's level is one past the deepest level among its
// dependencies. Units sharing a level have no edges between them, so an
// independent unit joins the earliest level it qualifies for instead of
// being stranded behind an unrelated dependent. Levels wider than the
// size cap are split in order.
func (p *Planner) group(order []*unit.UnitOfWork) [][]*unit.UnitOfWork {
	level := make(map[string]int, len(order))
	maxLevel := 0
	for _, u := range order {
		l := 0
		for _, depID := range u.DependsOn {
			if dl, ok := level[depID]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[u.ID] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	var groups [][]*unit.UnitOfWork
	for l := 0; l <= maxLevel; l++ {
		var current []*unit.UnitOfWork
		for _, u := range order {
			if level[u.ID] != l {
				continue
			}
			if len(current) == p.maxGroupSize {
				groups = append(groups, current)
				current = nil
			}
			current = append(current, u)
		}
		if len(current) > 0 {
			groups = append(groups, current)
		}
	}
	return groups
}

// DetectCycle reports whether the batch contains a dependency cycle
// without building a full plan. Used for fast pre-validation.
func DetectCycle(units []*unit.UnitOfWork) *CycleError {
	byID := make(map[string]*unit.UnitOfWork, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	if _, err := topoSort(units, byID); err != nil {
		var ce *CycleError
		if errors.As(err, &ce) {
			return ce
		}
	}
	return nil
}
