package conflict

import (
	"fmt"
	"sort"

	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

// Check determines whether the candidate unit can run now against the
// repository snapshot. Checks run in precedence order: file overlap,
// dependency conflict, module overlap, agent capacity. The first category
// triggered is returned; callers may re-invoke after partial resolution to
// discover subsequent categories. Compatible is true only when none trigger.
func Check(u *unit.UnitOfWork, ctx taskctx.Context, snap Snapshot) Result {
	if c := checkFileOverlap(u, ctx, snap); c != nil {
		return incompatible(*c)
	}
	if c := checkDependencies(u, snap); c != nil {
		return incompatible(*c)
	}
	if c := checkModuleOverlap(u, ctx, snap); c != nil {
		return incompatible(*c)
	}
	if c := checkAgentCapacity(u, snap); c != nil {
		return incompatible(*c)
	}
	return Result{Compatible: true}
}

func incompatible(c Conflict) Result {
	return Result{
		Compatible: false,
		Reason:     c.Detail,
		Conflicts:  []Conflict{c},
	}
}

// checkFileOverlap looks for affected files already claimed by another
// active unit via the repository's file usage index.
func checkFileOverlap(u *unit.UnitOfWork, ctx taskctx.Context, snap Snapshot) *Conflict {
	offenders := make(map[string]struct{})
	var files []string

	for _, f := range ctx.Files {
		for _, owner := range snap.FileUsage[f] {
			if owner == u.ID {
				continue
			}
			if _, seen := offenders[owner]; !seen {
				offenders[owner] = struct{}{}
			}
			files = appendUnique(files, f)
		}
	}
	if len(offenders) == 0 {
		return nil
	}

	ids := sortedSet(offenders)
	sev := baseSeverity[FileOverlap]
	// Multiple offending units on the same files escalates the severity.
	if len(ids) > 1 {
		sev = sev.Escalate(SeverityCritical)
	}
	return &Conflict{
		Category: FileOverlap,
		Severity: sev,
		UnitIDs:  ids,
		Files:    files,
		Detail:   fmt.Sprintf("files %v already claimed by active units %v", files, ids),
	}
}

// checkDependencies flags declared dependencies that are known and not
// yet completed.
func checkDependencies(u *unit.UnitOfWork, snap Snapshot) *Conflict {
	var blocking []string
	for _, depID := range u.DependsOn {
		status, known := snap.Statuses[depID]
		if !known {
			continue
		}
		if status != unit.StatusCompleted {
			blocking = append(blocking, depID)
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	sort.Strings(blocking)
	return &Conflict{
		Category: DependencyConflict,
		Severity: baseSeverity[DependencyConflict],
		UnitIDs:  blocking,
		Detail:   fmt.Sprintf("dependencies %v are not completed", blocking),
	}
}

// checkModuleOverlap looks for business modules shared with another
// active unit.
func checkModuleOverlap(u *unit.UnitOfWork, ctx taskctx.Context, snap Snapshot) *Conflict {
	offenders := make(map[string]struct{})
	modules := make(map[string]struct{})

	for _, entry := range snap.Active {
		if entry.Unit.ID == u.ID {
			continue
		}
		shared := ctx.SharesModule(entry.Ctx)
		if len(shared) == 0 {
			continue
		}
		offenders[entry.Unit.ID] = struct{}{}
		for _, m := range shared {
			modules[m] = struct{}{}
		}
	}
	if len(offenders) == 0 {
		return nil
	}

	return &Conflict{
		Category: ModuleOverlap,
		Severity: baseSeverity[ModuleOverlap],
		UnitIDs:  sortedSet(offenders),
		Modules:  sortedSet(modules),
		Detail:   fmt.Sprintf("modules %v shared with active units", sortedSet(modules)),
	}
}

// checkAgentCapacity flags an existing reservation for the unit's
// assigned agent type.
func checkAgentCapacity(u *unit.UnitOfWork, snap Snapshot) *Conflict {
	holder, busy := snap.ReservedAgents[u.AgentType]
	if !busy || holder == u.ID {
		return nil
	}
	return &Conflict{
		Category: AgentBusy,
		Severity: baseSeverity[AgentBusy],
		UnitIDs:  []string{holder},
		Detail:   fmt.Sprintf("agent type %q is reserved by unit %s", u.AgentType, holder),
	}
}

// ContextOf returns the active entry for the given unit ID, if present.
func (s Snapshot) ContextOf(unitID string) (taskctx.Context, bool) {
	for _, entry := range s.Active {
		if entry.Unit.ID == unitID {
			return entry.Ctx, true
		}
	}
	return taskctx.Context{}, false
}

// UnitOf returns the active unit with the given ID, if present.
func (s Snapshot) UnitOf(unitID string) (*unit.UnitOfWork, bool) {
	for _, entry := range s.Active {
		if entry.Unit.ID == unitID {
			return entry.Unit, true
		}
	}
	return nil, false
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
