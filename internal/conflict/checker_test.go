package conflict

import (
	"testing"

	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

func newUnit(t *testing.T, id, agentType string, files ...string) *unit.UnitOfWork {
	t.Helper()
	u := unit.New(id, "unit "+id, "")
	u.AgentType = agentType
	u.Files = files
	return u
}

func ctxFor(u *unit.UnitOfWork, modules ...string) taskctx.Context {
	return taskctx.Context{
		UnitID:  u.ID,
		Files:   append([]string(nil), u.Files...),
		Modules: modules,
	}
}

func snapshotWith(entries ...ActiveEntry) Snapshot {
	snap := Snapshot{
		Repo:           "acme/widgets",
		FileUsage:      make(map[string][]string),
		ReservedAgents: make(map[string]string),
		Statuses:       make(map[string]unit.Status),
	}
	for _, e := range entries {
		snap.Active = append(snap.Active, e)
		for _, f := range e.Ctx.Files {
			snap.FileUsage[f] = append(snap.FileUsage[f], e.Unit.ID)
		}
		snap.ReservedAgents[e.Unit.AgentType] = e.Unit.ID
		snap.Statuses[e.Unit.ID] = e.Unit.Status
	}
	return snap
}

func TestCheckCompatibleOnEmptyRepository(t *testing.T) {
	u := newUnit(t, "u-1", "senior-developer", "src/api/users.go")
	res := Check(u, ctxFor(u, "api-layer"), snapshotWith())

	if !res.Compatible {
		t.Fatalf("expected compatible on empty repository, got %q", res.Reason)
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("expected no conflicts, got %d", len(res.Conflicts))
	}
}

func TestCheckFileOverlap(t *testing.T) {
	active := newUnit(t, "u-active", "senior-developer", "src/auth/login.go")
	snap := snapshotWith(ActiveEntry{Unit: active, Ctx: ctxFor(active, "user-service")})

	u := newUnit(t, "u-new", "test-engineer", "src/auth/login.go", "src/auth/logout.go")
	res := Check(u, ctxFor(u, "user-service"), snap)

	if res.Compatible {
		t.Fatal("expected file overlap to be incompatible")
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("expected exactly one conflict, got %d", len(res.Conflicts))
	}
	c := res.Conflicts[0]
	if c.Category != FileOverlap {
		t.Errorf("category = %s, want file_overlap", c.Category)
	}
	if c.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", c.Severity)
	}
	if len(c.UnitIDs) != 1 || c.UnitIDs[0] != "u-active" {
		t.Errorf("offending units = %v, want [u-active]", c.UnitIDs)
	}
	if len(c.Files) != 1 || c.Files[0] != "src/auth/login.go" {
		t.Errorf("overlapping files = %v, want [src/auth/login.go]", c.Files)
	}
}

// Two units that overlap on a file must each report the other as the
// offender, regardless of check order.
func TestCheckFileOverlapIsSymmetric(t *testing.T) {
	a := newUnit(t, "u-a", "senior-developer", "src/models/user.go")
	b := newUnit(t, "u-b", "test-engineer", "src/models/user.go")

	resA := Check(a, ctxFor(a), snapshotWith(ActiveEntry{Unit: b, Ctx: ctxFor(b)}))
	resB := Check(b, ctxFor(b), snapshotWith(ActiveEntry{Unit: a, Ctx: ctxFor(a)}))

	for name, res := range map[string]Result{"a vs b": resA, "b vs a": resB} {
		if res.Compatible {
			t.Fatalf("%s: expected incompatible", name)
		}
		if res.Conflicts[0].Category != FileOverlap {
			t.Errorf("%s: category = %s, want file_overlap", name, res.Conflicts[0].Category)
		}
	}
	if resA.Conflicts[0].UnitIDs[0] != "u-b" {
		t.Errorf("a's offender = %v, want u-b", resA.Conflicts[0].UnitIDs)
	}
	if resB.Conflicts[0].UnitIDs[0] != "u-a" {
		t.Errorf("b's offender = %v, want u-a", resB.Conflicts[0].UnitIDs)
	}
}

func TestCheckFileOverlapEscalatesWithMultipleOffenders(t *testing.T) {
	a := newUnit(t, "u-a", "senior-developer", "src/api/router.go")
	b := newUnit(t, "u-b", "test-engineer", "src/api/router.go")
	snap := snapshotWith(
		ActiveEntry{Unit: a, Ctx: ctxFor(a)},
		ActiveEntry{Unit: b, Ctx: ctxFor(b)},
	)

	u := newUnit(t, "u-new", "architect", "src/api/router.go")
	res := Check(u, ctxFor(u), snap)

	if res.Compatible {
		t.Fatal("expected incompatible")
	}
	if got := res.Conflicts[0].Severity; got != SeverityCritical {
		t.Errorf("severity = %s, want critical", got)
	}
	if got := res.Conflicts[0].UnitIDs; len(got) != 2 || got[0] != "u-a" || got[1] != "u-b" {
		t.Errorf("offenders = %v, want [u-a u-b]", got)
	}
}

func TestCheckDependencyConflict(t *testing.T) {
	tests := []struct {
		name       string
		depStatus  unit.Status
		known      bool
		compatible bool
	}{
		{"dependency pending", unit.StatusPending, true, false},
		{"dependency in progress", unit.StatusInProgress, true, false},
		{"dependency failed", unit.StatusFailed, true, false},
		{"dependency completed", unit.StatusCompleted, true, true},
		{"dependency unknown", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := snapshotWith()
			if tt.known {
				snap.Statuses["u-dep"] = tt.depStatus
			}

			u := newUnit(t, "u-new", "senior-developer")
			u.DependsOn = []string{"u-dep"}
			res := Check(u, ctxFor(u), snap)

			if res.Compatible != tt.compatible {
				t.Fatalf("compatible = %v, want %v (reason %q)", res.Compatible, tt.compatible, res.Reason)
			}
			if !tt.compatible {
				c := res.Conflicts[0]
				if c.Category != DependencyConflict {
					t.Errorf("category = %s, want dependency_conflict", c.Category)
				}
				if len(c.UnitIDs) != 1 || c.UnitIDs[0] != "u-dep" {
					t.Errorf("blocking units = %v, want [u-dep]", c.UnitIDs)
				}
			}
		})
	}
}

func TestCheckModuleOverlap(t *testing.T) {
	active := newUnit(t, "u-active", "senior-developer", "src/billing/invoice.go")
	snap := snapshotWith(ActiveEntry{Unit: active, Ctx: ctxFor(active, "billing-service")})

	// Different files, same business module.
	u := newUnit(t, "u-new", "test-engineer", "src/billing/subscription.go")
	res := Check(u, ctxFor(u, "billing-service"), snap)

	if res.Compatible {
		t.Fatal("expected module overlap to be incompatible")
	}
	c := res.Conflicts[0]
	if c.Category != ModuleOverlap {
		t.Errorf("category = %s, want module_overlap", c.Category)
	}
	if c.Severity != SeverityMedium {
		t.Errorf("severity = %s, want medium", c.Severity)
	}
	if len(c.Modules) != 1 || c.Modules[0] != "billing-service" {
		t.Errorf("modules = %v, want [billing-service]", c.Modules)
	}
}

func TestCheckAgentBusy(t *testing.T) {
	active := newUnit(t, "u-active", "senior-developer", "src/api/a.go")
	snap := snapshotWith(ActiveEntry{Unit: active, Ctx: ctxFor(active, "api-layer")})

	// No shared files or modules; only the agent type collides.
	u := newUnit(t, "u-new", "senior-developer", "src/components/b.go")
	res := Check(u, ctxFor(u, "ui-layer"), snap)

	if res.Compatible {
		t.Fatal("expected agent_busy to be incompatible")
	}
	c := res.Conflicts[0]
	if c.Category != AgentBusy {
		t.Errorf("category = %s, want agent_busy", c.Category)
	}
	if c.Severity != SeverityLow {
		t.Errorf("severity = %s, want low", c.Severity)
	}
	if len(c.UnitIDs) != 1 || c.UnitIDs[0] != "u-active" {
		t.Errorf("holder = %v, want [u-active]", c.UnitIDs)
	}
}

// File overlap takes precedence: when both the files and the agent type
// collide, only file_overlap is reported.
func TestCheckPrecedenceFileOverAgent(t *testing.T) {
	active := newUnit(t, "u-active", "senior-developer", "src/auth/login.go")
	snap := snapshotWith(ActiveEntry{Unit: active, Ctx: ctxFor(active, "user-service")})

	u := newUnit(t, "u-new", "senior-developer", "src/auth/login.go")
	res := Check(u, ctxFor(u, "user-service"), snap)

	if res.Compatible {
		t.Fatal("expected incompatible")
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("expected single conflict, got %d", len(res.Conflicts))
	}
	if res.Conflicts[0].Category != FileOverlap {
		t.Errorf("category = %s, want file_overlap", res.Conflicts[0].Category)
	}
}

func TestCheckIgnoresOwnEntries(t *testing.T) {
	// A unit re-checked while already active must not conflict with itself.
	u := newUnit(t, "u-self", "senior-developer", "src/api/users.go")
	snap := snapshotWith(ActiveEntry{Unit: u, Ctx: ctxFor(u, "api-layer")})

	res := Check(u, ctxFor(u, "api-layer"), snap)
	if !res.Compatible {
		t.Fatalf("unit conflicted with itself: %q", res.Reason)
	}
}

func TestSnapshotLookups(t *testing.T) {
	a := newUnit(t, "u-a", "senior-developer", "src/api/a.go")
	snap := snapshotWith(ActiveEntry{Unit: a, Ctx: ctxFor(a, "api-layer")})

	if got, ok := snap.UnitOf("u-a"); !ok || got.ID != "u-a" {
		t.Errorf("UnitOf(u-a) = %v, %v", got, ok)
	}
	if _, ok := snap.UnitOf("u-missing"); ok {
		t.Error("UnitOf(u-missing) should not be found")
	}
	if got, ok := snap.ContextOf("u-a"); !ok || got.UnitID != "u-a" {
		t.Errorf("ContextOf(u-a) = %v, %v", got, ok)
	}
}

func TestCategoryString(t *testing.T) {
	tests := []struct {
		cat  Category
		want string
	}{
		{FileOverlap, "file_overlap"},
		{DependencyConflict, "dependency_conflict"},
		{ModuleOverlap, "module_overlap"},
		{AgentBusy, "agent_busy"},
		{ConceptualConflict, "conceptual_conflict"},
		{Category(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.cat.String(); got != tt.want {
			t.Errorf("Category(%d).String() = %q, want %q", int(tt.cat), got, tt.want)
		}
	}
}

func TestSeverityEscalate(t *testing.T) {
	if got := SeverityLow.Escalate(SeverityHigh); got != SeverityHigh {
		t.Errorf("low.Escalate(high) = %s, want high", got)
	}
	if got := SeverityCritical.Escalate(SeverityMedium); got != SeverityCritical {
		t.Errorf("critical.Escalate(medium) = %s, want critical", got)
	}
}
