package plan

import (
	"testing"

	"github.com/forgecrew/wrangler/internal/errors"
	"github.com/forgecrew/wrangler/internal/unit"
)

func newUnit(t *testing.T, id string, deps ...string) *unit.UnitOfWork {
	t.Helper()
	u := unit.New(id, "unit "+id, "")
	u.DependsOn = deps
	return u
}

func indexOf(t *testing.T, plan *ExecutionPlan, id string) int {
	t.Helper()
	for i, u := range plan.Order {
		if u.ID == id {
			return i
		}
	}
	t.Fatalf("unit %s not found in plan order %v", id, plan.UnitIDs())
	return -1
}

func TestValidateAndOrderRespectsDependencies(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-api", "u-models"),
		newUnit(t, "u-models"),
		newUnit(t, "u-ui", "u-api"),
		newUnit(t, "u-docs", "u-api", "u-ui"),
	}

	plan, err := NewPlanner(0).ValidateAndOrder(units)
	if err != nil {
		t.Fatalf("ValidateAndOrder: %v", err)
	}
	if len(plan.Order) != len(units) {
		t.Fatalf("plan order has %d units, want %d", len(plan.Order), len(units))
	}

	// Every unit must appear after all of its dependencies.
	for _, u := range units {
		for _, depID := range u.DependsOn {
			if indexOf(t, plan, depID) > indexOf(t, plan, u.ID) {
				t.Errorf("unit %s ordered before its dependency %s: %v", u.ID, depID, plan.UnitIDs())
			}
		}
	}
}

func TestValidateAndOrderDeterministic(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-c"),
		newUnit(t, "u-a"),
		newUnit(t, "u-b"),
	}

	first, err := NewPlanner(0).ValidateAndOrder(units)
	if err != nil {
		t.Fatalf("ValidateAndOrder: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := NewPlanner(0).ValidateAndOrder(units)
		if err != nil {
			t.Fatalf("ValidateAndOrder: %v", err)
		}
		for j := range first.Order {
			if first.Order[j].ID != again.Order[j].ID {
				t.Fatalf("plan order not deterministic: %v vs %v", first.UnitIDs(), again.UnitIDs())
			}
		}
	}

	// Independent units keep batch submission order.
	want := []string{"u-c", "u-a", "u-b"}
	for i, id := range want {
		if first.Order[i].ID != id {
			t.Errorf("order[%d] = %s, want %s", i, first.Order[i].ID, id)
		}
	}
}

func TestValidateAndOrderReportsCycle(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-a", "u-c"),
		newUnit(t, "u-b", "u-a"),
		newUnit(t, "u-c", "u-b"),
		newUnit(t, "u-free"),
	}

	plan, err := NewPlanner(0).ValidateAndOrder(units)
	if err == nil {
		t.Fatalf("expected cycle error, got plan %v", plan.UnitIDs())
	}
	if plan != nil {
		t.Error("cycle must never yield a partial plan")
	}

	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if !errors.Is(err, errors.ErrDependencyCycle) {
		t.Error("cycle error should match ErrDependencyCycle")
	}
	want := []string{"u-a", "u-b", "u-c"}
	if len(ce.UnitIDs) != len(want) {
		t.Fatalf("blocked units = %v, want %v", ce.UnitIDs, want)
	}
	for i, id := range want {
		if ce.UnitIDs[i] != id {
			t.Errorf("blocked units = %v, want %v", ce.UnitIDs, want)
			break
		}
	}
}

func TestValidateAndOrderEmptyBatch(t *testing.T) {
	_, err := NewPlanner(0).ValidateAndOrder(nil)
	if !errors.Is(err, errors.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestValidateAndOrderUnknownDependency(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-a", "u-missing"),
	}
	_, err := NewPlanner(0).ValidateAndOrder(units)
	if !errors.Is(err, errors.ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
	var pe *errors.PlanError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PlanError, got %T", err)
	}
}

func TestValidateAndOrderDuplicateID(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-a"),
		newUnit(t, "u-a"),
	}
	if _, err := NewPlanner(0).ValidateAndOrder(units); !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGroupingSeparatesIndependentUnits(t *testing.T) {
	// No declared dependencies: all three may share one group.
	units := []*unit.UnitOfWork{
		newUnit(t, "u-1"),
		newUnit(t, "u-2"),
		newUnit(t, "u-3"),
	}

	plan, err := NewPlanner(3).ValidateAndOrder(units)
	if err != nil {
		t.Fatalf("ValidateAndOrder: %v", err)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("expected 1 group for independent units, got %d", len(plan.Groups))
	}
	if len(plan.Groups[0]) != 3 {
		t.Errorf("group size = %d, want 3", len(plan.Groups[0]))
	}
}

func TestGroupingSplitsOnDependency(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-1"),
		newUnit(t, "u-2", "u-1"),
		newUnit(t, "u-3"),
	}

	plan, err := NewPlanner(3).ValidateAndOrder(units)
	if err != nil {
		t.Fatalf("ValidateAndOrder: %v", err)
	}

	// u-2 depends on u-1, so it must not share u-1's group; u-3 is
	// independent and may run alongside u-1.
	groupOf := make(map[string]int)
	for gi, g := range plan.Groups {
		for _, u := range g {
			groupOf[u.ID] = gi
		}
	}
	if groupOf["u-2"] == groupOf["u-1"] {
		t.Errorf("u-2 grouped with its dependency u-1: %v", plan.Groups)
	}
	if groupOf["u-3"] != groupOf["u-1"] {
		t.Errorf("independent u-3 should share u-1's group: got group %d vs %d", groupOf["u-3"], groupOf["u-1"])
	}
}

func TestGroupingPacksIndependentUnitsForward(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-1"),
		newUnit(t, "u-2", "u-1"),
		newUnit(t, "u-3"),
		newUnit(t, "u-4"),
	}

	plan, err := NewPlanner(2).ValidateAndOrder(units)
	if err != nil {
		t.Fatalf("ValidateAndOrder: %v", err)
	}

	groupOf := make(map[string]int)
	for gi, g := range plan.Groups {
		for _, u := range g {
			groupOf[u.ID] = gi
		}
	}
	// u-3 is independent and joins u-1's group; u-4 overflows the cap into
	// its own group; u-2 must run after its dependency's group.
	if groupOf["u-3"] != groupOf["u-1"] {
		t.Errorf("u-3 in group %d, want u-1's group %d", groupOf["u-3"], groupOf["u-1"])
	}
	if groupOf["u-4"] == groupOf["u-1"] {
		t.Errorf("u-4 shares u-1's group despite the size cap: %v", plan.Groups)
	}
	if groupOf["u-2"] <= groupOf["u-1"] {
		t.Errorf("u-2 in group %d, want later than u-1's group %d", groupOf["u-2"], groupOf["u-1"])
	}
}

func TestGroupingRespectsMaxSize(t *testing.T) {
	units := []*unit.UnitOfWork{
		newUnit(t, "u-1"),
		newUnit(t, "u-2"),
		newUnit(t, "u-3"),
		newUnit(t, "u-4"),
		newUnit(t, "u-5"),
	}

	plan, err := NewPlanner(2).ValidateAndOrder(units)
	if err != nil {
		t.Fatalf("ValidateAndOrder: %v", err)
	}
	for gi, g := range plan.Groups {
		if len(g) > 2 {
			t.Errorf("group %d has %d units, cap is 2", gi, len(g))
		}
	}
	total := 0
	for _, g := range plan.Groups {
		total += len(g)
	}
	if total != len(units) {
		t.Errorf("groups cover %d units, want %d", total, len(units))
	}
}

func TestDetectCycle(t *testing.T) {
	acyclic := []*unit.UnitOfWork{
		newUnit(t, "u-a"),
		newUnit(t, "u-b", "u-a"),
	}
	if ce := DetectCycle(acyclic); ce != nil {
		t.Errorf("DetectCycle on acyclic batch = %v, want nil", ce)
	}

	cyclic := []*unit.UnitOfWork{
		newUnit(t, "u-a", "u-b"),
		newUnit(t, "u-b", "u-a"),
	}
	ce := DetectCycle(cyclic)
	if ce == nil {
		t.Fatal("DetectCycle missed a two-unit cycle")
	}
	if len(ce.UnitIDs) != 2 {
		t.Errorf("blocked units = %v, want both cycle members", ce.UnitIDs)
	}
}
