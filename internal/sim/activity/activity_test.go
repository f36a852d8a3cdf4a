package activity_test

import (
	"errors"
	"testing"

	"townlife.ai/internal/sim/activity"
	"townlife.ai/internal/sim/catalogs"
)

type startCall struct {
	agent string
	x, y  int
}

// fakeMovement is a scriptable movement port: targets listed in reject are
// refused synchronously, everything else is accepted.
type fakeMovement struct {
	reject  map[[2]int]bool
	starts  []startCall
	cancels []string
}

func (m *fakeMovement) Start(agentID string, x, y int) bool {
	m.starts = append(m.starts, startCall{agent: agentID, x: x, y: y})
	return !m.reject[[2]int{x, y}]
}

func (m *fakeMovement) Cancel(agentID string) {
	m.cancels = append(m.cancels, agentID)
}

func testRegistry(t *testing.T) *catalogs.Registry {
	t.Helper()
	g := catalogs.NewRegistry()
	recs := []catalogs.LocationRecord{
		{ID: "blacksmith_shop", X: 100, Y: 100, Tags: []string{"forge", "crafting"}},
		{ID: "carpenter_shop", X: 10, Y: 10, Tags: []string{"crafting", "wood"}},
		{ID: "tavern", X: 50, Y: 50, Tags: []string{"food", "social"}},
	}
	for _, r := range recs {
		if err := g.Register(r); err != nil {
			t.Fatalf("register %s: %v", r.ID, err)
		}
	}
	return g
}

func testEnv(tick uint64, x, y int, g *catalogs.Registry, m *fakeMovement) activity.Env {
	return activity.Env{
		Tick:      tick,
		AgentX:    x,
		AgentY:    y,
		Locations: g,
		Movement:  m,
		Durations: activity.Durations{Short: 3, Medium: 5, Long: 10},

		RoutineExtent: 4,
		NamingRadius:  3,
	}
}

func craftingDef(name string, tags []string) *catalogs.ActivityDefinition {
	return &catalogs.ActivityDefinition{
		Name: name, Kind: catalogs.KindCrafting, Tags: tags,
		Animation: "work", Duration: catalogs.DurationShort,
		Priority: 5, Interruptible: true,
	}
}

func TestInstance_MovementRejected_FailsSameTick(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{reject: map[[2]int]bool{
		{100, 100}: true, {10, 10}: true, {50, 50}: true,
	}}
	in := activity.New("A000001", "ada", craftingDef("smithing", []string{"forge", "crafting"}), 5)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StateFailed {
		t.Fatalf("state = %s, want FAILED", in.State)
	}
	if in.Reason != activity.ReasonMovementFailed {
		t.Fatalf("reason = %s, want MOVEMENT_FAILED", in.Reason)
	}
}

func TestInstance_LocationNotFound(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	in := activity.New("A000001", "ada", craftingDef("stargazing", []string{"observatory", "telescope"}), 5)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StateFailed || in.Reason != activity.ReasonLocationNotFound {
		t.Fatalf("state = %s reason = %s, want FAILED/LOCATION_NOT_FOUND", in.State, in.Reason)
	}
	if len(m.starts) != 0 {
		t.Fatalf("movement started despite unresolved location")
	}
}

func TestInstance_FallsBackToNextRankedTarget(t *testing.T) {
	g := testRegistry(t)
	// Best match (blacksmith_shop) is unreachable; the next ranked
	// crafting location is tried instead.
	m := &fakeMovement{reject: map[[2]int]bool{{100, 100}: true}}
	in := activity.New("A000001", "ada", craftingDef("smithing", []string{"forge", "crafting"}), 5)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StateMovingToLocation {
		t.Fatalf("state = %s, want MOVING_TO_LOCATION", in.State)
	}
	if in.Location == nil || in.Location.ID != "carpenter_shop" {
		t.Fatalf("location = %v, want carpenter_shop", in.Location)
	}
	if len(m.starts) != 2 {
		t.Fatalf("starts = %d, want 2", len(m.starts))
	}
}

func TestInstance_PerformsThenCompletes(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	def := &catalogs.ActivityDefinition{
		Name: "eating", Kind: catalogs.KindStationary, Tags: []string{"food"},
		Animation: "eat", Duration: catalogs.DurationShort,
		Priority: 7, Interruptible: false, Description: "Having a meal",
	}
	in := activity.New("A000001", "ada", def, 7)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StateMovingToLocation {
		t.Fatalf("state = %s, want MOVING_TO_LOCATION", in.State)
	}
	if in.Label() != "Having a meal" {
		t.Fatalf("label = %q", in.Label())
	}

	// Arrives at the tavern on tick 5.
	in.OnArrival(testEnv(5, 50, 50, g, m))
	if in.State != activity.StatePerforming {
		t.Fatalf("state = %s, want PERFORMING", in.State)
	}
	if in.ArrivedAt != "tavern" {
		t.Fatalf("arrived at %q, want tavern", in.ArrivedAt)
	}

	if err := in.Update(testEnv(7, 50, 50, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StatePerforming {
		t.Fatalf("completed early at tick 7")
	}
	if err := in.Update(testEnv(8, 50, 50, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", in.State)
	}
}

func TestInstance_GotoCompletesOnArrival(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	def := &catalogs.ActivityDefinition{
		Name: "visit_tavern", Kind: catalogs.KindGotoLocation, Tags: []string{"food"},
		Animation: "walk", Duration: catalogs.DurationShort,
		Priority: 4, Interruptible: true,
	}
	in := activity.New("A000001", "ada", def, 4)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	in.OnArrival(testEnv(9, 50, 50, g, m))
	if in.State != activity.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED on arrival", in.State)
	}
}

func TestInstance_OpenDurationRunsUntilCanceled(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	def := &catalogs.ActivityDefinition{
		Name: "rest", Kind: catalogs.KindStationary, Tags: []string{"food"},
		Animation: "sit", Duration: catalogs.DurationOpen,
		Priority: 1, Interruptible: true,
	}
	in := activity.New("A000001", "ada", def, 1)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	in.OnArrival(testEnv(5, 50, 50, g, m))
	if err := in.Update(testEnv(100000, 50, 50, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StatePerforming {
		t.Fatalf("state = %s, open duration must not expire", in.State)
	}

	if err := in.Cancel(testEnv(100001, 50, 50, g, m)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if in.State != activity.StateCanceled {
		t.Fatalf("state = %s, want CANCELED", in.State)
	}
}

func routineDef(pattern catalogs.RoutinePattern, extent int) *catalogs.ActivityDefinition {
	return &catalogs.ActivityDefinition{
		Name: "wander", Kind: catalogs.KindRoutineMovement,
		Animation: "walk", Duration: catalogs.DurationOpen,
		Priority: 2, Interruptible: true,
		Pattern: pattern, Extent: extent,
	}
}

func TestInstance_RoutinePace_CyclesWaypoints(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	in := activity.New("A000001", "ada", routineDef(catalogs.PatternPace, 4), 2)

	if err := in.Update(testEnv(1, 10, 10, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	in.OnArrival(testEnv(3, 6, 10, g, m))
	in.OnArrival(testEnv(6, 14, 10, g, m))
	in.OnArrival(testEnv(9, 6, 10, g, m))

	want := []startCall{
		{"ada", 6, 10},
		{"ada", 14, 10},
		{"ada", 6, 10},
		{"ada", 14, 10},
	}
	if len(m.starts) != len(want) {
		t.Fatalf("starts = %d, want %d", len(m.starts), len(want))
	}
	for i, w := range want {
		if m.starts[i] != w {
			t.Fatalf("start[%d] = %v, want %v", i, m.starts[i], w)
		}
	}
	if in.State != activity.StateMovingToLocation {
		t.Fatalf("state = %s, routine must keep moving", in.State)
	}
}

func TestInstance_RoutinePatrol_WalksRectangle(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	in := activity.New("A000001", "ada", routineDef(catalogs.PatternPatrol, 2), 2)

	if err := in.Update(testEnv(1, 5, 5, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	in.OnArrival(testEnv(3, 3, 3, g, m))
	in.OnArrival(testEnv(5, 7, 3, g, m))
	in.OnArrival(testEnv(7, 7, 7, g, m))
	in.OnArrival(testEnv(9, 3, 7, g, m))

	want := []startCall{
		{"ada", 3, 3},
		{"ada", 7, 3},
		{"ada", 7, 7},
		{"ada", 3, 7},
		{"ada", 3, 3},
	}
	if len(m.starts) != len(want) {
		t.Fatalf("starts = %d, want %d", len(m.starts), len(want))
	}
	for i, w := range want {
		if m.starts[i] != w {
			t.Fatalf("start[%d] = %v, want %v", i, m.starts[i], w)
		}
	}
}

func TestInstance_RoutineDurationBound(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	def := routineDef(catalogs.PatternPace, 4)
	def.Duration = catalogs.DurationMedium // 5 ticks in the test env

	in := activity.New("A000001", "ada", def, 2)
	if err := in.Update(testEnv(10, 10, 10, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := in.Update(testEnv(14, 8, 10, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StateMovingToLocation {
		t.Fatalf("expired early")
	}
	if err := in.Update(testEnv(15, 7, 10, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if in.State != activity.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED after duration bound", in.State)
	}
	if len(m.cancels) != 1 || m.cancels[0] != "ada" {
		t.Fatalf("cancels = %v, want in-flight movement aborted", m.cancels)
	}
}

func TestInstance_Cancel_AbortsMovement(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	in := activity.New("A000001", "ada", craftingDef("smithing", []string{"forge"}), 5)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := in.Cancel(testEnv(2, 1, 1, g, m)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if in.State != activity.StateCanceled {
		t.Fatalf("state = %s, want CANCELED", in.State)
	}
	if len(m.cancels) != 1 {
		t.Fatalf("cancels = %v", m.cancels)
	}
	if err := in.Cancel(testEnv(3, 1, 1, g, m)); !errors.Is(err, activity.ErrInvalidTransition) {
		t.Fatalf("second cancel: err = %v, want ErrInvalidTransition", err)
	}
}

func TestInstance_OnBlocked_Fails(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	in := activity.New("A000001", "ada", craftingDef("smithing", []string{"forge"}), 5)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	in.OnBlocked(testEnv(4, 20, 20, g, m))
	if in.State != activity.StateFailed || in.Reason != activity.ReasonMovementFailed {
		t.Fatalf("state = %s reason = %s", in.State, in.Reason)
	}
}

func TestInstance_TerminalUpdateRejected(t *testing.T) {
	g := testRegistry(t)
	m := &fakeMovement{}
	in := activity.New("A000001", "ada", craftingDef("smithing", []string{"forge"}), 5)

	if err := in.Update(testEnv(1, 0, 0, g, m)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := in.ForceComplete(testEnv(2, 0, 0, g, m)); err != nil {
		t.Fatalf("force complete: %v", err)
	}
	if err := in.Update(testEnv(3, 0, 0, g, m)); !errors.Is(err, activity.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}
