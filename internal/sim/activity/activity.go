// Package activity holds the per-execution state machine that turns a
// resolved activity definition into located, timed behavior. Instances are
// owned by exactly one orchestrator and advanced synchronously inside the
// tick loop; nothing here is safe for concurrent use.
package activity

import (
	"errors"

	"townlife.ai/internal/sim/catalogs"
)

var ErrInvalidTransition = errors.New("invalid transition")

type State string

const (
	StatePending           State = "PENDING"
	StateResolvingLocation State = "RESOLVING_LOCATION"
	StateMovingToLocation  State = "MOVING_TO_LOCATION"
	StatePerforming        State = "PERFORMING"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
	StateCanceled          State = "CANCELED"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

type FailReason string

const (
	ReasonLocationNotFound FailReason = "LOCATION_NOT_FOUND"
	ReasonMovementFailed   FailReason = "MOVEMENT_FAILED"
)

// LocationResolver is the slice of the location registry an instance needs.
type LocationResolver interface {
	FindRanked(tags []string, originX, originY int, limit int) []*catalogs.LocationRecord
	ResolveName(x, y, radius int) (string, bool)
}

// movementCandidates bounds how many ranked locations an instance will try
// before reporting MovementFailed.
const movementCandidates = 3

// MovementPort issues non-blocking movement requests. Start answers
// synchronously whether the request was accepted; arrival and blocked
// reports come back on later ticks via OnArrival/OnBlocked.
type MovementPort interface {
	Start(agentID string, x, y int) bool
	Cancel(agentID string)
}

type Durations struct {
	Short  int
	Medium int
	Long   int
}

func (d Durations) Ticks(class catalogs.DurationClass) int {
	switch class {
	case catalogs.DurationShort:
		return d.Short
	case catalogs.DurationMedium:
		return d.Medium
	case catalogs.DurationLong:
		return d.Long
	default:
		return 0 // open
	}
}

// Env carries the per-tick collaborators into Update and the notification
// hooks. The orchestrator builds one per call; the instance never retains
// it.
type Env struct {
	Tick           uint64
	AgentX, AgentY int
	Locations      LocationResolver
	Movement       MovementPort
	Durations      Durations
	RoutineExtent  int
	NamingRadius   int
}

// Instance is one execution of an activity definition.
type Instance struct {
	ID      string
	AgentID string
	Def     *catalogs.ActivityDefinition

	State    State
	Reason   FailReason
	Location *catalogs.LocationRecord
	// ArrivedAt is the named location reported on arrival, when a
	// registered place is close enough to name.
	ArrivedAt string

	// Priority is the effective request priority (ad hoc requests may
	// carry a priority different from the definition's).
	Priority int

	// Scheduled marks instances started by the schedule source; the
	// orchestrator's supersede and dedupe rules key off these fields.
	Scheduled    bool
	ScheduleText string
	ScheduleAt   uint64

	StartedTick     uint64
	performingSince uint64
	durationTicks   int

	retriedTags bool

	waypoints [][2]int
	wpIndex   int
}

func New(id, agentID string, def *catalogs.ActivityDefinition, priority int) *Instance {
	return &Instance{
		ID:       id,
		AgentID:  agentID,
		Def:      def,
		State:    StatePending,
		Priority: priority,
	}
}

func (in *Instance) Terminal() bool { return in.State.Terminal() }

// Label is the text the external client displays for this instance.
func (in *Instance) Label() string {
	if in.Def.Description != "" {
		return in.Def.Description
	}
	return in.Def.Name
}

// Update advances the machine by one tick. Resolution failures and
// synchronous movement rejections are absorbed here as FAILED; they never
// escape to the tick loop.
func (in *Instance) Update(env Env) error {
	switch in.State {
	case StatePending:
		in.StartedTick = env.Tick
		if in.Def.Kind == catalogs.KindRoutineMovement {
			in.startRoutine(env)
			return nil
		}
		in.State = StateResolvingLocation
		in.resolveAndMove(env)
	case StateResolvingLocation:
		// Normally resolved on the first update; reached only if a caller
		// constructed the instance mid-resolution.
		in.resolveAndMove(env)
	case StateMovingToLocation:
		// Waiting on the movement port. A routine with a fixed duration
		// bound still expires while pacing.
		if in.Def.Kind == catalogs.KindRoutineMovement && in.durationTicks > 0 &&
			env.Tick-in.StartedTick >= uint64(in.durationTicks) {
			env.Movement.Cancel(in.AgentID)
			in.State = StateCompleted
		}
	case StatePerforming:
		if in.durationTicks > 0 && env.Tick-in.performingSince >= uint64(in.durationTicks) {
			in.State = StateCompleted
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}

func (in *Instance) resolveAndMove(env Env) {
	tags := in.Def.Tags
	cands := env.Locations.FindRanked(tags, env.AgentX, env.AgentY, movementCandidates)
	if len(cands) == 0 && len(tags) > 1 && !in.retriedTags {
		// Retry once with the least-specific (last) tag dropped.
		in.retriedTags = true
		cands = env.Locations.FindRanked(tags[:len(tags)-1], env.AgentX, env.AgentY, movementCandidates)
	}
	if len(cands) == 0 {
		in.fail(ReasonLocationNotFound)
		return
	}
	// Best match first; an unreachable target falls through to the next
	// ranked candidate.
	for _, loc := range cands {
		if env.Movement.Start(in.AgentID, loc.X, loc.Y) {
			in.Location = loc
			in.State = StateMovingToLocation
			return
		}
	}
	in.fail(ReasonMovementFailed)
}

func (in *Instance) startRoutine(env Env) {
	in.waypoints = routineWaypoints(in.Def, env)
	in.wpIndex = 0
	in.durationTicks = env.Durations.Ticks(in.Def.Duration)
	wp := in.waypoints[0]
	if !env.Movement.Start(in.AgentID, wp[0], wp[1]) {
		in.fail(ReasonMovementFailed)
		return
	}
	in.State = StateMovingToLocation
}

// routineWaypoints builds the cyclic ring around the agent's position at
// start time. Pace walks two points back and forth on X; patrol walks a
// rectangle.
func routineWaypoints(def *catalogs.ActivityDefinition, env Env) [][2]int {
	extent := def.Extent
	if extent <= 0 {
		extent = env.RoutineExtent
	}
	if extent <= 0 {
		extent = 1
	}
	x, y := env.AgentX, env.AgentY
	if def.Pattern == catalogs.PatternPatrol {
		return [][2]int{
			{x - extent, y - extent},
			{x + extent, y - extent},
			{x + extent, y + extent},
			{x - extent, y + extent},
		}
	}
	return [][2]int{{x - extent, y}, {x + extent, y}}
}

// OnArrival is the movement port's arrival notification, delivered on the
// tick the agent reaches its target.
func (in *Instance) OnArrival(env Env) {
	if in.State != StateMovingToLocation {
		return
	}
	if in.Def.Kind == catalogs.KindRoutineMovement {
		// Next leg of the ring; the routine never self-terminates here.
		in.wpIndex = (in.wpIndex + 1) % len(in.waypoints)
		wp := in.waypoints[in.wpIndex]
		if !env.Movement.Start(in.AgentID, wp[0], wp[1]) {
			in.fail(ReasonMovementFailed)
		}
		return
	}
	if id, ok := env.Locations.ResolveName(env.AgentX, env.AgentY, env.NamingRadius); ok {
		in.ArrivedAt = id
	}
	if in.Def.Kind == catalogs.KindGotoLocation {
		// Travel only.
		in.State = StateCompleted
		return
	}
	in.State = StatePerforming
	in.performingSince = env.Tick
	in.durationTicks = env.Durations.Ticks(in.Def.Duration)
}

// OnBlocked is the movement port's no-viable-reroute report.
func (in *Instance) OnBlocked(env Env) {
	if in.State != StateMovingToLocation {
		return
	}
	in.fail(ReasonMovementFailed)
}

// Cancel force-transitions any non-terminal state to CANCELED and aborts
// in-flight movement. Takes effect on the tick it is issued.
func (in *Instance) Cancel(env Env) error {
	if in.Terminal() {
		return ErrInvalidTransition
	}
	if in.State == StateMovingToLocation {
		env.Movement.Cancel(in.AgentID)
	}
	in.State = StateCanceled
	return nil
}

// ForceComplete marks the instance COMPLETED (not canceled) regardless of
// remaining duration.
func (in *Instance) ForceComplete(env Env) error {
	if in.Terminal() {
		return ErrInvalidTransition
	}
	if in.State == StateMovingToLocation {
		env.Movement.Cancel(in.AgentID)
	}
	in.State = StateCompleted
	return nil
}

func (in *Instance) fail(reason FailReason) {
	in.State = StateFailed
	in.Reason = reason
}
