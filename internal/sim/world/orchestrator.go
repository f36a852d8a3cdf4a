package world

import (
	"fmt"

	"go.uber.org/zap"

	"townlife.ai/internal/sim/activity"
	"townlife.ai/internal/sim/catalogs"
)

type RequestResult string

const (
	ResultStarted  RequestResult = "STARTED"
	ResultQueued   RequestResult = "QUEUED"
	ResultRejected RequestResult = "REJECTED"
)

// OrchestratorDeps are the shared, read-only collaborators injected at
// construction time; orchestrators never reach for globals.
type OrchestratorDeps struct {
	Catalog       *catalogs.Catalog
	Locations     activity.LocationResolver
	Movement      activity.MovementPort
	Durations     activity.Durations
	RoutineExtent int
	NamingRadius  int
	QueueMax      int
	NewInstanceID func() string
	Log           *zap.Logger
}

type pendingRequest struct {
	def      *catalogs.ActivityDefinition
	priority int
	seq      uint64

	scheduled bool
	rawText   string
	when      uint64
}

// HistoryRecord is the terminal outcome of one activity instance, drained
// per tick for the tick log and the sqlite index.
type HistoryRecord struct {
	AgentID    string `json:"agent_id"`
	InstanceID string `json:"instance_id"`
	Activity   string `json:"activity"`
	FinalState string `json:"final_state"`
	Reason     string `json:"reason,omitempty"`
	Scheduled  bool   `json:"scheduled,omitempty"`
	StartedAt  uint64 `json:"started_at"`
	EndedAt    uint64 `json:"ended_at"`
}

// Orchestrator owns at most one active activity instance for one agent and
// applies the priority/interruption policy. Two separate rules govern
// replacement: ad hoc requests preempt only strictly-higher-priority onto
// an interruptible activity, while a new scheduled entry always supersedes
// the previous scheduled activity.
type Orchestrator struct {
	agent *Agent
	deps  OrchestratorDeps

	active        *activity.Instance
	queue         []pendingRequest
	seq           uint64
	lastCompleted string

	terminal []HistoryRecord
}

func NewOrchestrator(agent *Agent, deps OrchestratorDeps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Orchestrator{agent: agent, deps: deps}
}

func (o *Orchestrator) Active() *activity.Instance { return o.active }
func (o *Orchestrator) QueueLen() int              { return len(o.queue) }
func (o *Orchestrator) LastCompleted() string      { return o.lastCompleted }

// CurrentLabel is the read-only projection the client polls each frame.
// Idle and failed agents both read as empty.
func (o *Orchestrator) CurrentLabel() string {
	if o.active == nil || o.active.Terminal() {
		return ""
	}
	return o.active.Label()
}

func (o *Orchestrator) CurrentState() string {
	if o.active == nil || o.active.Terminal() {
		return ""
	}
	return string(o.active.State)
}

func (o *Orchestrator) env(tick uint64) activity.Env {
	return activity.Env{
		Tick:          tick,
		AgentX:        o.agent.X,
		AgentY:        o.agent.Y,
		Locations:     o.deps.Locations,
		Movement:      o.deps.Movement,
		Durations:     o.deps.Durations,
		RoutineExtent: o.deps.RoutineExtent,
		NamingRadius:  o.deps.NamingRadius,
	}
}

// RequestActivity handles an ad hoc request: start if idle, preempt only a
// strictly lower-priority interruptible activity, otherwise queue.
func (o *Orchestrator) RequestActivity(query string, priority int, tick uint64) (RequestResult, error) {
	def, err := o.deps.Catalog.Resolve(query)
	if err != nil {
		return ResultRejected, fmt.Errorf("agent %s: %w", o.agent.ID, err)
	}
	if o.active == nil || o.active.Terminal() {
		o.start(def, priority, tick, false, "", 0)
		return ResultStarted, nil
	}
	if priority > o.active.Priority && o.active.Def.Interruptible {
		o.preempt(tick)
		o.start(def, priority, tick, false, "", 0)
		return ResultStarted, nil
	}
	return o.enqueue(pendingRequest{def: def, priority: priority}), nil
}

// HandleScheduledActivity is the schedule source's entry point. Redelivery
// of the identical (text, when) pair while the instance it started is
// still live is a no-op. A new entry supersedes the previous scheduled
// activity even if that activity is non-interruptible; against an ad hoc
// activity it behaves like a priority-neutral-or-better request.
func (o *Orchestrator) HandleScheduledActivity(rawText string, when uint64, tick uint64) error {
	if o.active != nil && !o.active.Terminal() && o.active.Scheduled &&
		o.active.ScheduleText == rawText && o.active.ScheduleAt == when {
		return nil
	}
	def, err := o.deps.Catalog.Resolve(rawText)
	if err != nil {
		// Authoring problem, not a simulation fault: surface and stay idle.
		o.deps.Log.Warn("scheduled activity unresolved",
			zap.String("agent", o.agent.ID),
			zap.String("text", rawText),
			zap.Uint64("when", when))
		return fmt.Errorf("agent %s: %w", o.agent.ID, err)
	}
	if o.active != nil && !o.active.Terminal() {
		if o.active.Scheduled {
			// Schedule always wins over the previous scheduled activity:
			// time has moved on.
			o.preempt(tick)
		} else if o.active.Def.Interruptible && def.Priority >= o.active.Priority {
			o.preempt(tick)
		} else {
			o.enqueueScheduled(def, rawText, when)
			return nil
		}
	}
	o.start(def, def.Priority, tick, true, rawText, when)
	return nil
}

// CompleteCurrent force-completes (not cancels) the active instance and
// promotes the next eligible pending request.
func (o *Orchestrator) CompleteCurrent(tick uint64) error {
	if o.active == nil || o.active.Terminal() {
		return activity.ErrInvalidTransition
	}
	if err := o.active.ForceComplete(o.env(tick)); err != nil {
		return err
	}
	o.finalize(tick)
	o.promote(tick)
	return nil
}

// Update advances the agent by one tick. Terminal instances left over from
// the previous tick are cleared first, so a failure is observed exactly one
// update after it happened.
func (o *Orchestrator) Update(tick uint64) {
	if o.active != nil && o.active.Terminal() {
		o.finalize(tick)
	}
	if o.active == nil {
		// The promoted instance is stepped by start() on this same tick.
		o.promote(tick)
		return
	}
	_ = o.active.Update(o.env(tick))
}

// onArrival/onBlocked forward movement-port notifications into the active
// instance on the tick they occur.
func (o *Orchestrator) onArrival(tick uint64) {
	if o.active != nil && !o.active.Terminal() {
		o.active.OnArrival(o.env(tick))
	}
}

func (o *Orchestrator) onBlocked(tick uint64) {
	if o.active != nil && !o.active.Terminal() {
		o.active.OnBlocked(o.env(tick))
	}
}

func (o *Orchestrator) start(def *catalogs.ActivityDefinition, priority int, tick uint64, scheduled bool, rawText string, when uint64) {
	in := activity.New(o.deps.NewInstanceID(), o.agent.ID, def, priority)
	in.Scheduled = scheduled
	in.ScheduleText = rawText
	in.ScheduleAt = when
	o.active = in
	// First step happens on the same tick so synchronous failures (no
	// path, no location) surface immediately.
	_ = in.Update(o.env(tick))
}

func (o *Orchestrator) preempt(tick uint64) {
	_ = o.active.Cancel(o.env(tick))
	o.finalize(tick)
}

func (o *Orchestrator) finalize(tick uint64) {
	in := o.active
	o.active = nil
	if in == nil {
		return
	}
	rec := HistoryRecord{
		AgentID:    in.AgentID,
		InstanceID: in.ID,
		Activity:   in.Def.Name,
		FinalState: string(in.State),
		Reason:     string(in.Reason),
		Scheduled:  in.Scheduled,
		StartedAt:  in.StartedTick,
		EndedAt:    tick,
	}
	o.terminal = append(o.terminal, rec)
	switch in.State {
	case activity.StateCompleted:
		o.lastCompleted = in.Def.Name
	case activity.StateFailed:
		o.deps.Log.Info("activity failed",
			zap.String("agent", in.AgentID),
			zap.String("activity", in.Def.Name),
			zap.String("reason", string(in.Reason)))
		if in.Reason == activity.ReasonLocationNotFound {
			// Pending requests for the same activity would fail the same
			// resolution; drop them rather than thrash.
			o.dropQueued(in.Def.Name)
		}
	}
}

// DrainTerminal hands the tick loop every instance that reached a terminal
// state since the last drain.
func (o *Orchestrator) DrainTerminal() []HistoryRecord {
	out := o.terminal
	o.terminal = nil
	return out
}

func (o *Orchestrator) enqueue(req pendingRequest) RequestResult {
	if len(o.queue) >= o.deps.QueueMax {
		victim := o.lowestOldest()
		if victim < 0 || o.queue[victim].priority >= req.priority {
			return ResultRejected
		}
		o.queue = append(o.queue[:victim], o.queue[victim+1:]...)
	}
	o.seq++
	req.seq = o.seq
	o.queue = append(o.queue, req)
	return ResultQueued
}

// enqueueScheduled parks a schedule entry that could not start (blocked by
// a non-interruptible ad hoc activity). Only the newest scheduled entry
// ever waits: a schedule change obsoletes whatever was parked before.
func (o *Orchestrator) enqueueScheduled(def *catalogs.ActivityDefinition, rawText string, when uint64) {
	kept := o.queue[:0]
	for _, p := range o.queue {
		if !p.scheduled {
			kept = append(kept, p)
		}
	}
	o.queue = kept
	o.enqueue(pendingRequest{def: def, priority: def.Priority, scheduled: true, rawText: rawText, when: when})
}

func (o *Orchestrator) dropQueued(name string) {
	kept := o.queue[:0]
	for _, p := range o.queue {
		if p.def.Name != name {
			kept = append(kept, p)
		}
	}
	o.queue = kept
}

func (o *Orchestrator) lowestOldest() int {
	idx := -1
	for i, p := range o.queue {
		if idx < 0 || p.priority < o.queue[idx].priority ||
			(p.priority == o.queue[idx].priority && p.seq < o.queue[idx].seq) {
			idx = i
		}
	}
	return idx
}

// promote starts the highest-priority pending request; insertion order
// breaks ties.
func (o *Orchestrator) promote(tick uint64) {
	if len(o.queue) == 0 {
		return
	}
	best := 0
	for i, p := range o.queue {
		if p.priority > o.queue[best].priority ||
			(p.priority == o.queue[best].priority && p.seq < o.queue[best].seq) {
			best = i
		}
	}
	req := o.queue[best]
	o.queue = append(o.queue[:best], o.queue[best+1:]...)
	o.start(req.def, req.priority, tick, req.scheduled, req.rawText, req.when)
}
