package world

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"townlife.ai/internal/protocol"
	"townlife.ai/internal/sim/activity"
	"townlife.ai/internal/sim/catalogs"
	"townlife.ai/internal/sim/schedule"
	"townlife.ai/internal/sim/tuning"
)

type Config struct {
	ID     string
	Tune   tuning.Tuning
	Layout Layout
}

// RequestEnvelope is an ad hoc activity request routed in from outside the
// tick loop (admin endpoint, reactive behaviors, tests).
type RequestEnvelope struct {
	AgentID  string
	Query    string
	Priority int
	Resp     chan RequestOutcome
}

type RequestOutcome struct {
	Result RequestResult
	Err    string
}

type ObserverJoin struct {
	ID  string
	Out chan []byte
}

// TickSink receives one entry per tick (the compressed tick log).
type TickSink interface {
	WriteTick(TickLogEntry) error
}

// HistorySink receives terminal activity records (the sqlite index).
// Best effort; it must never influence simulation state.
type HistorySink interface {
	InsertTerminal(HistoryRecord)
}

type TickLogEntry struct {
	Tick     uint64            `json:"tick"`
	Fired    []FiredSchedule   `json:"fired,omitempty"`
	Requests []RecordedRequest `json:"requests,omitempty"`
	Terminal []HistoryRecord   `json:"terminal,omitempty"`
	Digest   string            `json:"digest"`
}

type FiredSchedule struct {
	AgentID string `json:"agent_id"`
	Text    string `json:"text"`
	At      uint64 `json:"at"`
}

type RecordedRequest struct {
	AgentID  string `json:"agent_id"`
	Query    string `json:"query"`
	Priority int    `json:"priority"`
	Result   string `json:"result"`
	Err      string `json:"err,omitempty"`
}

type Metrics struct {
	Tick       uint64  `json:"tick"`
	Agents     int     `json:"agents"`
	Observers  int     `json:"observers"`
	StepMS     float64 `json:"step_ms"`
	Idle       int     `json:"idle"`
	Moving     int     `json:"moving"`
	Performing int     `json:"performing"`
}

// Town runs one shared simulated world: a roster of agents, their
// orchestrators, and the movement grid, advanced by a single goroutine.
// External callers talk to it only through channels; all mutation happens
// inside the tick.
type Town struct {
	cfg  Config
	cats *catalogs.Catalogs
	book *schedule.Book
	log  *zap.Logger

	agents map[string]*Agent
	order  []string // registration order; the per-tick update order

	blocked map[[2]int]bool

	observers map[string]chan []byte

	tick         atomic.Uint64
	nextInstance atomic.Uint64
	lastDigest   string

	inbox    chan RequestEnvelope
	obsJoin  chan ObserverJoin
	obsLeave chan string
	stop     chan struct{}

	tickLogger TickSink
	history    HistorySink

	metrics atomic.Value // Metrics
}

func New(cfg Config, cats *catalogs.Catalogs, book *schedule.Book, logger *zap.Logger) (*Town, error) {
	if cats == nil {
		return nil, fmt.Errorf("town: nil catalogs")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Town{
		cfg:       cfg,
		cats:      cats,
		book:      book,
		log:       logger,
		agents:    map[string]*Agent{},
		blocked:   cfg.Layout.blockedCells(),
		observers: map[string]chan []byte{},
		inbox:     make(chan RequestEnvelope, 256),
		obsJoin:   make(chan ObserverJoin, 16),
		obsLeave:  make(chan string, 16),
		stop:      make(chan struct{}),
	}
	deps := OrchestratorDeps{
		Catalog:       cats.Activities,
		Locations:     cats.Locations,
		Movement:      t,
		Durations:     activity.Durations{Short: cfg.Tune.Durations.ShortTicks, Medium: cfg.Tune.Durations.MediumTicks, Long: cfg.Tune.Durations.LongTicks},
		RoutineExtent: cfg.Tune.RoutineExtent,
		NamingRadius:  cfg.Tune.MoveTolerance + 2,
		QueueMax:      cfg.Tune.QueueMax,
		NewInstanceID: t.newInstanceID,
		Log:           logger,
	}
	for _, seed := range cfg.Layout.Agents {
		if !t.inBounds(seed.X, seed.Y) {
			return nil, fmt.Errorf("town: agent %s starts out of bounds", seed.ID)
		}
		a := &Agent{ID: seed.ID, Name: seed.Name, X: seed.X, Y: seed.Y}
		a.Orch = NewOrchestrator(a, deps)
		t.agents[seed.ID] = a
		t.order = append(t.order, seed.ID)
	}
	t.metrics.Store(Metrics{Agents: len(t.order)})
	return t, nil
}

func (t *Town) ID() string         { return t.cfg.ID }
func (t *Town) TickRateHz() int    { return t.cfg.Tune.TickRateHz }
func (t *Town) DayTicks() int      { return t.cfg.Tune.DayTicks }
func (t *Town) CurrentTick() uint64 { return t.tick.Load() }

func (t *Town) Digests() protocol.CatalogDigests {
	return protocol.CatalogDigests{
		LocationsDigest:  t.cats.LocationsDigest,
		ActivitiesDigest: t.cats.ActivitiesDigest,
		AliasesDigest:    t.cats.AliasesDigest,
	}
}

func (t *Town) Metrics() Metrics {
	m, _ := t.metrics.Load().(Metrics)
	return m
}

func (t *Town) SetTickLogger(sink TickSink)   { t.tickLogger = sink }
func (t *Town) SetHistorySink(sink HistorySink) { t.history = sink }

// Agent returns a live agent pointer for tests and diagnostics. Callers
// outside the tick goroutine must not mutate it.
func (t *Town) Agent(id string) *Agent { return t.agents[id] }

// Submit queues an ad hoc activity request for the next tick boundary.
func (t *Town) Submit(env RequestEnvelope) { t.inbox <- env }

func (t *Town) AttachObserver(id string, out chan []byte) {
	t.obsJoin <- ObserverJoin{ID: id, Out: out}
}

func (t *Town) DetachObserver(id string) { t.obsLeave <- id }

func (t *Town) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(t.cfg.Tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []RequestEnvelope
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			return nil
		case j := <-t.obsJoin:
			t.observers[j.ID] = j.Out
		case id := <-t.obsLeave:
			delete(t.observers, id)
		case env := <-t.inbox:
			pending = append(pending, env)
		case <-ticker.C:
			t.stepInternal(pending)
			pending = pending[:0]
		}
	}
}

func (t *Town) Stop() { close(t.stop) }

// StepOnce advances the town by a single tick with the same ordering as the
// server loop. Intended for tests and deterministic replays.
func (t *Town) StepOnce(requests []RequestEnvelope) (tick uint64, digest string) {
	tick = t.tick.Load()
	t.stepInternal(requests)
	return tick, t.lastDigest
}

// stepInternal is the tick boundary: schedule fires, then ad hoc requests
// in arrival order, then orchestrators in registration order, then the
// movement system, then observation/log/digest.
func (t *Town) stepInternal(requests []RequestEnvelope) {
	stepStart := time.Now()
	nowTick := t.tick.Load()

	var fired []FiredSchedule
	dayTick := nowTick % uint64(t.cfg.Tune.DayTicks)
	for _, e := range t.book.Due(dayTick) {
		a := t.agents[e.AgentID]
		if a == nil {
			t.log.Warn("schedule entry for unknown agent", zap.String("agent", e.AgentID))
			continue
		}
		// A schedule-unresolved entry leaves the agent idle; the
		// orchestrator already logged the diagnostic.
		_ = a.Orch.HandleScheduledActivity(e.Text, nowTick, nowTick)
		fired = append(fired, FiredSchedule{AgentID: e.AgentID, Text: e.Text, At: nowTick})
	}

	var recorded []RecordedRequest
	for _, env := range requests {
		rec := RecordedRequest{AgentID: env.AgentID, Query: env.Query, Priority: env.Priority}
		a := t.agents[env.AgentID]
		if a == nil {
			rec.Result = string(ResultRejected)
			rec.Err = "unknown agent"
		} else {
			res, err := a.Orch.RequestActivity(env.Query, env.Priority, nowTick)
			rec.Result = string(res)
			if err != nil {
				rec.Err = err.Error()
			}
		}
		recorded = append(recorded, rec)
		if env.Resp != nil {
			env.Resp <- RequestOutcome{Result: RequestResult(rec.Result), Err: rec.Err}
		}
	}

	for _, id := range t.order {
		t.agents[id].Orch.Update(nowTick)
	}

	t.systemMovement(nowTick)

	var terminal []HistoryRecord
	for _, id := range t.order {
		terminal = append(terminal, t.agents[id].Orch.DrainTerminal()...)
	}
	if t.history != nil {
		for _, r := range terminal {
			t.history.InsertTerminal(r)
		}
	}

	if len(t.observers) > 0 {
		if b, err := json.Marshal(t.buildObs(nowTick)); err == nil {
			for _, ch := range t.observers {
				sendLatest(ch, b)
			}
		}
	}

	t.lastDigest = t.stateDigest(nowTick)
	if t.tickLogger != nil {
		_ = t.tickLogger.WriteTick(TickLogEntry{
			Tick:     nowTick,
			Fired:    fired,
			Requests: recorded,
			Terminal: terminal,
			Digest:   t.lastDigest,
		})
	}

	idle, moving, performing := 0, 0, 0
	for _, id := range t.order {
		switch t.agents[id].Orch.CurrentState() {
		case "":
			idle++
		case string(activity.StateMovingToLocation):
			moving++
		case string(activity.StatePerforming):
			performing++
		}
	}
	t.metrics.Store(Metrics{
		Tick:       nowTick + 1,
		Agents:     len(t.order),
		Observers:  len(t.observers),
		StepMS:     float64(time.Since(stepStart).Microseconds()) / 1000.0,
		Idle:       idle,
		Moving:     moving,
		Performing: performing,
	})
	t.tick.Add(1)
}

func (t *Town) buildObs(nowTick uint64) protocol.ObsMsg {
	obs := protocol.ObsMsg{Type: protocol.TypeObs, Tick: nowTick, Agents: make([]protocol.AgentObs, 0, len(t.order))}
	for _, id := range t.order {
		a := t.agents[id]
		obs.Agents = append(obs.Agents, protocol.AgentObs{
			ID:    a.ID,
			Name:  a.Name,
			Label: a.Orch.CurrentLabel(),
			State: a.Orch.CurrentState(),
			X:     a.X,
			Y:     a.Y,
		})
	}
	return obs
}

func (t *Town) newInstanceID() string {
	return fmt.Sprintf("A%06d", t.nextInstance.Add(1))
}

// sendLatest delivers latest-wins on a bounded channel: drop one stale
// message rather than block the tick loop on a slow observer.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
