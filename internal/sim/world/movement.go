package world

// The movement system is the in-process implementation of the movement
// port: Start/Cancel are the synchronous request surface, systemMovement
// delivers arrival and blocked notifications at tick granularity.

// Start accepts or rejects a movement request synchronously. A target off
// the grid or inside an obstacle has no path and is rejected outright.
func (t *Town) Start(agentID string, x, y int) bool {
	a := t.agents[agentID]
	if a == nil {
		return false
	}
	if !t.inBounds(x, y) || t.blocked[[2]int{x, y}] {
		return false
	}
	a.move = &moveState{TargetX: x, TargetY: y, Tolerance: t.cfg.Tune.MoveTolerance}
	return true
}

// Cancel aborts in-flight movement. No notification is delivered; the
// caller already knows.
func (t *Town) Cancel(agentID string) {
	if a := t.agents[agentID]; a != nil {
		a.move = nil
	}
}

// systemMovement advances every moving agent one cell per tick.
// Deterministic axis stepping: primary axis by larger delta, secondary as
// fallback when the primary cell is blocked, blocked report when neither
// is walkable.
func (t *Town) systemMovement(nowTick uint64) {
	for _, id := range t.order {
		a := t.agents[id]
		m := a.move
		if m == nil {
			continue
		}
		if chebyshev(m.TargetX-a.X, m.TargetY-a.Y) <= m.Tolerance {
			a.move = nil
			a.Orch.onArrival(nowTick)
			continue
		}

		dx := m.TargetX - a.X
		dy := m.TargetY - a.Y
		primaryX := absInt(dx) >= absInt(dy)

		next := step(a.X, a.Y, dx, dy, primaryX)
		if !t.walkable(next) {
			alt := step(a.X, a.Y, dx, dy, !primaryX)
			if alt != [2]int{a.X, a.Y} && t.walkable(alt) {
				next = alt
			} else {
				a.move = nil
				a.Orch.onBlocked(nowTick)
				continue
			}
		}
		a.X, a.Y = next[0], next[1]

		if chebyshev(m.TargetX-a.X, m.TargetY-a.Y) <= m.Tolerance {
			a.move = nil
			a.Orch.onArrival(nowTick)
		}
	}
}

func step(x, y, dx, dy int, alongX bool) [2]int {
	if alongX {
		if dx > 0 {
			x++
		} else if dx < 0 {
			x--
		}
	} else {
		if dy > 0 {
			y++
		} else if dy < 0 {
			y--
		}
	}
	return [2]int{x, y}
}

func (t *Town) walkable(p [2]int) bool {
	return t.inBounds(p[0], p[1]) && !t.blocked[p]
}

func (t *Town) inBounds(x, y int) bool {
	return x >= 0 && x < t.cfg.Layout.Width && y >= 0 && y < t.cfg.Layout.Height
}

func chebyshev(dx, dy int) int {
	dx, dy = absInt(dx), absInt(dy)
	if dx > dy {
		return dx
	}
	return dy
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
