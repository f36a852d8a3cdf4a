package world

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type digestAgent struct {
	ID      string `json:"id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	State   string `json:"state"`
	Label   string `json:"label"`
	Queue   int    `json:"queue"`
	Last    string `json:"last"`
	MoveTgt [2]int `json:"move_tgt"`
	Moving  bool   `json:"moving"`
}

// stateDigest is a deterministic hash of everything the simulation
// mutates, computed at the end of each tick. Two towns fed identical
// inputs must produce identical digests every tick; replay verification
// depends on it.
func (t *Town) stateDigest(tick uint64) string {
	payload := struct {
		Tick   uint64        `json:"tick"`
		Agents []digestAgent `json:"agents"`
	}{Tick: tick}
	for _, id := range t.order {
		a := t.agents[id]
		da := digestAgent{
			ID:    a.ID,
			X:     a.X,
			Y:     a.Y,
			State: a.Orch.CurrentState(),
			Label: a.Orch.CurrentLabel(),
			Queue: a.Orch.QueueLen(),
			Last:  a.Orch.LastCompleted(),
		}
		if a.move != nil {
			da.Moving = true
			da.MoveTgt = [2]int{a.move.TargetX, a.move.TargetY}
		}
		payload.Agents = append(payload.Agents, da)
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
