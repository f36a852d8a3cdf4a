// Package schedule feeds "it is now time X, the schedule says Y" events
// into the town. Entries are authored per agent against a tick-of-day
// clock; the book is read-only once loaded.
package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry is one scheduled behavior for one agent. Text is free-form; the
// activity catalog resolves it when the entry fires.
type Entry struct {
	ID        string `json:"id,omitempty"`
	AgentID   string `json:"agent_id"`
	AtDayTick uint64 `json:"at_day_tick"`
	Text      string `json:"text"`
}

// Book holds every agent's entries, indexed by the day tick they fire at.
type Book struct {
	byTick  map[uint64][]Entry
	entries int
	digest  string
	log     *zap.Logger
}

func New(entries []Entry, logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Book{byTick: map[uint64][]Entry{}, log: logger}
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		b.byTick[e.AtDayTick] = append(b.byTick[e.AtDayTick], e)
		b.entries++
	}
	return b
}

func Load(path string, dayTicks int, logger *zap.Logger) (*Book, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("schedules.json: %w", err)
	}
	for _, e := range entries {
		if e.AgentID == "" || e.Text == "" {
			return nil, fmt.Errorf("schedules.json: entry missing agent_id or text")
		}
		if dayTicks > 0 && e.AtDayTick >= uint64(dayTicks) {
			return nil, fmt.Errorf("schedules.json: entry for %s fires at %d, beyond day length %d",
				e.AgentID, e.AtDayTick, dayTicks)
		}
	}
	sum := sha256.Sum256(raw)
	b := New(entries, logger)
	b.digest = hex.EncodeToString(sum[:])
	if logger != nil {
		logger.Info("schedule book loaded", zap.Int("entries", b.entries))
	}
	return b, nil
}

// Due returns the entries that fire at this tick of the day, in authoring
// order. Fires every day; the orchestrator's dedupe handles accidental
// redelivery within one occurrence.
func (b *Book) Due(dayTick uint64) []Entry {
	if b == nil {
		return nil
	}
	return b.byTick[dayTick]
}

func (b *Book) Len() int       { return b.entries }
func (b *Book) Digest() string { return b.digest }
