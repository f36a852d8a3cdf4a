// Package indexdb maintains a read-model index of terminal activity
// instances. It is fed asynchronously from the tick loop and must never
// influence simulation state; a backed-up writer drops records rather
// than block a tick.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"townlife.ai/internal/sim/world"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity_history (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id    TEXT NOT NULL,
	instance_id TEXT NOT NULL,
	activity    TEXT NOT NULL,
	final_state TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	scheduled   INTEGER NOT NULL DEFAULT 0,
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_agent ON activity_history(agent_id, seq);
`

type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan world.HistoryRecord
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

func OpenSQLite(path string, logger *zap.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	idx := &SQLiteIndex{
		db:  db,
		log: logger,
		ch:  make(chan world.HistoryRecord, 1024),
	}
	idx.wg.Add(1)
	go idx.writer()
	return idx, nil
}

// InsertTerminal queues a record for the writer goroutine. Never blocks.
func (idx *SQLiteIndex) InsertTerminal(rec world.HistoryRecord) {
	if idx.closed.Load() {
		return
	}
	select {
	case idx.ch <- rec:
	default:
		idx.dropped.Add(1)
	}
}

func (idx *SQLiteIndex) Dropped() uint64 { return idx.dropped.Load() }

func (idx *SQLiteIndex) writer() {
	defer idx.wg.Done()
	for rec := range idx.ch {
		_, err := idx.db.Exec(
			`INSERT INTO activity_history
			 (agent_id, instance_id, activity, final_state, reason, scheduled, started_at, ended_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.AgentID, rec.InstanceID, rec.Activity, rec.FinalState, rec.Reason,
			boolToInt(rec.Scheduled), rec.StartedAt, rec.EndedAt,
		)
		if err != nil {
			idx.log.Warn("index insert failed", zap.Error(err))
		}
	}
}

// RecentByAgent returns an agent's most recent terminal activities, newest
// first.
func (idx *SQLiteIndex) RecentByAgent(ctx context.Context, agentID string, limit int) ([]world.HistoryRecord, error) {
	if limit <= 0 || limit > 256 {
		limit = 50
	}
	rows, err := idx.db.QueryContext(ctx,
		`SELECT agent_id, instance_id, activity, final_state, reason, scheduled, started_at, ended_at
		 FROM activity_history WHERE agent_id = ? ORDER BY seq DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []world.HistoryRecord
	for rows.Next() {
		var rec world.HistoryRecord
		var scheduled int
		if err := rows.Scan(&rec.AgentID, &rec.InstanceID, &rec.Activity, &rec.FinalState,
			&rec.Reason, &scheduled, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, err
		}
		rec.Scheduled = scheduled != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (idx *SQLiteIndex) Close() error {
	idx.once.Do(func() {
		idx.closed.Store(true)
		close(idx.ch)
	})
	idx.wg.Wait()
	return idx.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
