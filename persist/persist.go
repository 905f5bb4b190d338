// Package persist serializes the record store to a single JSON
// snapshot document and restores it at startup. Writes are atomic
// (temp file then rename) and best-effort: a failed write is logged
// and retried on the next tick, never surfaced to the event path.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/xiaot623/agentboard/domain"
	"github.com/xiaot623/agentboard/store"
)

// SchemaVersion gates snapshot compatibility. An unknown version is
// treated like a missing file: the snapshot is a best-effort cache,
// not a ledger.
const SchemaVersion = 1

// Snapshot is the on-disk document.
type Snapshot struct {
	Version      int                   `json:"version"`
	Records      []domain.AgentRecord  `json:"records"`
	Messages     []domain.MessageEntry `json:"messages,omitempty"`
	Totals       domain.UsageTotals    `json:"totals"`
	LastTerminal time.Time             `json:"last_terminal_at"`
	SavedAt      time.Time             `json:"saved_at"`
}

// Save writes the store state to path atomically.
func Save(path string, s *store.Store) error {
	records, messages, totals, lastTerminal := s.Export()
	snap := Snapshot{
		Version:      SchemaVersion,
		Records:      records,
		Messages:     messages,
		Totals:       totals,
		LastTerminal: lastTerminal,
		SavedAt:      s.Now(),
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	// Each writer gets its own temp file; concurrent saves then race
	// only on the final rename, which is atomic, so the published
	// snapshot is always one writer's complete document.
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Load restores store state from path. A missing file is empty state,
// not an error. Any record still marked running is proof the prior
// process died mid-flight and is relabeled errored with the restart
// reason, which keeps it eligible for late completion matching.
func Load(path string, s *store.Store) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SchemaVersion {
		log.Printf("WARN: snapshot version %d unknown, starting empty", snap.Version)
		return nil
	}

	relabeled := 0
	for i := range snap.Records {
		rec := &snap.Records[i]
		if rec.Status != domain.StatusRunning {
			continue
		}
		rec.Status = domain.StatusErrored
		rec.FailReason = domain.FailReasonRestart
		rec.ErrorPreview = "process restarted while agent was running"
		ended := snap.SavedAt
		if ended.IsZero() {
			ended = s.Now()
		}
		rec.EndedAt = &ended
		relabeled++
	}
	if relabeled > 0 {
		log.Printf("recovery: relabeled %d running records from prior process", relabeled)
	}

	s.Restore(snap.Records, snap.Messages, snap.Totals, snap.LastTerminal)
	return nil
}
