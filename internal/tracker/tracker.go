package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rawblock/torpath-engine/pkg/models"
)

// Confidence Evolution Tracker
//
// Append-only ledger of scoring events per path. Investigators must be
// able to show that confidence was not retroactively altered, so the
// contract exposes exactly two operations: Record (append) and History
// (read). There is no update or delete surface at all — enforcement by
// contract, not convention.
//
// Appends are serialized under a single mutex to preserve real append
// order; concurrent scoring of different paths contends briefly here and
// nowhere else.

// Store is the optional durable sink behind the in-memory ledger.
// Implemented by the Postgres store; nil disables persistence.
type Store interface {
	AppendConfidenceRecord(ctx context.Context, rec models.ConfidenceRecord) error
}

// Tracker is the in-process evolution ledger.
type Tracker struct {
	mu      sync.Mutex
	records map[string][]models.ConfidenceRecord
	store   Store
}

// New creates a tracker. store may be nil for memory-only operation.
func New(store Store) *Tracker {
	return &Tracker{
		records: make(map[string][]models.ConfidenceRecord),
		store:   store,
	}
}

// Record appends one scoring event for a path and returns the stored
// record. Persistence failures are logged, not fatal: the in-memory
// ledger remains the source of truth for the running process.
func (t *Tracker) Record(ctx context.Context, pathID string, score float64, triggeringEvent string) models.ConfidenceRecord {
	// The timestamp is taken under the lock: append order and timestamp
	// order must agree, and a clock read before acquisition can land a
	// later-appended record with an earlier time.
	t.mu.Lock()
	rec := models.ConfidenceRecord{
		PathID:          pathID,
		Timestamp:       time.Now(),
		Score:           score,
		TriggeringEvent: triggeringEvent,
	}
	t.records[pathID] = append(t.records[pathID], rec)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.AppendConfidenceRecord(ctx, rec); err != nil {
			log.Printf("[Tracker] Failed to persist confidence record for %s: %v", pathID, err)
		}
	}
	return rec
}

// History returns the path's records in append (time-ascending) order.
// The returned slice is a copy; an unknown pathId yields an empty slice,
// which is a valid result, not an error.
func (t *Tracker) History(pathID string) []models.ConfidenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	src := t.records[pathID]
	out := make([]models.ConfidenceRecord, len(src))
	copy(out, src)
	return out
}

// Len returns the total number of recorded events across all paths.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, recs := range t.records {
		n += len(recs)
	}
	return n
}
