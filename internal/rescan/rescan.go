package rescan

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/rawblock/torpath-engine/internal/correlation"
	"github.com/rawblock/torpath-engine/pkg/models"
)

// Case Rescanner
//
// Replays every stored evidence window through the correlation engine
// against the current relay catalog. Each replay appends fresh records
// to the confidence evolution ledger, which is what turns a static
// hypothesis list into an auditable trajectory: a relay that dropped out
// of the consensus since the last pass pulls its paths down, a newly
// confirmed long-lived guard pulls its paths up.
//
// Typically triggered after a directory sync. Runs asynchronously with
// atomics-based progress so the API can poll without locking.

// AlertThreshold is the score at or above which a rescanned hypothesis
// is pushed to dashboards.
const AlertThreshold = 0.85

// PathAlert is the real-time notification for a high-confidence hypothesis.
type PathAlert struct {
	PathID           string              `json:"pathId"`
	CaseID           string              `json:"caseId"`
	Score            float64             `json:"score"`
	EntryFingerprint string              `json:"entryFingerprint"`
	ExitFingerprint  string              `json:"exitFingerprint"`
	EntryCountry     string              `json:"entryCountry"`
	ExitCountry      string              `json:"exitCountry"`
	Tags             []models.PatternTag `json:"tags,omitempty"`
	Timestamp        string              `json:"timestamp"`
}

// Progress is the rescanner's current state for the API.
type Progress struct {
	IsRunning      bool  `json:"isRunning"`
	CurrentWindow  int64 `json:"currentWindow"`
	TotalWindows   int64 `json:"totalWindows"`
	TotalScored    int64 `json:"totalScored"`
	HighConfidence int64 `json:"highConfidence"`
}

// Store is the persistence surface the rescanner replays from.
// Implemented by the Postgres store; nil disables rescans entirely.
type Store interface {
	ListEvidenceWindows(ctx context.Context) ([]models.EvidenceWindow, error)
	SaveHypothesis(ctx context.Context, c *models.PathCandidate) error
}

// Rescanner walks stored evidence windows and re-scores them.
type Rescanner struct {
	dbStore   Store
	engine    *correlation.Engine
	alertFunc func(alert PathAlert) // Optional broadcast callback

	// Progress tracking (atomic for safe concurrent reads)
	currentWindow  atomic.Int64
	totalWindows   atomic.Int64
	totalScored    atomic.Int64
	highConfidence atomic.Int64
	isRunning      atomic.Bool
}

func NewRescanner(dbStore Store, engine *correlation.Engine, alertFunc func(PathAlert)) *Rescanner {
	return &Rescanner{
		dbStore:   dbStore,
		engine:    engine,
		alertFunc: alertFunc,
	}
}

// GetProgress returns the current rescan progress (thread-safe).
func (r *Rescanner) GetProgress() Progress {
	return Progress{
		IsRunning:      r.isRunning.Load(),
		CurrentWindow:  r.currentWindow.Load(),
		TotalWindows:   r.totalWindows.Load(),
		TotalScored:    r.totalScored.Load(),
		HighConfidence: r.highConfidence.Load(),
	}
}

// RescanAll replays all stored evidence windows asynchronously.
// triggeringEvent labels the appended evolution records (e.g.
// "directory refresh 2026-08-28").
func (r *Rescanner) RescanAll(ctx context.Context, triggeringEvent string) {
	if r.dbStore == nil {
		log.Println("[Rescanner] No database connected, nothing to rescan")
		return
	}
	// CAS gate: under concurrent requests exactly one caller may flip
	// the flag and start a run.
	if !r.isRunning.CompareAndSwap(false, true) {
		log.Println("[Rescanner] Rescan already in progress, ignoring duplicate request")
		return
	}

	r.totalScored.Store(0)
	r.highConfidence.Store(0)

	go func() {
		defer r.isRunning.Store(false)

		windows, err := r.dbStore.ListEvidenceWindows(ctx)
		if err != nil {
			log.Printf("[Rescanner] Failed to load evidence windows: %v", err)
			return
		}
		r.totalWindows.Store(int64(len(windows)))
		log.Printf("[Rescanner] Starting rescan of %d evidence windows (%s)", len(windows), triggeringEvent)

		for i, win := range windows {
			select {
			case <-ctx.Done():
				log.Printf("[Rescanner] Rescan cancelled at window %d", i)
				return
			default:
			}

			r.currentWindow.Store(int64(i + 1))
			r.rescanWindow(ctx, win, triggeringEvent)
		}

		log.Printf("[Rescanner] Rescan complete: %d hypotheses re-scored, %d high-confidence",
			r.totalScored.Load(), r.highConfidence.Load())
	}()
}

// rescanWindow runs one window through the engine and emits alerts.
func (r *Rescanner) rescanWindow(ctx context.Context, win models.EvidenceWindow, triggeringEvent string) {
	ranked, err := r.engine.GenerateAndScore(ctx, win, correlation.DefaultTopN, triggeringEvent)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Printf("[Rescanner] Scoring failed for case %s: %v", win.CaseID, err)
		return
	}

	for _, c := range ranked {
		r.totalScored.Add(1)

		if err := r.dbStore.SaveHypothesis(ctx, c); err != nil {
			log.Printf("[Rescanner] DB persist error for path %s: %v", c.PathID, err)
		}

		if c.Score >= AlertThreshold {
			r.highConfidence.Add(1)
			if r.alertFunc != nil {
				r.alertFunc(PathAlert{
					PathID:           c.PathID,
					CaseID:           c.CaseID,
					Score:            c.Score,
					EntryFingerprint: c.Entry.Fingerprint,
					ExitFingerprint:  c.Exit.Fingerprint,
					EntryCountry:     c.Entry.Country,
					ExitCountry:      c.Exit.Country,
					Tags:             r.engine.Tags(c),
					Timestamp:        time.Now().Format(time.RFC3339),
				})
			}
		}
	}
}
