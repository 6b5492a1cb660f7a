package correlation

import (
	"context"
	"runtime"
	"sync"

	"github.com/rawblock/torpath-engine/internal/catalog"
	"github.com/rawblock/torpath-engine/internal/tracker"
	"github.com/rawblock/torpath-engine/pkg/models"
)

// Correlation Engine
//
// The composed entry point: generate → score → track → rank. A scoring
// pass is request/response — triggered by a caller, runs to completion,
// no background actors. Candidates are scored independently, so the pass
// fans out across a bounded worker pool; the evolution tracker's append
// is the only serialization point.
//
// Cancellation is cooperative: workers check the context between
// candidates. Records already appended when a pass is cancelled remain
// valid and are not rolled back — partial evidence is still evidence.

// Engine wires the catalog and tracker into one scoring pipeline.
type Engine struct {
	catalog *catalog.Catalog
	tracker *tracker.Tracker
	rules   RuleSet
	workers int
}

// NewEngine builds an engine over the given catalog and tracker.
func NewEngine(cat *catalog.Catalog, tr *tracker.Tracker) *Engine {
	return &Engine{
		catalog: cat,
		tracker: tr,
		rules:   DefaultRules(),
		workers: runtime.NumCPU(),
	}
}

// Tracker exposes the engine's evolution ledger (read side for the API).
func (e *Engine) Tracker() *tracker.Tracker {
	return e.tracker
}

// Tags runs the pattern-tagging rules over a scored candidate.
func (e *Engine) Tags(c *models.PathCandidate) []models.PatternTag {
	return e.rules.Apply(c)
}

// GenerateAndScore runs a full pass for one evidence window and returns
// up to topN candidates, best first. triggeringEvent labels the tracker
// records appended by this pass (e.g. "evidence upload case-42").
func (e *Engine) GenerateAndScore(ctx context.Context, win models.EvidenceWindow, topN int, triggeringEvent string) ([]*models.PathCandidate, error) {
	candidates, err := GenerateCandidates(win, e.catalog, DefaultLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*models.PathCandidate{}, nil
	}

	if err := e.scoreAll(ctx, candidates, win, triggeringEvent); err != nil {
		return nil, err
	}

	if topN <= 0 {
		topN = DefaultTopN
	}
	return Rank(candidates, topN), nil
}

// DefaultTopN bounds the ranked output when the caller passes no limit.
const DefaultTopN = 20

// scoreAll fans candidate scoring out over the worker pool. Each
// completed score appends exactly one tracker record.
func (e *Engine) scoreAll(ctx context.Context, candidates []*models.PathCandidate, win models.EvidenceWindow, triggeringEvent string) error {
	workers := e.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	jobs := make(chan *models.PathCandidate)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				Score(c, win)
				e.tracker.Record(ctx, c.PathID, c.Score, triggeringEvent)
			}
		}()
	}

	var cancelled error
feed:
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		case jobs <- c:
		}
	}
	close(jobs)
	wg.Wait()

	return cancelled
}
