package poller

import (
	"context"
	"log"
	"time"

	"github.com/rawblock/torpath-engine/internal/api"
	"github.com/rawblock/torpath-engine/internal/catalog"
	"github.com/rawblock/torpath-engine/internal/db"
	"github.com/rawblock/torpath-engine/internal/directory"
)

// Directory Refresh Poller
//
// Keeps the relay catalog in step with the directory consensus. Each
// tick fetches the current relay set, installs it as the new catalog
// snapshot, persists it, and pushes sync stats to the dashboards.
//
// A failed fetch is logged and the previous snapshot stays in place —
// stale relay data beats no relay data for in-flight investigations,
// and the lastSync timestamp on /health makes the staleness visible.

// DefaultInterval matches the consensus publication cadence closely
// enough; relay churn inside an hour is noise for scoring purposes.
const DefaultInterval = 1 * time.Hour

type Poller struct {
	dirClient *directory.Client
	catalog   *catalog.Catalog
	dbStore   *db.PostgresStore
	wsHub     *api.Hub
	interval  time.Duration
}

func NewPoller(dirClient *directory.Client, cat *catalog.Catalog, dbStore *db.PostgresStore, wsHub *api.Hub) *Poller {
	return &Poller{
		dirClient: dirClient,
		catalog:   cat,
		dbStore:   dbStore,
		wsHub:     wsHub,
		interval:  DefaultInterval,
	}
}

// SetInterval overrides the refresh cadence (used by tests and dev).
func (p *Poller) SetInterval(d time.Duration) {
	p.interval = d
}

// Run syncs once immediately, then on every tick until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	log.Println("Starting Directory Refresh Poller...")

	p.syncOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping Directory Poller...")
			return
		case <-ticker.C:
			p.syncOnce(ctx)
		}
	}
}

func (p *Poller) syncOnce(ctx context.Context) {
	relays, err := p.dirClient.SyncFromDirectory(ctx)
	if err != nil {
		log.Printf("[Poller] Directory sync failed, keeping previous snapshot: %v", err)
		return
	}

	p.catalog.Replace(relays)
	log.Printf("[Poller] Directory sync complete: %d relays in catalog", len(relays))

	if p.dbStore != nil {
		if err := p.dbStore.SaveRelays(ctx, relays); err != nil {
			log.Printf("[Poller] Failed to persist relay snapshot: %v", err)
		}
	}

	if p.wsHub != nil {
		p.wsHub.BroadcastEvent("directory_sync", map[string]interface{}{
			"relayCount": len(relays),
			"syncedAt":   p.catalog.SyncedAt(),
		})
	}
}
