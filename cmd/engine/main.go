package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/rawblock/torpath-engine/internal/api"
	"github.com/rawblock/torpath-engine/internal/catalog"
	"github.com/rawblock/torpath-engine/internal/correlation"
	"github.com/rawblock/torpath-engine/internal/db"
	"github.com/rawblock/torpath-engine/internal/directory"
	"github.com/rawblock/torpath-engine/internal/poller"
	"github.com/rawblock/torpath-engine/internal/rescan"
	"github.com/rawblock/torpath-engine/internal/tracker"
)

func main() {
	log.Println("Starting RawBlock TOR Path Correlation Engine (Microservice: torpath-analytics)...")
	log.Println("Initializing Relay Catalog and Confidence Evolution Ledger...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	var dbConn *db.PostgresStore
	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		var err error
		dbConn, err = db.Connect(dbUrl)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting case data. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("Warning: DATABASE_URL not set, running memory-only (trajectories lost on restart)")
	}

	dirURL := getEnvOrDefault("DIRECTORY_URL", "https://onionoo.torproject.org")
	dirClient := directory.NewClient(directory.Config{
		BaseURL: dirURL,
		Timeout: 30 * time.Second,
	})

	cat := catalog.New()

	var trackerStore tracker.Store
	if dbConn != nil {
		trackerStore = dbConn
	}
	evolution := tracker.New(trackerStore)

	engine := correlation.NewEngine(cat, evolution)

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Background rescanner broadcasting high-confidence path alerts
	var rescanStore rescan.Store
	if dbConn != nil {
		rescanStore = dbConn
	}
	rescanner := rescan.NewRescanner(rescanStore, engine, api.BroadcastPathAlert(wsHub))

	// Directory refresh poller keeps the catalog current
	dirPoller := poller.NewPoller(dirClient, cat, dbConn, wsHub)
	if raw := os.Getenv("SYNC_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			dirPoller.SetInterval(d)
		} else {
			log.Printf("Warning: invalid SYNC_INTERVAL %q, using default: %v", raw, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dirPoller.Run(ctx)

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, cat, engine, dirClient, wsHub, rescanner)

	port := getEnvOrDefault("PORT", "5341")

	// Start the server
	log.Printf("Engine running on :%s (API Node: torpath-analytics)\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
