package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/torpath-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time so schema init
// works inside the Docker runtime image, which does not carry the
// internal/db directory into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for Path Correlation Engine")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema() error {
	_, err := s.pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("Path Correlation Schema initialized")
	return nil
}

// SaveRelays upserts a full directory sync snapshot.
func (s *PostgresStore) SaveRelays(ctx context.Context, relays []*models.Relay) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	upsertSQL := `
		INSERT INTO relays (fingerprint, nickname, country, asn, roles, bandwidth, uptime, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (fingerprint) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			country = EXCLUDED.country,
			asn = EXCLUDED.asn,
			roles = EXCLUDED.roles,
			bandwidth = EXCLUDED.bandwidth,
			uptime = EXCLUDED.uptime,
			synced_at = NOW();
	`
	for _, r := range relays {
		uptimeJSON, err := json.Marshal(r.Uptime)
		if err != nil {
			return fmt.Errorf("failed to encode uptime for %s: %v", r.Fingerprint, err)
		}
		_, err = tx.Exec(ctx, upsertSQL,
			r.Fingerprint, r.Nickname, r.Country, r.ASN, int16(r.Roles), r.Bandwidth, uptimeJSON)
		if err != nil {
			return fmt.Errorf("failed to upsert relay %s: %v", r.Fingerprint, err)
		}
	}
	return tx.Commit(ctx)
}

// SaveEvidenceWindow persists one ingested window and returns its id.
// Windows are immutable, so re-ingesting the same (case_id, start_time,
// end_time) returns the existing row's id instead of inserting a
// duplicate; the no-op DO UPDATE keeps RETURNING populated on conflict.
func (s *PostgresStore) SaveEvidenceWindow(ctx context.Context, w models.EvidenceWindow) (int64, error) {
	sql := `
		INSERT INTO evidence_windows
			(case_id, start_time, end_time, session_count, packet_count, unique_ip_count, protocols, clock_skew_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (case_id, start_time, end_time) DO UPDATE
			SET case_id = EXCLUDED.case_id
		RETURNING id;
	`
	var id int64
	err := s.pool.QueryRow(ctx, sql,
		w.CaseID, w.StartTime, w.EndTime, w.SessionCount, w.PacketCount,
		w.UniqueIPCount, w.Protocols, w.ClockSkew.Milliseconds()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert evidence window: %v", err)
	}
	return id, nil
}

// ListEvidenceWindows loads all stored windows, oldest first. Used by
// the rescan job to replay cases against a refreshed catalog.
func (s *PostgresStore) ListEvidenceWindows(ctx context.Context) ([]models.EvidenceWindow, error) {
	sql := `
		SELECT case_id, start_time, end_time, session_count, packet_count,
		       unique_ip_count, protocols, clock_skew_ms
		FROM evidence_windows
		ORDER BY id ASC;
	`
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	windows := make([]models.EvidenceWindow, 0)
	for rows.Next() {
		var w models.EvidenceWindow
		var skewMs int64
		if err := rows.Scan(&w.CaseID, &w.StartTime, &w.EndTime, &w.SessionCount,
			&w.PacketCount, &w.UniqueIPCount, &w.Protocols, &skewMs); err != nil {
			return nil, err
		}
		w.ClockSkew = msToDuration(skewMs)
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// SaveHypothesis upserts the latest scored state of one path candidate.
// Only the head state is upserted; the full trajectory lives in
// confidence_records.
func (s *PostgresStore) SaveHypothesis(ctx context.Context, c *models.PathCandidate) error {
	componentsJSON, err := json.Marshal(c.ComponentScores)
	if err != nil {
		return fmt.Errorf("failed to encode component scores: %v", err)
	}
	penaltiesJSON, err := json.Marshal(c.Penalties)
	if err != nil {
		return fmt.Errorf("failed to encode penalties: %v", err)
	}

	sql := `
		INSERT INTO path_hypotheses
			(path_id, case_id, entry_fp, middle_fp, exit_fp, score, component_scores, penalties, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (path_id) DO UPDATE SET
			score = EXCLUDED.score,
			component_scores = EXCLUDED.component_scores,
			penalties = EXCLUDED.penalties,
			scored_at = NOW();
	`
	_, err = s.pool.Exec(ctx, sql,
		c.PathID, c.CaseID, c.Entry.Fingerprint, c.Middle.Fingerprint,
		c.Exit.Fingerprint, c.Score, componentsJSON, penaltiesJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert hypothesis: %v", err)
	}
	return nil
}

// AppendConfidenceRecord inserts one evolution ledger entry. Insert
// only — there is deliberately no corresponding update or delete.
func (s *PostgresStore) AppendConfidenceRecord(ctx context.Context, rec models.ConfidenceRecord) error {
	sql := `
		INSERT INTO confidence_records (path_id, recorded_at, score, triggering_event)
		VALUES ($1, $2, $3, $4);
	`
	_, err := s.pool.Exec(ctx, sql, rec.PathID, rec.Timestamp, rec.Score, rec.TriggeringEvent)
	return err
}

// LoadHistory returns a path's persisted trajectory, time-ascending.
func (s *PostgresStore) LoadHistory(ctx context.Context, pathID string) ([]models.ConfidenceRecord, error) {
	sql := `
		SELECT path_id, recorded_at, score, triggering_event
		FROM confidence_records
		WHERE path_id = $1
		ORDER BY recorded_at ASC, id ASC;
	`
	rows, err := s.pool.Query(ctx, sql, pathID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]models.ConfidenceRecord, 0)
	for rows.Next() {
		var rec models.ConfidenceRecord
		if err := rows.Scan(&rec.PathID, &rec.Timestamp, &rec.Score, &rec.TriggeringEvent); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetPool exposes the connection pool for subsystems that need raw access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
