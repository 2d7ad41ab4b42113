package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/botwall-engine/pkg/models"
)

// schemaSQL is compiled into the binary at build time.
// This ensures schema init works inside the Docker runtime image which
// does not copy internal/db/schema.sql into the final stage.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for detection event storage")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
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

	log.Println("Botwall detection schema initialized")
	return nil
}

// SaveDetection persists one completed detection. The request-side signal
// is always present; the operation-side extension fills the response
// columns when the downstream handler ran.
func (s *PostgresStore) SaveDetection(ctx context.Context, sig models.RequestCompleteSignal, op *models.OperationCompleteSignal) error {
	triggers, err := json.Marshal(sig.TriggerSignals)
	if err != nil {
		triggers = []byte("{}")
	}

	var statusCode *int
	var responseBytes *int64
	var responseScore, combinedScore *float64
	if op != nil {
		statusCode = &op.StatusCode
		responseBytes = &op.ResponseBytes
		responseScore = &op.ResponseScore
		combinedScore = &op.CombinedScore
	}

	sql := `
		INSERT INTO detection_events
			(request_id, signature, occurred_at, risk, risk_band, honeypot, datacenter,
			 path, method, action, trigger_signals,
			 status_code, response_bytes, response_score, combined_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
	`
	_, err = s.pool.Exec(ctx, sql,
		sig.RequestID,
		sig.Signature,
		sig.Timestamp,
		sig.Risk,
		string(sig.RiskBand),
		sig.Honeypot,
		sig.Datacenter,
		sig.Path,
		sig.Method,
		sig.Action,
		triggers,
		statusCode,
		responseBytes,
		responseScore,
		combinedScore,
	)
	if err != nil {
		return fmt.Errorf("failed to insert detection event: %v", err)
	}
	return nil
}

// SaveSignatureSnapshot upserts the rolling state of one client signature.
func (s *PostgresStore) SaveSignatureSnapshot(ctx context.Context, state models.SignatureState) error {
	sql := `
		INSERT INTO signature_snapshots
			(signature, first_seen, last_seen, hit_count, bot_probability, confidence,
			 risk_band, bot_name, bot_type, last_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (signature) DO UPDATE SET
			last_seen = EXCLUDED.last_seen,
			hit_count = EXCLUDED.hit_count,
			bot_probability = EXCLUDED.bot_probability,
			confidence = EXCLUDED.confidence,
			risk_band = EXCLUDED.risk_band,
			bot_name = EXCLUDED.bot_name,
			bot_type = EXCLUDED.bot_type,
			last_path = EXCLUDED.last_path,
			updated_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql,
		state.PrimarySignature,
		state.FirstSeen,
		state.LastSeen,
		state.HitCount,
		state.BotProbability,
		state.Confidence,
		string(state.RiskBand),
		state.BotName,
		state.BotType,
		state.LastPath,
	)
	return err
}

// DetectionRecord is the row shape served by the recent-detections API.
type DetectionRecord struct {
	RequestID  string    `json:"requestId"`
	Signature  string    `json:"signature"`
	OccurredAt time.Time `json:"occurredAt"`
	Risk       float64   `json:"risk"`
	RiskBand   string    `json:"riskBand"`
	Honeypot   bool      `json:"honeypot"`
	Datacenter bool      `json:"datacenter"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Action     string    `json:"action"`
	StatusCode *int      `json:"statusCode,omitempty"`
}

// RecentDetections returns the latest detection events, newest first.
func (s *PostgresStore) RecentDetections(ctx context.Context, limit int) ([]DetectionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	sql := `
		SELECT request_id, signature, occurred_at, risk, risk_band, honeypot, datacenter,
		       COALESCE(path, ''), COALESCE(method, ''), COALESCE(action, ''), status_code
		FROM detection_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]DetectionRecord, 0, limit)
	for rows.Next() {
		var r DetectionRecord
		if err := rows.Scan(&r.RequestID, &r.Signature, &r.OccurredAt, &r.Risk, &r.RiskBand,
			&r.Honeypot, &r.Datacenter, &r.Path, &r.Method, &r.Action, &r.StatusCode); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// GetPool exposes the connection pool for other subsystems
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
