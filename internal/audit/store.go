package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Store persists redaction audit events in PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS redaction_events (
	id               BIGSERIAL PRIMARY KEY,
	occurred_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	operation        TEXT NOT NULL,
	client_ip        TEXT NOT NULL DEFAULT '',
	request_id       TEXT NOT NULL DEFAULT '',
	lines_processed  BIGINT NOT NULL DEFAULT 0,
	lines_modified   BIGINT NOT NULL DEFAULT 0,
	patterns_matched BIGINT NOT NULL DEFAULT 0,
	bytes_processed  BIGINT NOT NULL DEFAULT 0,
	duration_ms      DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_redaction_events_occurred_at
	ON redaction_events (occurred_at DESC)`

// NewStore creates a new audit store instance
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the database connection and ensures the schema exists.
func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}

	return nil
}

// Insert records a single audit event.
func (s *Store) Insert(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO redaction_events
			(operation, client_ip, request_id, lines_processed, lines_modified,
			 patterns_matched, bytes_processed, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, occurred_at`

	err := s.db.QueryRowContext(ctx, query,
		event.Operation,
		event.ClientIP,
		event.RequestID,
		event.LinesProcessed,
		event.LinesModified,
		event.PatternsMatched,
		event.BytesProcessed,
		event.DurationMs,
	).Scan(&event.ID, &event.OccurredAt)

	if err != nil {
		s.logger.Error("Failed to insert audit event",
			zap.Error(err),
			zap.String("operation", event.Operation))
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// BatchInsert records multiple audit events efficiently
func (s *Store) BatchInsert(ctx context.Context, events []*Event) (*BatchInsertResult, error) {
	if len(events) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	// Prepare batch insert
	valueStrings := make([]string, 0, len(events))
	valueArgs := make([]interface{}, 0, len(events)*8)

	for i, event := range events {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			i*8+1, i*8+2, i*8+3, i*8+4, i*8+5, i*8+6, i*8+7, i*8+8))
		valueArgs = append(valueArgs,
			event.Operation,
			event.ClientIP,
			event.RequestID,
			event.LinesProcessed,
			event.LinesModified,
			event.PatternsMatched,
			event.BytesProcessed,
			event.DurationMs,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO redaction_events
			(operation, client_ip, request_id, lines_processed, lines_modified,
			 patterns_matched, bytes_processed, duration_ms)
		VALUES %s`,
		strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(events))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(events)) // Assume all inserted
	}

	result.Inserted = inserted
	result.Failed = int64(len(events)) - inserted
	result.Duration = time.Since(start)

	s.logger.Debug("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// Recent returns the most recent audit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, occurred_at, operation, client_ip, request_id,
		       lines_processed, lines_modified, patterns_matched,
		       bytes_processed, duration_ms
		FROM redaction_events
		ORDER BY occurred_at DESC
		LIMIT $1`

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	return events, nil
}

// GetSummary returns aggregate totals over all recorded events.
func (s *Store) GetSummary(ctx context.Context) (*Summary, error) {
	query := `
		SELECT
			COUNT(*)                          AS total_events,
			COALESCE(SUM(lines_processed), 0) AS total_lines,
			COALESCE(SUM(lines_modified), 0)  AS total_modified,
			COALESCE(SUM(patterns_matched), 0) AS total_matched,
			COALESCE(SUM(bytes_processed), 0) AS total_bytes
		FROM redaction_events`

	summary := &Summary{}
	if err := s.db.GetContext(ctx, summary, query); err != nil {
		return nil, fmt.Errorf("failed to get audit summary: %w", err)
	}
	return summary, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks sensitive information in database URL for logging
func maskDatabaseURL(url string) string {
	// Simple masking - replace password with ***
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
