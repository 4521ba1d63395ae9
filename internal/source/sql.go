package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"go.uber.org/zap"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore reads candidate records from, and writes sync markers to, a SQL
// table. Queries are written with ? placeholders and rebound for the driver.
type SQLStore struct {
	db     *sqlx.DB
	table  string
	logger *logger.Logger
}

// NewSQLStore connects using the configured driver and pool settings
func NewSQLStore(cfg config.DatabaseConfig, log *logger.Logger) (*SQLStore, error) {
	db, err := sqlx.Connect(cfg.Driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store, err := NewSQLStoreFromDB(db, cfg.Table, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	store.logger.Info("Source store initialized",
		zap.String("driver", cfg.Driver),
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.String("table", store.table),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return store, nil
}

// NewSQLStoreFromDB wraps an existing connection
func NewSQLStoreFromDB(db *sqlx.DB, table string, log *logger.Logger) (*SQLStore, error) {
	if table == "" {
		table = "syncable_records"
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	return &SQLStore{
		db:     db,
		table:  table,
		logger: log.WithComponent("source_sql"),
	}, nil
}

// EnsureSchema creates the syncable table and its index if missing
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id              TEXT PRIMARY KEY,
			content_type    TEXT NOT NULL DEFAULT 'general',
			relevancy_score INTEGER NOT NULL DEFAULT 0,
			raw_text        TEXT NOT NULL DEFAULT '',
			raw_metadata    TEXT NOT NULL DEFAULT '{}',
			synced          BOOLEAN NOT NULL DEFAULT FALSE,
			destination_id  TEXT,
			synced_at       TIMESTAMP
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unsynced ON %s (synced, relevancy_score)`, s.table, s.table),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Candidates returns unsynced records at or above the minimum relevancy,
// highest relevancy first.
func (s *SQLStore) Candidates(ctx context.Context, q CandidateQuery) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT id, content_type, relevancy_score, raw_text, raw_metadata, synced, destination_id
		FROM %s
		WHERE synced = FALSE AND relevancy_score >= ?`, s.table)
	args := []any{q.MinRelevancy}

	if len(q.ContentTypes) > 0 {
		query += " AND content_type IN (?)"
		args = append(args, q.ContentTypes)
	}
	query += " ORDER BY relevancy_score DESC, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand candidate query: %w", err)
	}

	var records []Record
	if err := s.db.SelectContext(ctx, &records, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}

	s.logger.Debug("Candidates loaded",
		zap.Int("count", len(records)),
		zap.Int("min_relevancy", q.MinRelevancy))

	return records, nil
}

// MarkSynced records the destination id for a record. Only rows that are
// still unsynced are updated, so a record can be marked at most once.
func (s *SQLStore) MarkSynced(ctx context.Context, id, destinationID string) error {
	query := s.db.Rebind(fmt.Sprintf(`
		UPDATE %s
		SET synced = TRUE, destination_id = ?, synced_at = CURRENT_TIMESTAMP
		WHERE id = ? AND synced = FALSE`, s.table))

	res, err := s.db.ExecContext(ctx, query, destinationID, id)
	if err != nil {
		return fmt.Errorf("failed to mark record synced: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", id, ErrAlreadySynced)
	}
	return nil
}

// BatchInsert adds records, skipping ids that already exist. Sync markers
// are never imported.
func (s *SQLStore) BatchInsert(ctx context.Context, records []Record) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()

	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]any, 0, len(records)*5)
	for _, r := range records {
		valueStrings = append(valueStrings, "(?, ?, ?, ?, ?)")
		valueArgs = append(valueArgs, r.ID, r.ContentType, r.RelevancyScore, r.RawText, r.RawMetadata)
	}

	query := s.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (id, content_type, relevancy_score, raw_text, raw_metadata)
		VALUES %s
		ON CONFLICT (id) DO NOTHING`,
		s.table, strings.Join(valueStrings, ",")))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		s.logger.Error("Batch insert failed", zap.Error(err))
		return nil, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result := &BatchInsertResult{
		Inserted:   inserted,
		Duplicates: int64(len(records)) - inserted,
		Duration:   time.Since(start),
	}

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// Stats returns row counts by sync state
func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN synced THEN 1 ELSE 0 END), 0) AS synced
		FROM %s`, s.table)

	stats := &Stats{}
	if err := s.db.QueryRowxContext(ctx, query).Scan(&stats.Total, &stats.Synced); err != nil {
		return nil, fmt.Errorf("failed to get source stats: %w", err)
	}
	stats.Unsynced = stats.Total - stats.Synced
	return stats, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
