package storage

import (
	"database/sql"
	"fmt"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	// ":memory:" gives every connection its own database
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS quote_requests (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL DEFAULT '',
			requester_user_id TEXT NOT NULL,
			filters TEXT NOT NULL,
			providers TEXT NOT NULL,
			status TEXT NOT NULL,
			total_quotes INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create quote_requests: %w", err)
	}

	query = `
		CREATE TABLE IF NOT EXISTS provider_tasks (
			request_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			status TEXT NOT NULL,
			quotes TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (request_id, provider_id)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create provider_tasks: %w", err)
	}

	if _, err := d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_quote_requests_created ON quote_requests (created_at)"); err != nil {
		return fmt.Errorf("failed to index quote_requests: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveRequest(req models.MQuoteRequest) error {
	row, err := encodeRequest(req)
	if err != nil {
		return helpers.NewDatabaseError("encode request", err)
	}

	_, err = d.DB.Exec(`
		INSERT INTO quote_requests (id, organization_id, requester_user_id, filters, providers, status, total_quotes, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			total_quotes = excluded.total_quotes,
			finished_at = excluded.finished_at
	`, row.ID, row.OrganizationID, row.RequesterUserID, row.Filters, row.Providers, row.Status, row.TotalQuotes, row.CreatedAt, row.FinishedAt)
	if err != nil {
		return helpers.NewDatabaseError("save request", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveOutcome(req models.MQuoteRequest, tasks []models.MProviderTask) error {
	if err := d.SaveRequest(req); err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return helpers.NewDatabaseError("begin outcome", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO provider_tasks (request_id, provider_id, status, quotes, error, attempts, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id, provider_id) DO UPDATE SET
			status = excluded.status,
			quotes = excluded.quotes,
			error = excluded.error,
			attempts = excluded.attempts,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`)
	if err != nil {
		return helpers.NewDatabaseError("prepare outcome", err)
	}
	defer stmt.Close()

	for _, t := range tasks {
		row, err := encodeTask(t)
		if err != nil {
			return helpers.NewDatabaseError("encode task", err)
		}
		if _, err := stmt.Exec(row.RequestID, row.ProviderID, row.Status, row.Quotes, row.Error, row.Attempts, row.StartedAt, row.FinishedAt); err != nil {
			return helpers.NewDatabaseError("save task", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return helpers.NewDatabaseError("commit outcome", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LoadRequest(requestID string) (*models.MQuoteRequest, []models.MProviderTask, error) {
	return loadRequest(d.DB,
		`SELECT id, organization_id, requester_user_id, filters, providers, status, total_quotes, created_at, finished_at
		 FROM quote_requests WHERE id = ?`,
		`SELECT request_id, provider_id, status, quotes, error, attempts, started_at, finished_at
		 FROM provider_tasks WHERE request_id = ? ORDER BY provider_id`,
		requestID)
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) CleanupOldData() error {
	retentionDays := d.Config.Storage.RetentionDays
	cutoff := retentionCutoff(retentionDays)

	d.Logger.Info("Cleaning up requests older than %d days (created_at < %d)...", retentionDays, cutoff)

	if _, err := d.DB.Exec("DELETE FROM provider_tasks WHERE request_id IN (SELECT id FROM quote_requests WHERE created_at < ?)", cutoff); err != nil {
		d.Logger.Error("Cleanup provider_tasks error: %v", err)
	}
	if _, err := d.DB.Exec("DELETE FROM quote_requests WHERE created_at < ?", cutoff); err != nil {
		d.Logger.Error("Cleanup quote_requests error: %v", err)
	}

	d.Logger.Info("Cleanup completed")
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
