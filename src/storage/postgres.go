package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	// One schema per deployed binary
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL DEFAULT '',
			requester_user_id TEXT NOT NULL,
			filters JSONB NOT NULL,
			providers JSONB NOT NULL,
			status TEXT NOT NULL,
			total_quotes INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0
		);
	`, d.table("quote_requests"))
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create quote_requests: %w", err)
	}

	query = fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			request_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			status TEXT NOT NULL,
			quotes JSONB NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at BIGINT NOT NULL DEFAULT 0,
			finished_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (request_id, provider_id)
		);
	`, d.table("provider_tasks"))
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create provider_tasks: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveRequest(req models.MQuoteRequest) error {
	row, err := encodeRequest(req)
	if err != nil {
		return helpers.NewDatabaseError("encode request", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, organization_id, requester_user_id, filters, providers, status, total_quotes, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_quotes = EXCLUDED.total_quotes,
			finished_at = EXCLUDED.finished_at
	`, d.table("quote_requests"))
	if _, err := d.DB.Exec(query, row.ID, row.OrganizationID, row.RequesterUserID, row.Filters, row.Providers,
		row.Status, row.TotalQuotes, row.CreatedAt, row.FinishedAt); err != nil {
		return helpers.NewDatabaseError("save request", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveOutcome(req models.MQuoteRequest, tasks []models.MProviderTask) error {
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

	query := fmt.Sprintf(`
		INSERT INTO %s (request_id, provider_id, status, quotes, error, attempts, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id, provider_id) DO UPDATE SET
			status = EXCLUDED.status,
			quotes = EXCLUDED.quotes,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`, d.table("provider_tasks"))

	stmt, err := tx.Prepare(query)
	if err != nil {
		return helpers.NewDatabaseError("prepare outcome", err)
	}
	defer stmt.Close()

	for _, t := range tasks {
		row, err := encodeTask(t)
		if err != nil {
			return helpers.NewDatabaseError("encode task", err)
		}
		if _, err := stmt.Exec(row.RequestID, row.ProviderID, row.Status, row.Quotes, row.Error,
			row.Attempts, row.StartedAt, row.FinishedAt); err != nil {
			return helpers.NewDatabaseError("save task", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return helpers.NewDatabaseError("commit outcome", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LoadRequest(requestID string) (*models.MQuoteRequest, []models.MProviderTask, error) {
	return loadRequest(d.DB,
		fmt.Sprintf(`SELECT id, organization_id, requester_user_id, filters::text, providers::text, status, total_quotes, created_at, finished_at
		 FROM %s WHERE id = $1`, d.table("quote_requests")),
		fmt.Sprintf(`SELECT request_id, provider_id, status, quotes::text, error, attempts, started_at, finished_at
		 FROM %s WHERE request_id = $1 ORDER BY provider_id`, d.table("provider_tasks")),
		requestID)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData() error {
	retentionDays := d.Config.Storage.RetentionDays
	cutoff := retentionCutoff(retentionDays)

	d.Logger.Info("Cleaning up requests older than %d days (created_at < %d)...", retentionDays, cutoff)

	query := fmt.Sprintf(`DELETE FROM %s WHERE request_id IN (SELECT id FROM %s WHERE created_at < $1)`,
		d.table("provider_tasks"), d.table("quote_requests"))
	if _, err := d.DB.Exec(query, cutoff); err != nil {
		d.Logger.Error("Cleanup provider_tasks error: %v", err)
	}
	if _, err := d.DB.Exec(fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, d.table("quote_requests")), cutoff); err != nil {
		d.Logger.Error("Cleanup quote_requests error: %v", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
