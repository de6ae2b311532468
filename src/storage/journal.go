package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/interfaces"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"
)

// NewRequestStore picks the journal backend named by storage.db_type.
func NewRequestStore(cfg *models.MConfig, log *logger.Logger) (interfaces.IRequestStore, error) {
	switch cfg.Storage.DBType {
	case "sqlite":
		return NewAsyncSQLiteDB(cfg, log)
	case "postgres":
		return NewPostgresDB(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Storage.DBType)
	}
}

// -----------------------------------------------------------------------------
// Row encoding shared by both backends. Times are unix millis, 0 when unset.
// -----------------------------------------------------------------------------

type requestRow struct {
	ID              string
	OrganizationID  string
	RequesterUserID string
	Filters         string
	Providers       string
	Status          string
	TotalQuotes     int
	CreatedAt       int64
	FinishedAt      int64
}

type taskRow struct {
	RequestID  string
	ProviderID string
	Status     string
	Quotes     string
	Error      string
	Attempts   int
	StartedAt  int64
	FinishedAt int64
}

// -----------------------------------------------------------------------------

func encodeRequest(req models.MQuoteRequest) (requestRow, error) {
	filters, err := json.Marshal(req.Filters)
	if err != nil {
		return requestRow{}, err
	}
	providers, err := json.Marshal(req.Providers)
	if err != nil {
		return requestRow{}, err
	}
	return requestRow{
		ID:              req.ID,
		OrganizationID:  req.OrganizationID,
		RequesterUserID: req.RequesterUserID,
		Filters:         string(filters),
		Providers:       string(providers),
		Status:          string(req.Status),
		TotalQuotes:     req.TotalQuotes,
		CreatedAt:       toMillis(req.CreatedAt),
		FinishedAt:      toMillis(req.FinishedAt),
	}, nil
}

func decodeRequest(row requestRow) (*models.MQuoteRequest, error) {
	req := &models.MQuoteRequest{
		ID:              row.ID,
		OrganizationID:  row.OrganizationID,
		RequesterUserID: row.RequesterUserID,
		Status:          models.RequestStatus(row.Status),
		TotalQuotes:     row.TotalQuotes,
		CreatedAt:       fromMillis(row.CreatedAt),
		FinishedAt:      fromMillis(row.FinishedAt),
	}
	if err := json.Unmarshal([]byte(row.Filters), &req.Filters); err != nil {
		return nil, fmt.Errorf("decode filters of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Providers), &req.Providers); err != nil {
		return nil, fmt.Errorf("decode providers of %s: %w", row.ID, err)
	}
	return req, nil
}

// -----------------------------------------------------------------------------

func encodeTask(t models.MProviderTask) (taskRow, error) {
	quotes := []models.MQuote{}
	if t.Quotes != nil {
		quotes = t.Quotes
	}
	data, err := json.Marshal(quotes)
	if err != nil {
		return taskRow{}, err
	}
	return taskRow{
		RequestID:  t.RequestID,
		ProviderID: t.ProviderID,
		Status:     string(t.Status),
		Quotes:     string(data),
		Error:      t.Error,
		Attempts:   t.Attempts,
		StartedAt:  toMillis(t.StartedAt),
		FinishedAt: toMillis(t.FinishedAt),
	}, nil
}

func decodeTask(row taskRow) (models.MProviderTask, error) {
	t := models.MProviderTask{
		RequestID:  row.RequestID,
		ProviderID: row.ProviderID,
		Status:     models.TaskStatus(row.Status),
		Error:      row.Error,
		Attempts:   row.Attempts,
		StartedAt:  fromMillis(row.StartedAt),
		FinishedAt: fromMillis(row.FinishedAt),
	}
	if err := json.Unmarshal([]byte(row.Quotes), &t.Quotes); err != nil {
		return t, fmt.Errorf("decode quotes of %s/%s: %w", row.RequestID, row.ProviderID, err)
	}
	if len(t.Quotes) == 0 {
		t.Quotes = nil
	}
	return t, nil
}

// -----------------------------------------------------------------------------

// loadRequest runs the two lookups with backend-specific queries.
func loadRequest(db *sql.DB, requestQuery, tasksQuery, requestID string) (*models.MQuoteRequest, []models.MProviderTask, error) {
	var row requestRow
	err := db.QueryRow(requestQuery, requestID).Scan(
		&row.ID, &row.OrganizationID, &row.RequesterUserID, &row.Filters, &row.Providers,
		&row.Status, &row.TotalQuotes, &row.CreatedAt, &row.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, helpers.NewNotFoundError("request %s not found", requestID)
	}
	if err != nil {
		return nil, nil, helpers.NewDatabaseError("load request", err)
	}

	req, err := decodeRequest(row)
	if err != nil {
		return nil, nil, helpers.NewDatabaseError("load request", err)
	}

	rows, err := db.Query(tasksQuery, requestID)
	if err != nil {
		return nil, nil, helpers.NewDatabaseError("load tasks", err)
	}
	defer rows.Close()

	var tasks []models.MProviderTask
	for rows.Next() {
		var tr taskRow
		if err := rows.Scan(&tr.RequestID, &tr.ProviderID, &tr.Status, &tr.Quotes, &tr.Error,
			&tr.Attempts, &tr.StartedAt, &tr.FinishedAt); err != nil {
			return nil, nil, helpers.NewDatabaseError("scan task", err)
		}
		task, err := decodeTask(tr)
		if err != nil {
			return nil, nil, helpers.NewDatabaseError("load tasks", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, helpers.NewDatabaseError("load tasks", err)
	}

	return req, tasks, nil
}

// -----------------------------------------------------------------------------

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func retentionCutoff(days int) int64 {
	if days <= 0 {
		days = 30
	}
	return time.Now().UTC().AddDate(0, 0, -days).UnixMilli()
}
