package storage

import (
	"testing"
	"time"

	"quote-aggregator/src/helpers"
	"quote-aggregator/src/logger"
	"quote-aggregator/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T) *AsyncSQLiteDB {
	t.Helper()

	cfg := &models.MConfig{Storage: models.MStorageConfig{DBType: "sqlite", DBPath: ":memory:", RetentionDays: 7}}
	db, err := NewAsyncSQLiteDB(cfg, logger.NewNop("storage"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRequest(created time.Time) models.MQuoteRequest {
	return models.MQuoteRequest{
		ID:              "req-1",
		OrganizationID:  "acme",
		RequesterUserID: "u1",
		Filters:         models.MQuoteFilters{ProductType: "term_life", CoverageAmount: 250000, TermMonths: 240},
		Providers:       []string{"alpha", "beta"},
		Status:          models.RequestPending,
		CreatedAt:       created,
	}
}

func TestSQLiteRequestLifecycle(t *testing.T) {
	db := newMemoryStore(t)
	created := time.Now().UTC().Truncate(time.Millisecond)

	req := sampleRequest(created)
	require.NoError(t, db.SaveRequest(req))

	loaded, tasks, err := db.LoadRequest(req.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, models.RequestPending, loaded.Status)
	assert.Equal(t, req.Filters, loaded.Filters)
	assert.Equal(t, req.Providers, loaded.Providers)
	assert.True(t, created.Equal(loaded.CreatedAt))
	assert.True(t, loaded.FinishedAt.IsZero())

	finished := created.Add(2 * time.Second)
	req.Status = models.RequestCompleted
	req.TotalQuotes = 2
	req.FinishedAt = finished
	outcome := []models.MProviderTask{
		{
			RequestID: req.ID, ProviderID: "alpha", Status: models.TaskSucceeded, Attempts: 1,
			Quotes: []models.MQuote{
				{ID: "a1", ProviderID: "alpha", Premium: 10, CoverageAmount: 250000, TermMonths: 240},
				{ID: "a2", ProviderID: "alpha", Premium: 12, CoverageAmount: 250000, TermMonths: 240},
			},
			StartedAt: created, FinishedAt: finished,
		},
		{
			RequestID: req.ID, ProviderID: "beta", Status: models.TaskTimedOut, Attempts: 2,
			Error: "provider beta timed out", StartedAt: created, FinishedAt: finished,
		},
	}
	require.NoError(t, db.SaveOutcome(req, outcome))

	loaded, tasks, err = db.LoadRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, loaded.Status)
	assert.Equal(t, 2, loaded.TotalQuotes)
	assert.True(t, finished.Equal(loaded.FinishedAt))

	require.Len(t, tasks, 2)
	assert.Equal(t, "alpha", tasks[0].ProviderID)
	assert.Len(t, tasks[0].Quotes, 2)
	assert.Equal(t, "beta", tasks[1].ProviderID)
	assert.Equal(t, models.TaskTimedOut, tasks[1].Status)
	assert.Nil(t, tasks[1].Quotes)
	assert.Equal(t, "provider beta timed out", tasks[1].Error)
}

func TestSQLiteSaveOutcomeIsIdempotent(t *testing.T) {
	db := newMemoryStore(t)
	req := sampleRequest(time.Now())
	req.Status = models.RequestFailed
	tasks := []models.MProviderTask{{RequestID: req.ID, ProviderID: "alpha", Status: models.TaskFailed, Error: "boom"}}

	require.NoError(t, db.SaveOutcome(req, tasks))
	require.NoError(t, db.SaveOutcome(req, tasks))

	req.Status = models.RequestExpired
	require.NoError(t, db.SaveRequest(req))

	loaded, loadedTasks, err := db.LoadRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestExpired, loaded.Status)
	assert.Len(t, loadedTasks, 1)
}

func TestSQLiteLoadMissing(t *testing.T) {
	db := newMemoryStore(t)

	_, _, err := db.LoadRequest("nope")
	require.Error(t, err)
	assert.True(t, helpers.IsNotFound(err))
}

func TestSQLiteCleanupOldData(t *testing.T) {
	db := newMemoryStore(t)

	old := sampleRequest(time.Now().AddDate(0, 0, -30))
	old.ID = "old"
	fresh := sampleRequest(time.Now())
	fresh.ID = "fresh"
	require.NoError(t, db.SaveOutcome(old, []models.MProviderTask{{RequestID: "old", ProviderID: "alpha", Status: models.TaskFailed}}))
	require.NoError(t, db.SaveRequest(fresh))

	require.NoError(t, db.CleanupOldData())

	_, _, err := db.LoadRequest("old")
	assert.True(t, helpers.IsNotFound(err))
	_, _, err = db.LoadRequest("fresh")
	assert.NoError(t, err)

	var orphans int
	require.NoError(t, db.DB.QueryRow("SELECT COUNT(*) FROM provider_tasks").Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestNewRequestStoreRejectsUnknownBackend(t *testing.T) {
	_, err := NewRequestStore(&models.MConfig{Storage: models.MStorageConfig{DBType: "mongo"}}, logger.NewNop("storage"))
	assert.Error(t, err)
}
