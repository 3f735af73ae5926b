package clientdata

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema creates all cache tables needed for testing
const testSchema = `
CREATE TABLE current_prices (ticker TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE price_by_date (ticker_date TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE percentage_change (ticker_timeframe TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);

CREATE INDEX idx_current_prices_expires ON current_prices(expires_at);
CREATE INDEX idx_price_by_date_expires ON price_by_date(expires_at);
CREATE INDEX idx_percentage_change_expires ON percentage_change(expires_at);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.SetMaxOpenConns(1)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.Store(TableCurrentPrices, "AAPL", 180.25, TTLCurrentPrice)
	require.NoError(t, err)

	data, err := repo.GetIfFresh(TableCurrentPrices, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, data)

	var price float64
	require.NoError(t, json.Unmarshal(data, &price))
	assert.Equal(t, 180.25, price)
}

func TestGetIfFreshMissingKey(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	data, err := repo.GetIfFresh(TableCurrentPrices, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestGetIfFreshExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.Store(TableCurrentPrices, "AAPL", 180.25, -time.Minute)
	require.NoError(t, err)

	data, err := repo.GetIfFresh(TableCurrentPrices, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestGetReturnsStaleData(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.Store(TableCurrentPrices, "AAPL", 180.25, -time.Minute)
	require.NoError(t, err)

	data, err := repo.Get(TableCurrentPrices, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, data, "stale data still retrievable as a fallback")
}

func TestStoreReplacesExistingKey(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(TableCurrentPrices, "AAPL", 180.0, TTLCurrentPrice))
	require.NoError(t, repo.Store(TableCurrentPrices, "AAPL", 181.5, TTLCurrentPrice))

	data, err := repo.GetIfFresh(TableCurrentPrices, "AAPL")
	require.NoError(t, err)

	var price float64
	require.NoError(t, json.Unmarshal(data, &price))
	assert.Equal(t, 181.5, price)
}

func TestCompositeKeyTables(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	key := DateKey("AAPL", "2024-03-01")
	assert.Equal(t, "AAPL:2024-03-01", key)
	require.NoError(t, repo.Store(TablePriceByDate, key, map[string]any{"found": true}, TTLPriceByDate))

	data, err := repo.GetIfFresh(TablePriceByDate, key)
	require.NoError(t, err)
	assert.NotNil(t, data)

	tfKey := TimeframeKey("AAPL", "1w")
	assert.Equal(t, "AAPL:1w", tfKey)
	require.NoError(t, repo.Store(TablePercentageChange, tfKey, 4.2, TTLPercentageChange))

	data, err = repo.GetIfFresh(TablePercentageChange, tfKey)
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestInvalidTableRejected(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.Store("users; DROP TABLE users", "key", "data", time.Minute)
	assert.Error(t, err)

	_, err = repo.GetIfFresh("nonexistent", "key")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(TableCurrentPrices, "AAPL", 180.0, TTLCurrentPrice))
	require.NoError(t, repo.Delete(TableCurrentPrices, "AAPL"))

	data, err := repo.Get(TableCurrentPrices, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestDeleteExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(TableCurrentPrices, "STALE", 1.0, -time.Minute))
	require.NoError(t, repo.Store(TableCurrentPrices, "FRESH", 2.0, time.Minute))

	deleted, err := repo.DeleteExpired(TableCurrentPrices)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	data, err := repo.Get(TableCurrentPrices, "FRESH")
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestDeleteAllExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store(TableCurrentPrices, "STALE", 1.0, -time.Minute))
	require.NoError(t, repo.Store(TablePriceByDate, DateKey("AAPL", "2024-03-01"), 1.0, -time.Minute))

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[TableCurrentPrices])
	assert.Equal(t, int64(1), results[TablePriceByDate])
	assert.Equal(t, int64(0), results[TablePercentageChange])
}
