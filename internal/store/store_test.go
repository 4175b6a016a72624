package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/stoskr/skinarb/internal/model"
)

func sampleRecord() model.StorageRecord {
	return model.StorageRecord{
		ItemName:      "AK-47 | Redline",
		Quality:       "Field-Tested",
		StatTrak:      false,
		ROIPercent:    8.75,
		ProfitEUR:     0.875,
		CheapURL:      "https://buff.163.com/goods/1",
		SteamURL:      "https://steamcommunity.com/market/listings/730/AK-47",
		CheapPriceEUR: 10.00,
		SteamPriceEUR: 12.50,
		ScrapedAt:     time.Now().UTC(),
		Source:        "scraper",
	}
}

func TestSaveBatch_EmptyIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	backend := New(mock)
	require.NoError(t, backend.SaveBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatch_SendsOneBatchPerCall(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	records := []model.StorageRecord{sampleRecord(), sampleRecord()}

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	batch.ExpectExec(`INSERT INTO arbitrage_results`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(`INSERT INTO arbitrage_results`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	backend := New(mock)
	err = backend.SaveBatch(context.Background(), records)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatch_BatchExecFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectBatch().
		ExpectExec(`INSERT INTO arbitrage_results`).
		WillReturnError(errBoom)
	mock.ExpectRollback()

	backend := New(mock)
	err = backend.SaveBatch(context.Background(), []model.StorageRecord{sampleRecord()})

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthy_PingFailureReportsFalse(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errBoom)

	backend := New(mock)
	require.False(t, backend.Healthy(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthy_PingSuccessReportsTrue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()

	backend := New(mock)
	require.True(t, backend.Healthy(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryHistory_ReturnsRowsMostRecentFirst(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{
		"item_name", "quality", "stattrak", "roi_percent", "profit_eur",
		"cheap_url", "steam_url", "cheap_price_eur", "steam_price_eur",
		"scraped_at", "source",
	}).AddRow(
		"AK-47 | Redline", "Field-Tested", false, 8.75, 0.875,
		"https://buff.163.com/goods/1", "https://steamcommunity.com/market/listings/730/AK-47",
		10.00, 12.50, time.Now().UTC(), "scraper",
	)
	mock.ExpectQuery(`SELECT item_name, quality, stattrak`).
		WithArgs("AK-47 | Redline", 20).
		WillReturnRows(rows)

	backend := New(mock)
	records, err := backend.QueryHistory(context.Background(), "AK-47 | Redline", 20)

	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "AK-47 | Redline", records[0].ItemName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryHistory_QueryFailureIsAnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT item_name, quality, stattrak`).WillReturnError(errBoom)

	backend := New(mock)
	_, err = backend.QueryHistory(context.Background(), "x", 20)
	require.Error(t, err)
}

var errBoom = boomError{}

type boomError struct{}

func (boomError) Error() string { return "store: simulated backend failure" }
