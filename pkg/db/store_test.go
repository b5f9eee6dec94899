package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barextractor.magictradebot.com/config"
	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := Open(config.DatabaseSettings{Enabled: true, Provider: "sqlite", ConnectionString: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.AutoMigrate())
	return s
}

func bars(symbol string, n int) []models.SymbolKlineBar {
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.SymbolKlineBar, n)
	for i := range out {
		ts := base.Add(time.Duration(i) * time.Minute)
		out[i] = models.SymbolKlineBar{
			Symbol:     symbol,
			Interval:   "1m",
			OpenTime:   ts.UnixMilli(),
			Timestamp:  ts,
			Open:       decimal.NewFromInt(int64(100 + i)),
			High:       decimal.RequireFromString("200.5"),
			Low:        decimal.RequireFromString("50.25"),
			Close:      decimal.NewFromInt(150),
			Volume:     decimal.RequireFromString("10.5"),
			CloseTime:  ts.Add(time.Minute).UnixMilli() - 1,
			TradeCount: 42,
			Ignore:     "0",
		}
	}
	return out
}

func TestStoreSaveAndRead(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	input := bars("BTCUSDT", 250)
	require.NoError(t, s.Save(ctx, input))

	stored, err := s.Bars(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, stored, 250)
	assert.Equal(t, input[0].OpenTime, stored[0].OpenTime)
	assert.Equal(t, input[249].OpenTime, stored[249].OpenTime)
	assert.True(t, input[7].Open.Equal(stored[7].Open))
	assert.True(t, input[7].Low.Equal(stored[7].Low))
	assert.Equal(t, int64(42), stored[7].TradeCount)

	// caller's slice is not mutated
	assert.Zero(t, input[0].ID)
}

func TestStoreSaveIsIdempotent(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	input := bars("ETHUSDT", 30)
	require.NoError(t, s.Save(ctx, input))
	require.NoError(t, s.Save(ctx, input))
	require.NoError(t, s.Save(ctx, bars("ETHUSDT", 35)))

	stored, err := s.Bars(ctx, "ETHUSDT", "1m")
	require.NoError(t, err)
	assert.Len(t, stored, 35)

	other, err := s.Bars(ctx, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStoreSaveEmpty(t *testing.T) {
	s := newMemoryStore(t)
	assert.NoError(t, s.Save(context.Background(), nil))
}

func TestStoreFile(t *testing.T) {
	logger, hook := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "klines.db")

	s, err := Open(config.DatabaseSettings{Provider: "SQLite", ConnectionString: path}, logger)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "database:sqlite", s.Name())
	require.NoError(t, s.AutoMigrate())
	require.NoError(t, s.Save(context.Background(), bars("BTCUSDT", 3)))

	assert.FileExists(t, path)
	assert.NotEmpty(t, hook.AllEntries())
}

func TestOpenUnknownProvider(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := Open(config.DatabaseSettings{Provider: "oracle"}, logger)
	require.Error(t, err)
	assert.Equal(t, failure.PersistenceFailed, failure.KindOf(err))
}
