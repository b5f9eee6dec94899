package table

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

var firstOpen = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

func rawKlines(n int) []models.RawKline {
	out := make([]models.RawKline, n)
	for i := range out {
		open := firstOpen + int64(i)*60_000
		out[i] = models.RawKline{
			OpenTime:                 open,
			Open:                     fmt.Sprintf("%d.10000000", 42000+i),
			High:                     "42100.50000000",
			Low:                      "41900.25000000",
			Close:                    "42050.00000000",
			Volume:                   "12.34500000",
			CloseTime:                open + 59_999,
			QuoteAssetVolume:         "519000.12000000",
			TradeCount:               int64(300 + i),
			TakerBuyBaseAssetVolume:  "6.10000000",
			TakerBuyQuoteAssetVolume: "256000.00000000",
			Ignore:                   "0",
		}
	}
	return out
}

func TestBuildKeepsOrderAndParsesTimestamp(t *testing.T) {
	raw := rawKlines(5)
	rows, err := Build(raw, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, rows, 5)

	for i, r := range rows {
		assert.Equal(t, raw[i].OpenTime, r.OpenTime)
		assert.Equal(t, time.UnixMilli(raw[i].OpenTime).UTC(), r.Timestamp)
		assert.Equal(t, "BTCUSDT", r.Symbol)
		assert.Equal(t, "1m", r.Interval)
	}
	assert.Equal(t, "2024-01-01 00:04:00", rows[4].Timestamp.Format(TimestampLayout))
	assert.Equal(t, "42004.1", rows[4].Open.String())
	assert.Equal(t, int64(304), rows[4].TradeCount)
}

func TestBuildDoesNotSort(t *testing.T) {
	raw := rawKlines(3)
	raw[0], raw[2] = raw[2], raw[0]

	rows, err := Build(raw, "BTCUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, raw[0].OpenTime, rows[0].OpenTime)
	assert.Equal(t, raw[2].OpenTime, rows[2].OpenTime)
}

func TestBuildMalformedRecord(t *testing.T) {
	cases := map[string]func(*models.RawKline){
		"bad price":      func(k *models.RawKline) { k.High = "n/a" },
		"empty volume":   func(k *models.RawKline) { k.Volume = "" },
		"zero open time": func(k *models.RawKline) { k.OpenTime = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			raw := rawKlines(3)
			mutate(&raw[1])

			rows, err := Build(raw, "BTCUSDT", "1m")
			require.Error(t, err)
			assert.Nil(t, rows)
			assert.Equal(t, failure.TransformationFailed, failure.KindOf(err))
			assert.Contains(t, err.Error(), "record 1")
		})
	}
}

func TestProcessAndSaveDataWritesTable(t *testing.T) {
	logger, hook := test.NewNullLogger()
	dir := filepath.Join(t.TempDir(), "nested", "data")
	w := &Writer{Dir: dir, Log: logger}

	out, err := w.ProcessAndSaveData(rawKlines(3), "ETHUSDT", "1m")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ETHUSDT_MinuteBars.csv"), out.Path)
	assert.Len(t, out.Rows, 3)

	data, err := os.ReadFile(out.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(Columns, ","), lines[0])
	assert.Equal(t,
		"2024-01-01 00:00:00,42000.10000000,42100.50000000,41900.25000000,42050.00000000,12.34500000,1704067259999,519000.12000000,300,6.10000000,256000.00000000,0",
		lines[1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, out.Path, hook.LastEntry().Data["path"])
}

func TestRoundTrip(t *testing.T) {
	logger, _ := test.NewNullLogger()
	w := &Writer{Dir: t.TempDir(), Log: logger}

	raw := rawKlines(50)
	out, err := w.ProcessAndSaveData(raw, "BTCUSDT", "1m")
	require.NoError(t, err)

	back, err := ReadCSV(out.Path)
	require.NoError(t, err)
	require.Len(t, back, len(raw))

	for i, r := range back {
		want := out.Rows[i]
		assert.Equal(t, want.OpenTime, r.OpenTime)
		assert.True(t, want.Timestamp.Equal(r.Timestamp))
		assert.True(t, want.Open.Equal(r.Open))
		assert.True(t, want.High.Equal(r.High))
		assert.True(t, want.Low.Equal(r.Low))
		assert.True(t, want.Close.Equal(r.Close))
		assert.True(t, want.Volume.Equal(r.Volume))
		assert.Equal(t, want.CloseTime, r.CloseTime)
		assert.True(t, want.QuoteAssetVolume.Equal(r.QuoteAssetVolume))
		assert.Equal(t, want.TradeCount, r.TradeCount)
		assert.True(t, want.TakerBuyBaseAssetVolume.Equal(r.TakerBuyBaseAssetVolume))
		assert.True(t, want.TakerBuyQuoteAssetVolume.Equal(r.TakerBuyQuoteAssetVolume))
		assert.Equal(t, want.Ignore, r.Ignore)
	}
}

func TestProcessAndSaveDataIdempotent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	w := &Writer{Dir: t.TempDir(), Log: logger}

	first, err := w.ProcessAndSaveData(rawKlines(20), "BTCUSDT", "1m")
	require.NoError(t, err)
	a, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	second, err := w.ProcessAndSaveData(rawKlines(20), "BTCUSDT", "1m")
	require.NoError(t, err)
	b, err := os.ReadFile(second.Path)
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, a, b)
}

func TestProcessAndSaveDataTransformFailureWritesNothing(t *testing.T) {
	logger, hook := test.NewNullLogger()
	dir := t.TempDir()
	w := &Writer{Dir: dir, Log: logger}

	raw := rawKlines(2)
	raw[1].Close = "abc"
	out, err := w.ProcessAndSaveData(raw, "BTCUSDT", "1m")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, failure.TransformationFailed, failure.KindOf(err))
	assert.NoFileExists(t, filepath.Join(dir, FileName("BTCUSDT")))
	assert.Equal(t, failure.TransformationFailed, hook.LastEntry().Data["kind"])
}

func TestProcessAndSaveDataPersistenceFailure(t *testing.T) {
	logger, _ := test.NewNullLogger()
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	w := &Writer{Dir: filepath.Join(blocker, "sub"), Log: logger}
	_, err := w.ProcessAndSaveData(rawKlines(1), "BTCUSDT", "1m")
	require.Error(t, err)
	assert.Equal(t, failure.PersistenceFailed, failure.KindOf(err))
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode(strings.NewReader(""))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader("a,b,c,d,e,f,g,h,i,j,k,l\n"))
	assert.Error(t, err)

	var buf bytes.Buffer
	rows, err := Build(rawKlines(1), "BTCUSDT", "1m")
	require.NoError(t, err)
	require.NoError(t, Encode(&buf, rows))
	broken := strings.Replace(buf.String(), "2024-01-01 00:00:00", "yesterday", 1)
	_, err = Decode(strings.NewReader(broken))
	assert.ErrorContains(t, err, "line 2")
}

func TestReadCSVMissingFile(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.Equal(t, failure.PersistenceFailed, failure.KindOf(err))
}
