// Package table turns raw klines into the labeled, time-indexed output table and
// persists it as CSV.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

// TimestampLayout formats the row key column.
const TimestampLayout = "2006-01-02 15:04:05"

// Columns is the fixed column order of the output file.
var Columns = []string{
	"timestamp",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"close_time",
	"quote_asset_volume",
	"number_of_trades",
	"taker_buy_base_volume",
	"taker_buy_quote_volume",
	"ignore",
}

func FileName(symbol string) string {
	return symbol + "_MinuteBars.csv"
}

// Build converts raw klines into table rows keyed by their UTC open time. Input order
// is kept as is.
func Build(raw []models.RawKline, symbol, interval string) ([]models.SymbolKlineBar, error) {
	const op = "table.build"

	rows := make([]models.SymbolKlineBar, 0, len(raw))
	for i, k := range raw {
		row, err := buildRow(k, symbol, interval)
		if err != nil {
			return nil, failure.Wrap(failure.TransformationFailed, op, fmt.Errorf("record %d: %w", i, err))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func buildRow(k models.RawKline, symbol, interval string) (models.SymbolKlineBar, error) {
	if k.OpenTime <= 0 {
		return models.SymbolKlineBar{}, fmt.Errorf("invalid open_time %d", k.OpenTime)
	}

	var (
		values = []string{k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume, k.TakerBuyBaseAssetVolume, k.TakerBuyQuoteAssetVolume}
		parsed [8]decimal.Decimal
	)
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return models.SymbolKlineBar{}, fmt.Errorf("field %q: %w", numericColumns[i], err)
		}
		parsed[i] = d
	}

	ignore := k.Ignore
	if ignore == "" {
		ignore = "0"
	}

	return models.SymbolKlineBar{
		Symbol:                   symbol,
		Interval:                 interval,
		OpenTime:                 k.OpenTime,
		Timestamp:                time.UnixMilli(k.OpenTime).UTC(),
		Open:                     parsed[0],
		High:                     parsed[1],
		Low:                      parsed[2],
		Close:                    parsed[3],
		Volume:                   parsed[4],
		CloseTime:                k.CloseTime,
		QuoteAssetVolume:         parsed[5],
		TradeCount:               k.TradeCount,
		TakerBuyBaseAssetVolume:  parsed[6],
		TakerBuyQuoteAssetVolume: parsed[7],
		Ignore:                   ignore,
	}, nil
}

var numericColumns = []string{"open", "high", "low", "close", "volume", "quote_asset_volume", "taker_buy_base_volume", "taker_buy_quote_volume"}

// Record renders a row in Columns order. Decimals keep the scale they were parsed
// with, so exchange text such as "42050.00000000" is written back unchanged.
func Record(r models.SymbolKlineBar) []string {
	return []string{
		r.Timestamp.UTC().Format(TimestampLayout),
		formatDecimal(r.Open),
		formatDecimal(r.High),
		formatDecimal(r.Low),
		formatDecimal(r.Close),
		formatDecimal(r.Volume),
		strconv.FormatInt(r.CloseTime, 10),
		formatDecimal(r.QuoteAssetVolume),
		strconv.FormatInt(r.TradeCount, 10),
		formatDecimal(r.TakerBuyBaseAssetVolume),
		formatDecimal(r.TakerBuyQuoteAssetVolume),
		r.Ignore,
	}
}

func formatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// Encode writes the header and rows to w.
func Encode(w io.Writer, rows []models.SymbolKlineBar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(Record(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode reads a table written by Encode. Symbol and interval are not part of the
// file and are left empty.
func Decode(r io.Reader) ([]models.SymbolKlineBar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty table")
		}
		return nil, err
	}
	for i, name := range Columns {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %d: %q, want %q", i, header[i], name)
		}
	}

	var rows []models.SymbolKlineBar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
}

func parseRecord(rec []string) (models.SymbolKlineBar, error) {
	ts, err := time.ParseInLocation(TimestampLayout, rec[0], time.UTC)
	if err != nil {
		return models.SymbolKlineBar{}, err
	}
	closeTime, err := strconv.ParseInt(rec[6], 10, 64)
	if err != nil {
		return models.SymbolKlineBar{}, err
	}
	trades, err := strconv.ParseInt(rec[8], 10, 64)
	if err != nil {
		return models.SymbolKlineBar{}, err
	}

	raw := models.RawKline{
		OpenTime:                 ts.UnixMilli(),
		Open:                     rec[1],
		High:                     rec[2],
		Low:                      rec[3],
		Close:                    rec[4],
		Volume:                   rec[5],
		CloseTime:                closeTime,
		QuoteAssetVolume:         rec[7],
		TradeCount:               trades,
		TakerBuyBaseAssetVolume:  rec[9],
		TakerBuyQuoteAssetVolume: rec[10],
		Ignore:                   rec[11],
	}
	return buildRow(raw, "", "")
}

// ReadCSV loads a table previously written by Writer.
func ReadCSV(path string) ([]models.SymbolKlineBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceFailed, "table.read", err)
	}
	defer f.Close()

	rows, err := Decode(f)
	if err != nil {
		return nil, failure.Wrap(failure.TransformationFailed, "table.read", fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	return rows, nil
}
