package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

// DateTimeLayout is the textual date format HistoricalKlines accepts.
const DateTimeLayout = "02 Jan 2006 15:04:05"

var dateLayouts = []string{DateTimeLayout, "2 Jan 2006 15:04:05", "2 Jan 2006"}

// DateToMilliseconds parses "02 Jan 2006 15:04:05" (or a bare date) as UTC epoch milliseconds.
func DateToMilliseconds(value string) (int64, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("cannot parse date %q", value)
}

// HistoricalKlines returns every candle of interval between start and end, paging
// through the klines endpoint limit records at a time. start is clamped to the
// first candle the exchange has for symbol; an end at or before start yields nothing.
func (c *Client) HistoricalKlines(ctx context.Context, symbol, interval, start, end string, limit int) ([]models.RawKline, error) {
	const op = "binance.historical_klines"

	if symbol == "" {
		return nil, failure.New(failure.RequestFormationFailed, op, "symbol is required")
	}
	step, ok := models.IntervalDuration(interval)
	if !ok {
		return nil, failure.New(failure.RequestFormationFailed, op, fmt.Sprintf("unsupported interval %q", interval))
	}
	if limit <= 0 || limit > MaxPageLimit {
		return nil, failure.New(failure.RequestFormationFailed, op, fmt.Sprintf("limit must be between 1 and %d", MaxPageLimit))
	}
	startTs, err := DateToMilliseconds(start)
	if err != nil {
		return nil, failure.Wrap(failure.RequestFormationFailed, op, err)
	}
	var endTs int64
	if end != "" {
		if endTs, err = DateToMilliseconds(end); err != nil {
			return nil, failure.Wrap(failure.RequestFormationFailed, op, err)
		}
	}

	firstValid, found, err := c.earliestValidTimestamp(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	if firstValid > startTs {
		startTs = firstValid
	}
	if endTs != 0 && endTs <= startTs {
		return nil, nil
	}

	log := c.log.WithFields(logrus.Fields{"symbol": symbol, "interval": interval})

	var output []models.RawKline
	for page := 1; ; page++ {
		batch, err := c.klines(ctx, symbol, interval, limit, startTs, endTs)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		output = append(output, batch...)
		log.WithFields(logrus.Fields{"page": page, "rows": len(batch), "total": len(output)}).Debug("📥 Kline page received")

		if len(batch) < limit {
			break
		}
		startTs = batch[len(batch)-1].OpenTime + step.Milliseconds()
		if endTs != 0 && startTs > endTs {
			break
		}
	}
	return output, nil
}

func (c *Client) earliestValidTimestamp(ctx context.Context, symbol, interval string) (int64, bool, error) {
	first, err := c.klines(ctx, symbol, interval, 1, 0, 0)
	if err != nil {
		return 0, false, err
	}
	if len(first) == 0 {
		return 0, false, nil
	}
	return first[0].OpenTime, true, nil
}

func (c *Client) klines(ctx context.Context, symbol, interval string, limit int, startTs, endTs int64) ([]models.RawKline, error) {
	svc := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		StartTime(startTs)
	if endTs != 0 {
		svc = svc.EndTime(endTs)
	}

	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("binance.klines", err)
	}

	out := make([]models.RawKline, 0, len(rows))
	for _, k := range rows {
		out = append(out, toRawKline(k))
	}
	return out, nil
}

// toRawKline keeps the exchange's text values untouched. The client library drops
// the twelfth, always-zero "ignore" field, so it is restored as "0".
func toRawKline(k *gobinance.Kline) models.RawKline {
	return models.RawKline{
		OpenTime:                 k.OpenTime,
		Open:                     k.Open,
		High:                     k.High,
		Low:                      k.Low,
		Close:                    k.Close,
		Volume:                   k.Volume,
		CloseTime:                k.CloseTime,
		QuoteAssetVolume:         k.QuoteAssetVolume,
		TradeCount:               k.TradeNum,
		TakerBuyBaseAssetVolume:  k.TakerBuyBaseAssetVolume,
		TakerBuyQuoteAssetVolume: k.TakerBuyQuoteAssetVolume,
		Ignore:                   "0",
	}
}
