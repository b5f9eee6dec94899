package exchanges

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/binance"
	"barextractor.magictradebot.com/pkg/failure"
)

var kindMessages = map[failure.Kind]string{
	failure.RequestFormationFailed: "❌ Request formation error while fetching klines",
	failure.APIRejected:            "❌ Exchange API rejected the kline request",
	failure.ConnectivityFailed:     "🔌 Connectivity error while fetching klines",
	failure.Unclassified:           "❌ Unexpected error while fetching klines",
}

// FetchData requests every candle of interval between start and end in one logical
// call. A zero end leaves the range open. Errors come back tagged with a failure.Kind
// and are logged once here.
func FetchData(ctx context.Context, client KlineClient, symbol, interval string, start, end time.Time, limit int, log logrus.FieldLogger) ([]models.RawKline, error) {
	const op = "exchanges.fetch_data"

	startStr := start.UTC().Format(binance.DateTimeLayout)
	endStr := ""
	if !end.IsZero() {
		endStr = end.UTC().Format(binance.DateTimeLayout)
	}

	log = log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"interval": interval,
		"start":    startStr,
		"end":      endStr,
	})
	log.Info("📥 Fetching historical klines")

	begin := time.Now()
	rows, err := client.HistoricalKlines(ctx, symbol, interval, startStr, endStr, limit)
	if err != nil {
		ferr := failure.Classify(op, err)
		msg, ok := kindMessages[ferr.Kind]
		if !ok {
			msg = kindMessages[failure.Unclassified]
		}
		log.WithError(err).WithField("kind", ferr.Kind).Error(msg)
		return nil, ferr
	}

	log.WithFields(logrus.Fields{
		"rows":    len(rows),
		"elapsed": time.Since(begin).Round(time.Millisecond),
	}).Info("✅ Klines fetched")
	return rows, nil
}
