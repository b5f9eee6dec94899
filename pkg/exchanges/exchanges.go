package exchanges

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/config"
	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/binance"
	"barextractor.magictradebot.com/pkg/failure"
)

// KlineClient is an authenticated exchange session able to serve historical candles.
// Pagination and rate limiting are the implementation's concern.
type KlineClient interface {
	HistoricalKlines(ctx context.Context, symbol, interval, start, end string, limit int) ([]models.RawKline, error)
}

// ClientFactory builds a KlineClient from settings.
type ClientFactory func(ctx context.Context, settings *config.AppSettings, log logrus.FieldLogger) (KlineClient, error)

// CreateClient is the default ClientFactory. Every failure is logged and returned
// as a ClientConstructionFailed error.
func CreateClient(ctx context.Context, settings *config.AppSettings, log logrus.FieldLogger) (KlineClient, error) {
	const op = "exchanges.create_client"

	ex := strings.ToLower(settings.Exchange)
	log = log.WithField("exchange", ex)
	log.Info("🔐 Creating exchange client")

	var (
		client KlineClient
		err    error
	)
	switch ex {
	case "binance":
		client, err = binance.NewClient(ctx, binance.Options{
			APIKey:            settings.ApiKey,
			APISecret:         settings.ApiSecret,
			BaseURL:           settings.BaseURL,
			Timeout:           settings.Timeout,
			RequestsPerSecond: settings.RequestsPerSecond,
			Debug:             settings.Debug,
		}, log)
	default:
		err = fmt.Errorf("unsupported exchange: %s", settings.Exchange)
	}

	if err != nil {
		ferr := &failure.Error{Kind: failure.ClientConstructionFailed, Op: op, Err: err}
		log.WithError(err).WithField("kind", ferr.Kind).Error("❌ Error creating client")
		return nil, ferr
	}
	return client, nil
}
