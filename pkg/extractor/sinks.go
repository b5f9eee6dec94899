package extractor

import (
	"context"

	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/config"
	"barextractor.magictradebot.com/pkg/db"
	"barextractor.magictradebot.com/pkg/streaming"
)

// OpenConfiguredSinks opens the database and streaming sinks enabled in settings.
// On error every sink opened so far is closed again.
func OpenConfiguredSinks(ctx context.Context, settings *config.AppSettings, runID string, log logrus.FieldLogger) ([]Sink, error) {
	var sinks []Sink

	if settings.Database.Enabled {
		store, err := db.Open(settings.Database, log)
		if err != nil {
			return nil, err
		}
		if err := store.AutoMigrate(); err != nil {
			_ = store.Close()
			return nil, err
		}
		log.Info("✅ Auto-migration complete")
		sinks = append(sinks, store)
	}

	if settings.Streaming.Enabled {
		pub, err := streaming.NewPublisher(ctx, settings.Streaming, runID, log)
		if err != nil {
			closeSinks(sinks, log)
			return nil, err
		}
		sinks = append(sinks, pub)
	}

	return sinks, nil
}
