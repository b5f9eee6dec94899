// Package extractor runs one batch pull: client, fetch, table, then the optional sinks.
package extractor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/config"
	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/exchanges"
	"barextractor.magictradebot.com/pkg/failure"
	"barextractor.magictradebot.com/pkg/table"
)

// Sink receives the rows of a run after the CSV file is written.
type Sink interface {
	Name() string
	Save(ctx context.Context, rows []models.SymbolKlineBar) error
	Close() error
}

// SinkOpener builds the sinks enabled in settings for one run.
type SinkOpener func(ctx context.Context, settings *config.AppSettings, runID string, log logrus.FieldLogger) ([]Sink, error)

// Report summarises a finished run.
type Report struct {
	RunID    string
	Symbol   string
	Interval string
	Path     string
	Rows     int
	Sinks    []string
	Elapsed  time.Duration
}

type Extractor struct {
	Log logrus.FieldLogger
	// NewClient defaults to exchanges.CreateClient.
	NewClient exchanges.ClientFactory
	// Writer defaults to a table.Writer over settings.OutputDir.
	Writer *table.Writer
	// OpenSinks is optional; nil means the CSV file is the only output.
	OpenSinks SinkOpener
	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

// Run executes the pipeline once. Each stage logs its own failure and returns a
// *failure.Error; nothing after a failed stage is invoked.
func (e *Extractor) Run(ctx context.Context, settings *config.AppSettings) (*Report, error) {
	began := time.Now()

	runID := e.runID()
	log := e.logger().WithFields(logrus.Fields{
		"run_id":   runID,
		"exchange": settings.Exchange,
		"symbol":   settings.Symbol,
		"interval": settings.Interval,
	})
	log.Info("🚀 Extraction started")

	if err := settings.Validate(); err != nil {
		log.WithError(err).WithField("kind", failure.KindOf(err)).Error("❌ Invalid configuration")
		return nil, err
	}
	start, _ := settings.StartTime()
	end, _ := settings.EndTime()

	client, err := e.clientFactory()(ctx, settings, log)
	if err == nil && client == nil {
		err = errors.New("exchange client factory returned no client")
	}
	if err != nil {
		log.WithError(err).Error("🛑 Cannot proceed without an exchange client")
		return nil, failure.Wrap(failure.ClientConstructionFailed, "extractor.client", err)
	}

	raw, err := e.fetch(ctx, client, settings, start, end, log)
	if err != nil {
		log.WithError(err).WithField("kind", failure.KindOf(err)).Error("🛑 Fetch failed, nothing written")
		return nil, err
	}

	out, err := e.writer(settings, log).ProcessAndSaveData(raw, settings.Symbol, settings.Interval)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:    runID,
		Symbol:   settings.Symbol,
		Interval: settings.Interval,
		Path:     out.Path,
		Rows:     len(out.Rows),
	}

	sinks, err := e.openSinks(ctx, settings, runID, log)
	if err != nil {
		log.WithError(err).Error("❌ Failed to open sinks, CSV output kept")
		return report, failure.Wrap(failure.PersistenceFailed, "extractor.sinks", err)
	}
	defer closeSinks(sinks, log)

	var sinkErrs []error
	for _, s := range sinks {
		if err := s.Save(ctx, out.Rows); err != nil {
			log.WithError(err).WithField("sink", s.Name()).Error("❌ Sink failed, CSV output kept")
			sinkErrs = append(sinkErrs, err)
			continue
		}
		report.Sinks = append(report.Sinks, s.Name())
	}

	report.Elapsed = time.Since(began)
	if len(sinkErrs) > 0 {
		return report, failure.Wrap(failure.PersistenceFailed, "extractor.sinks", errors.Join(sinkErrs...))
	}

	log.WithFields(logrus.Fields{
		"rows":    report.Rows,
		"path":    report.Path,
		"sinks":   report.Sinks,
		"elapsed": report.Elapsed.Round(time.Millisecond),
	}).Info("🏁 Extraction complete")
	return report, nil
}

// fetch runs the fetcher, retrying connectivity failures when settings.Retry allows more
// than one attempt. Every other kind is returned on the first failure.
func (e *Extractor) fetch(ctx context.Context, client exchanges.KlineClient, settings *config.AppSettings, start, end time.Time, log logrus.FieldLogger) ([]models.RawKline, error) {
	attempts := settings.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	if settings.Retry.InitialInterval > 0 {
		policy.InitialInterval = settings.Retry.InitialInterval
	}
	if settings.Retry.MaxInterval > 0 {
		policy.MaxInterval = settings.Retry.MaxInterval
	}
	policy.MaxElapsedTime = 0

	var rows []models.RawKline
	operation := func() error {
		var err error
		rows, err = exchanges.FetchData(ctx, client, settings.Symbol, settings.Interval, start, end, settings.PageLimit, log)
		if err != nil && failure.KindOf(err) != failure.ConnectivityFailed {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("wait", wait).Warn("🔁 Retrying fetch after connectivity failure")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		// a cancelled context comes back bare from the retry loop
		return nil, failure.Wrap(failure.ConnectivityFailed, "extractor.fetch", err)
	}
	return rows, nil
}

func (e *Extractor) openSinks(ctx context.Context, settings *config.AppSettings, runID string, log logrus.FieldLogger) ([]Sink, error) {
	if e.OpenSinks == nil {
		return nil, nil
	}
	return e.OpenSinks(ctx, settings, runID, log)
}

func closeSinks(sinks []Sink, log logrus.FieldLogger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.WithError(err).WithField("sink", s.Name()).Warn("⚠️ Failed to close sink")
		}
	}
}

func (e *Extractor) clientFactory() exchanges.ClientFactory {
	if e.NewClient == nil {
		return exchanges.CreateClient
	}
	return e.NewClient
}

func (e *Extractor) writer(settings *config.AppSettings, log logrus.FieldLogger) *table.Writer {
	if e.Writer != nil {
		return e.Writer
	}
	return &table.Writer{Dir: settings.OutputDir, Log: log}
}

func (e *Extractor) runID() string {
	if e.NewRunID == nil {
		return uuid.NewString()
	}
	return e.NewRunID()
}

func (e *Extractor) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}
