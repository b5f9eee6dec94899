package db

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"barextractor.magictradebot.com/config"
	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

const batchSize = 100

// Store mirrors extracted bars into a SQL database.
type Store struct {
	db       *gorm.DB
	provider string
	log      logrus.FieldLogger
}

// Open connects to the configured provider ("sqlite" or "postgresql") and pings it.
func Open(settings config.DatabaseSettings, log logrus.FieldLogger) (*Store, error) {
	const op = "db.open"

	provider := strings.ToLower(strings.TrimSpace(settings.Provider))
	conn := settings.ConnectionString
	log = log.WithField("provider", provider)

	var dialector gorm.Dialector
	switch provider {
	case "sqlite":
		if conn != ":memory:" {
			if _, err := os.Stat(conn); os.IsNotExist(err) {
				log.Warnf("⚠️ SQLite DB file '%s' does not exist. Will be created on first write.", conn)
			}
		}
		dialector = sqlite.Open(conn)
	case "postgresql", "postgres":
		provider = "postgresql"
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: conn})
	default:
		return nil, failure.New(failure.PersistenceFailed, op, fmt.Sprintf("unknown DB provider: %s", settings.Provider))
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.WithError(err).Error("❌ Failed to open database")
		return nil, failure.Wrap(failure.PersistenceFailed, op, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceFailed, op, err)
	}
	if provider == "sqlite" {
		// one writer, and a single shared connection keeps ":memory:" databases alive
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		log.WithError(err).Error("❌ DB ping failed")
		_ = sqlDB.Close()
		return nil, failure.Wrap(failure.PersistenceFailed, op, err)
	}

	log.Info("✅ Database connected")
	return &Store{db: gdb, provider: provider, log: log}, nil
}

// AutoMigrate creates or extends the bars table. Existing data is kept.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&models.SymbolKlineBar{}); err != nil {
		return failure.Wrap(failure.PersistenceFailed, "db.migrate", err)
	}
	return nil
}

func (s *Store) Name() string {
	return "database:" + s.provider
}

// Save inserts rows in batches. Bars already stored for the same symbol, interval
// and open time are skipped, so rerunning an extraction adds nothing.
func (s *Store) Save(ctx context.Context, rows []models.SymbolKlineBar) error {
	const op = "db.save"

	if len(rows) == 0 {
		s.log.Info("📭 No klines to insert")
		return nil
	}

	data := make([]models.SymbolKlineBar, len(rows))
	copy(data, rows)
	for i := range data {
		data[i].ID = 0
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "interval"},
			{Name: "open_time"},
		},
		DoNothing: true,
	}).CreateInBatches(&data, batchSize)

	if result.Error != nil {
		return failure.Wrap(failure.PersistenceFailed, op, fmt.Errorf("insert failed: %w", result.Error))
	}

	s.log.WithFields(logrus.Fields{
		"symbol":    rows[0].Symbol,
		"interval":  rows[0].Interval,
		"attempted": len(rows),
		"inserted":  result.RowsAffected,
	}).Info("✅ Saved klines to DB")
	return nil
}

// Bars returns the stored bars for symbol and interval ordered by open time.
func (s *Store) Bars(ctx context.Context, symbol, interval string) ([]models.SymbolKlineBar, error) {
	var out []models.SymbolKlineBar
	err := s.db.WithContext(ctx).
		Where(&models.SymbolKlineBar{Symbol: symbol, Interval: interval}).
		Order("open_time").
		Find(&out).Error
	if err != nil {
		return nil, failure.Wrap(failure.PersistenceFailed, "db.bars", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
