package table

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

// Output describes a table written to disk.
type Output struct {
	Path string
	Rows []models.SymbolKlineBar
}

// Writer persists output tables under Dir.
type Writer struct {
	Dir string
	Log logrus.FieldLogger
}

// ProcessAndSaveData builds the table from raw and writes it to Dir/<symbol>_MinuteBars.csv.
// The file is replaced atomically, so a failed run leaves any previous file untouched.
func (w *Writer) ProcessAndSaveData(raw []models.RawKline, symbol, interval string) (*Output, error) {
	const op = "table.save"

	log := w.logger().WithFields(logrus.Fields{"symbol": symbol, "interval": interval})

	rows, err := Build(raw, symbol, interval)
	if err != nil {
		log.WithError(err).WithField("kind", failure.TransformationFailed).Error("❌ Failed to transform klines")
		return nil, err
	}

	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, FileName(symbol))

	if err := writeFile(dir, path, rows); err != nil {
		ferr := failure.Wrap(failure.PersistenceFailed, op, err)
		log.WithError(err).WithFields(logrus.Fields{"kind": ferr.Kind, "path": path}).Error("❌ Failed to save table")
		return nil, ferr
	}

	log.WithFields(logrus.Fields{"path": path, "rows": len(rows)}).Info("💾 Table saved")
	return &Output{Path: path, Rows: rows}, nil
}

func writeFile(dir, path string, rows []models.SymbolKlineBar) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (w *Writer) logger() logrus.FieldLogger {
	if w.Log == nil {
		return logrus.StandardLogger()
	}
	return w.Log
}
