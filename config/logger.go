package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const DefaultLogFile = "application.log"

type LoggerResult struct {
	Logger *logrus.Logger
	closer io.Closer
}

// Close flushes and closes the rotating log file, if one was opened.
func (r *LoggerResult) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// InitLogger logs to stdout and, when logFile is set, to a rotating file as well.
func InitLogger(isDebug bool, logFile string) (*LoggerResult, error) {
	logger := logrus.New()

	// Console formatter (colorized)
	consoleFormatter := &logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	}
	logger.SetFormatter(consoleFormatter)
	logger.SetOutput(os.Stdout)

	result := &LoggerResult{Logger: logger}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			// fallback to console only
			logger.WithError(err).Warn("⚠️ Failed to create log directory, logging to console only")
		} else {
			file := &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    50, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
			}
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
			result.closer = file
		}
	}

	if isDebug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return result, nil
}
