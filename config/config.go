package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

const (
	DefaultConfigPath = "config/config.json"
	DefaultEnvFile    = ".env"

	DefaultExchange  = "binance"
	DefaultSymbol    = "BTCUSDT"
	DefaultInterval  = "1m"
	DefaultStartDate = "1 Jan 2021"
	DefaultOutputDir = "data"
	DefaultPageLimit = 1000

	// DateLayout is the calendar date format used for start_date and end_date.
	DateLayout = "2 Jan 2006"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

type RetrySettings struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type DatabaseSettings struct {
	Enabled          bool   `yaml:"enabled"`
	Provider         string `yaml:"provider"` // "sqlite", "postgresql"
	ConnectionString string `yaml:"connection_string"`
}

type StreamingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "redis", "kafka"

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
		MaxLen   int64  `yaml:"max_len"`
	} `yaml:"redis"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

type AppSettings struct {
	Exchange          string        `yaml:"exchange"`
	ApiKey            string        `yaml:"api_key"`
	ApiSecret         string        `yaml:"api_secret"`
	Symbol            string        `yaml:"symbol"`
	Interval          string        `yaml:"interval"`
	StartDate         string        `yaml:"start_date"`
	EndDate           string        `yaml:"end_date"`
	OutputDir         string        `yaml:"output_dir"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	PageLimit         int           `yaml:"page_limit"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	// Debug turns on the exchange client's request dumps.
	Debug             bool          `yaml:"debug"`

	Retry     RetrySettings    `yaml:"retry"`
	Database  DatabaseSettings `yaml:"database"`
	Streaming StreamingConfig  `yaml:"streaming"`
}

// StartTime is start_date at midnight UTC.
func (s *AppSettings) StartTime() (time.Time, error) {
	return ParseDate(s.StartDate)
}

// EndTime is end_date at midnight UTC.
func (s *AppSettings) EndTime() (time.Time, error) {
	return ParseDate(s.EndDate)
}

func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q is not in %q format", value, DateLayout)
	}
	return t, nil
}

// Loader resolves AppSettings from a file, falling back to the environment.
type Loader struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// EnvFile is an optional dotenv file consulted after the process env.
	EnvFile string
	// Now supplies the default end_date.
	Now func() time.Time
	Log logrus.FieldLogger
}

// LoadConfig loads settings using the real environment and clock. An empty envFile
// means DefaultEnvFile.
func LoadConfig(path, envFile string, log logrus.FieldLogger) (*AppSettings, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	l := &Loader{EnvFile: envFile, Log: log}
	return l.Load(path)
}

// Load reads path first. When the file is missing or cannot be parsed the settings
// come from API_KEY, API_SECRET, START_DATE (plus SYMBOL, INTERVAL, END_DATE,
// OUTPUT_DIR) instead. Defaults are applied and the result is validated.
func (l *Loader) Load(path string) (*AppSettings, error) {
	log := l.logger()
	log.WithField("path", path).Info("⚙️ Loading configuration")

	settings, err := readFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("⚠️ Config file unavailable, falling back to environment")
		settings = l.fromEnv()
	}

	l.applyDefaults(settings)

	if err := settings.Validate(); err != nil {
		log.WithError(err).WithField("kind", failure.KindOf(err)).Error("❌ Invalid configuration")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"symbol":   settings.Symbol,
		"interval": settings.Interval,
		"start":    settings.StartDate,
		"end":      settings.EndDate,
	}).Info("✅ Configuration loaded")
	return settings, nil
}

func readFile(path string) (*AppSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var settings AppSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &settings, nil
}

func (l *Loader) fromEnv() *AppSettings {
	lookup := l.envLookup()
	return &AppSettings{
		ApiKey:    lookup("API_KEY"),
		ApiSecret: lookup("API_SECRET"),
		StartDate: lookup("START_DATE"),
		EndDate:   lookup("END_DATE"),
		Symbol:    lookup("SYMBOL"),
		Interval:  lookup("INTERVAL"),
		OutputDir: lookup("OUTPUT_DIR"),
	}
}

// envLookup prefers the process environment and consults the dotenv file second.
func (l *Loader) envLookup() func(string) string {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	var fileVars map[string]string
	if l.EnvFile != "" {
		vars, err := godotenv.Read(l.EnvFile)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, os.ErrNotExist):
		default:
			l.logger().WithError(err).WithField("path", l.EnvFile).Warn("⚠️ Failed to read env file")
		}
	}

	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fileVars[key]
	}
}

func (l *Loader) applyDefaults(s *AppSettings) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}

	if s.Exchange == "" {
		s.Exchange = DefaultExchange
	}
	if s.Symbol == "" {
		s.Symbol = DefaultSymbol
	}
	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
	if s.Interval == "" {
		s.Interval = DefaultInterval
	}
	if code, ok := models.NormalizeInterval(s.Interval); ok {
		s.Interval = code
	}
	if s.StartDate == "" {
		s.StartDate = DefaultStartDate
	}
	if s.EndDate == "" {
		s.EndDate = now().UTC().Format(DateLayout)
	}
	if s.OutputDir == "" {
		s.OutputDir = DefaultOutputDir
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	if s.PageLimit == 0 {
		s.PageLimit = DefaultPageLimit
	}
	if s.RequestsPerSecond <= 0 {
		s.RequestsPerSecond = 10
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = 1
	}
	if s.Retry.InitialInterval <= 0 {
		s.Retry.InitialInterval = time.Second
	}
	if s.Retry.MaxInterval <= 0 {
		s.Retry.MaxInterval = 30 * time.Second
	}
}

// Validate checks the invariants the client factory and fetcher rely on.
func (s *AppSettings) Validate() error {
	const op = "config.validate"

	var missing []string
	if strings.TrimSpace(s.ApiKey) == "" {
		missing = append(missing, "api_key")
	}
	if strings.TrimSpace(s.ApiSecret) == "" {
		missing = append(missing, "api_secret")
	}
	if len(missing) > 0 {
		return failure.New(failure.ConfigurationMissing, op, "missing required settings: "+strings.Join(missing, ", "))
	}

	if !symbolPattern.MatchString(s.Symbol) {
		return failure.New(failure.ConfigurationInvalid, op, fmt.Sprintf("symbol %q must be upper-case letters and digits", s.Symbol))
	}
	if _, ok := models.NormalizeInterval(s.Interval); !ok {
		return failure.New(failure.ConfigurationInvalid, op, fmt.Sprintf("unknown interval %q", s.Interval))
	}
	if s.PageLimit < 1 || s.PageLimit > DefaultPageLimit {
		return failure.New(failure.ConfigurationInvalid, op, fmt.Sprintf("page_limit must be between 1 and %d", DefaultPageLimit))
	}

	start, err := s.StartTime()
	if err != nil {
		return failure.Wrap(failure.ConfigurationInvalid, op, fmt.Errorf("start_date: %w", err))
	}
	end, err := s.EndTime()
	if err != nil {
		return failure.Wrap(failure.ConfigurationInvalid, op, fmt.Errorf("end_date: %w", err))
	}
	if start.After(end) {
		return failure.New(failure.ConfigurationInvalid, op, fmt.Sprintf("start_date %s is after end_date %s", s.StartDate, s.EndDate))
	}
	return nil
}

func (l *Loader) logger() logrus.FieldLogger {
	if l.Log == nil {
		return logrus.StandardLogger()
	}
	return l.Log
}

// Overrides carries command line values that take precedence over the loaded settings.
type Overrides struct {
	Symbol    string
	Interval  string
	StartDate string
	EndDate   string
	OutputDir string
}

// Apply copies the non-empty overrides onto s and validates the result again.
func (s *AppSettings) Apply(o Overrides) error {
	if o.Symbol != "" {
		s.Symbol = strings.ToUpper(strings.TrimSpace(o.Symbol))
	}
	if o.Interval != "" {
		s.Interval = o.Interval
		if code, ok := models.NormalizeInterval(o.Interval); ok {
			s.Interval = code
		}
	}
	if o.StartDate != "" {
		s.StartDate = o.StartDate
	}
	if o.EndDate != "" {
		s.EndDate = o.EndDate
	}
	if o.OutputDir != "" {
		s.OutputDir = o.OutputDir
	}
	return s.Validate()
}
