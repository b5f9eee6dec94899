package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"barextractor.magictradebot.com/config"
	"barextractor.magictradebot.com/pkg/extractor"
	"barextractor.magictradebot.com/pkg/failure"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) (code int) {
	// 🔒 Panic protection
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "🔥 Panic recovered: %v\n", r)
			code = 1
		}
	}()

	if err := newApp().Run(args); err != nil {
		return 1
	}
	return 0
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "barextractor",
		Usage: "download historical candlesticks into <symbol>_MinuteBars.csv",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: config.DefaultConfigPath, Usage: "settings file (YAML or JSON)"},
			&cli.StringFlag{Name: "env-file", Value: config.DefaultEnvFile, Usage: "dotenv file consulted when the settings file is unavailable"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
			&cli.StringFlag{Name: "log-file", Value: config.DefaultLogFile, Usage: "rotating log file, empty for console only"},
		}, extractFlags()...),
		Action: extractAction,
		Commands: []*cli.Command{
			{
				Name:   "extract",
				Usage:  "run one extraction (default)",
				Flags:  extractFlags(),
				Action: extractAction,
			},
			{
				Name:  "init-config",
				Usage: "write a settings template to --config",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
				},
				Action: initConfigAction,
			},
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func extractFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "symbol", Usage: "trading pair, e.g. BTCUSDT"},
		&cli.StringFlag{Name: "interval", Usage: "candle interval, e.g. 1m or \"1 minute\""},
		&cli.StringFlag{Name: "start", Usage: "start date, e.g. \"1 Jan 2021\""},
		&cli.StringFlag{Name: "end", Usage: "end date, defaults to today"},
		&cli.StringFlag{Name: "output-dir", Usage: "directory for the CSV file"},
	}
}

// lookupString returns the closest value set for name, so extract flags work on
// either side of the command name.
func lookupString(c *cli.Context, name string) string {
	for _, ctx := range c.Lineage() {
		if ctx.IsSet(name) {
			return ctx.String(name)
		}
	}
	return c.String(name)
}

func overridesFrom(c *cli.Context) config.Overrides {
	return config.Overrides{
		Symbol:    lookupString(c, "symbol"),
		Interval:  lookupString(c, "interval"),
		StartDate: lookupString(c, "start"),
		EndDate:   lookupString(c, "end"),
		OutputDir: lookupString(c, "output-dir"),
	}
}

func newLogger(c *cli.Context) (*config.LoggerResult, error) {
	return config.InitLogger(c.Bool("debug"), c.String("log-file"))
}

func extractAction(c *cli.Context) error {
	loggerResult, err := newLogger(c)
	if err != nil {
		return err
	}
	defer loggerResult.Close()
	log := loggerResult.Logger

	log.Info("📈 App started")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadConfig(c.String("config"), c.String("env-file"), log)
	if err != nil {
		log.WithField("kind", failure.KindOf(err)).Error("🛑 Configuration error, exiting")
		return err
	}

	if c.Bool("debug") {
		settings.Debug = true
	}
	if err := settings.Apply(overridesFrom(c)); err != nil {
		log.WithError(err).WithField("kind", failure.KindOf(err)).Error("🛑 Invalid command line override")
		return err
	}

	ex := &extractor.Extractor{
		Log:       log,
		OpenSinks: extractor.OpenConfiguredSinks,
	}
	report, err := ex.Run(ctx, settings)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			log.Warn("🛑 Shutdown signal received")
		}
		return err
	}

	log.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"path":   report.Path,
		"rows":   report.Rows,
	}).Info("👋 App shutdown complete")
	return nil
}

func initConfigAction(c *cli.Context) error {
	loggerResult, err := newLogger(c)
	if err != nil {
		return err
	}
	defer loggerResult.Close()
	log := loggerResult.Logger.WithField("path", c.String("config"))

	path := c.String("config")
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		err := fmt.Errorf("%s already exists, use --force to overwrite", path)
		log.WithError(err).Error("❌ Refusing to overwrite settings")
		return err
	}

	if err := config.SaveConfig(path, config.Template()); err != nil {
		log.WithError(err).Error("❌ Failed to write settings template")
		return err
	}
	log.Info("📝 Settings template written, fill in api_key and api_secret")
	return nil
}
