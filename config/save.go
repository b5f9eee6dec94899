// config/save.go
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template returns the settings written by init-config: defaults plus empty credentials.
func Template() *AppSettings {
	s := &AppSettings{
		Exchange:  DefaultExchange,
		Symbol:    DefaultSymbol,
		Interval:  DefaultInterval,
		StartDate: DefaultStartDate,
		OutputDir: DefaultOutputDir,
	}
	(&Loader{}).applyDefaults(s)
	s.EndDate = ""
	s.Database.Provider = "sqlite"
	s.Database.ConnectionString = "data/klines.db"
	s.Streaming.Provider = "redis"
	s.Streaming.Redis.Address = "localhost:6379"
	s.Streaming.Redis.Stream = "klines"
	return s
}

// SaveConfig writes settings as JSON when filename ends in .json and as YAML otherwise.
// Both forms are accepted by LoadConfig.
func SaveConfig(filename string, settings *AppSettings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		// Go through a generic map so durations keep their "30s" form.
		var generic map[string]interface{}
		if err = yaml.Unmarshal(data, &generic); err != nil {
			return err
		}
		if data, err = json.MarshalIndent(generic, "", "  "); err != nil {
			return err
		}
	}
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(filename, data, 0o600)
}
