package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all stepflow CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath             string `mapstructure:"db_path" json:"db_path"`
	LogLevel           string `mapstructure:"log_level" json:"log_level"`
	DiagramFormat      string `mapstructure:"diagram_format" json:"diagram_format"`
	ConcurrentBranches int    `mapstructure:"concurrent_branches" json:"concurrent_branches"`
	MermaidASCIIDir    string `mapstructure:"mermaid_ascii_dir" json:"mermaid_ascii_dir"`
	// Telemetry selects a trace and metric exporter: "" (off) or "stdout".
	Telemetry string `mapstructure:"telemetry" json:"telemetry"`
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(stepflowDir(), "stepflow.db"),
		LogLevel:        "info",
		DiagramFormat:   "mermaid",
		MermaidASCIIDir: filepath.Join(stepflowDir(), "bin"),
	}
}

func stepflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}

func settingsPath() string {
	return filepath.Join(stepflowDir(), "settings.json")
}

// newViper returns a viper instance layered as defaults < path < STEPFLOW_*
// env vars. A missing settings file is not an error.
func newViper(path string) (*viper.Viper, error) {
	v := viper.New()

	def := defaultConfig()
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("diagram_format", def.DiagramFormat)
	v.SetDefault("concurrent_branches", def.ConcurrentBranches)
	v.SetDefault("mermaid_ascii_dir", def.MermaidASCIIDir)
	v.SetDefault("telemetry", def.Telemetry)

	v.SetEnvPrefix("STEPFLOW")
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

func loadConfig(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// saveConfig writes cfg to path as settings.json.
func saveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	v := viper.New()
	v.Set("db_path", cfg.DBPath)
	v.Set("log_level", cfg.LogLevel)
	v.Set("diagram_format", cfg.DiagramFormat)
	v.Set("concurrent_branches", cfg.ConcurrentBranches)
	v.Set("mermaid_ascii_dir", cfg.MermaidASCIIDir)
	v.Set("telemetry", cfg.Telemetry)
	return v.WriteConfigAs(path)
}
