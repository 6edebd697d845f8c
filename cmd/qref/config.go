package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the qref configuration file (~/.config/qref/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	ModelDir string `yaml:"model_dir"`

	ValidationFileIn  string `yaml:"validation_file_in"`
	ValidationFileOut string `yaml:"validation_file_out"`
	Iterations        *int   `yaml:"iterations"`
	TopK              *int   `yaml:"top_k"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// fileConfig is loaded once by the root Before hook.
var fileConfig Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "qref", "config.yaml")
}

// LoadConfig reads the config file at path, or at the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig applies config file defaults to the logging flags.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyDataConfig applies config file defaults to the data and model
// directories. The model directory falls back to the data directory.
func applyDataConfig(c *cli.Command, cfg Config) {
	if cfg.DataDir != "" && !c.IsSet("data-dir") {
		dataDir = cfg.DataDir
	}
	if cfg.ModelDir != "" && !c.IsSet("model-dir") {
		modelDir = cfg.ModelDir
	}
	if modelDir == "" {
		modelDir = dataDir
	}
}

// applyClassifyConfig applies config file defaults to classify command
// variables when the corresponding CLI flag was not explicitly set.
func applyClassifyConfig(c *cli.Command, cfg Config) {
	applyDataConfig(c, cfg)
	if cfg.ValidationFileIn != "" && !c.IsSet("validation-file-in") {
		validationFileIn = cfg.ValidationFileIn
	}
	if cfg.ValidationFileOut != "" && !c.IsSet("validation-file-out") {
		validationFileOut = cfg.ValidationFileOut
	}
	if cfg.Iterations != nil && !c.IsSet("iterations") {
		iterations = *cfg.Iterations
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		topK = *cfg.TopK
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyDataConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
