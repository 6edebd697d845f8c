package main

import "github.com/urfave/cli/v3"

const (
	envDataDir  = "QREF_DATA_DIR"
	envModelDir = "QREF_MODEL_DIR"
)

var (
	configFile        string
	dataDir           string
	modelDir          string
	validationFileIn  string
	validationFileOut string
	iterations        int
	topK              int
	reportPath        string
	logLevel          string
	logFormat         string
	debug             bool
)

func dataFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data-dir",
			Aliases:     []string{"d"},
			Usage:       "directory holding dataset.yaml and its test cases",
			Sources:     cli.EnvVars(envDataDir),
			Destination: &dataDir,
		},
		&cli.StringFlag{
			Name:        "model-dir",
			Aliases:     []string{"m"},
			Usage:       "directory holding model.yaml and its weights (defaults to --data-dir)",
			Sources:     cli.EnvVars(envModelDir),
			Destination: &modelDir,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (defaults to the user config directory)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
