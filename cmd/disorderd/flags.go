package main

import (
	"errors"
	"flag"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds the handful of settings needed before the system config
// file can be loaded: where that file lives, and the logging knobs main
// wants active immediately (spec.md §6 ambient configuration layer splits
// "how do I even find my config" from "what does my config say").
type cliConfig struct {
	configPath  string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("disorderd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "config", "/etc/disorder/config.yaml", "Path to the system configuration file")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level " + cfg.logLevel)
	}

	return cfg, nil
}
