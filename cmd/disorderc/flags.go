package main

import (
	"errors"
	"flag"
	"os"
)

type cliConfig struct {
	addr     string
	unix     string
	username string
	password string
	cookie   string
	command  []string
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("disorderc", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.addr, "host", "localhost:9999", "Server TCP address")
	fs.StringVar(&cfg.unix, "socket", "", "Server unix socket path (overrides -host)")
	fs.StringVar(&cfg.username, "user", "", "Username for the user/response handshake")
	fs.StringVar(&cfg.password, "password", "", "Password for the user/response handshake")
	fs.StringVar(&cfg.cookie, "cookie", "", "Cookie token (alternative to -user/-password)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.command = fs.Args()
	if len(cfg.command) == 0 {
		return nil, errors.New("a command is required, e.g. disorderc play some/track.flac")
	}
	return cfg, nil
}
