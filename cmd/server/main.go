// Command server launches one herd member: "server <ServerName>".
// ServerName must be a key in the configuration's server map, and the
// process binds the corresponding port, dials its configured
// neighbors, and serves IAMAT/WHATSAT/AT until it is signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/geoherd/herd/config"
	"github.com/geoherd/herd/server"
)

const defaultConfigPath = "herd.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 2 {
		return fmt.Errorf("usage: server <ServerName>")
	}
	name := os.Args[1]

	configPath := os.Getenv("HERD_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	view, err := config.NewView(cfg, name)
	if err != nil {
		return err
	}

	logger := buildLogger(view.Logging, name)

	agent, err := server.New(view, logger)
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		return fmt.Errorf("running agent: %w", err)
	}
	return nil
}

func buildLogger(cfg config.Logging, name string) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	output := os.Stderr
	if cfg.Filename != "" {
		f, err := os.OpenFile(cfg.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "herd",
		Level:      level,
		Output:     output,
		JSONFormat: strings.EqualFold(cfg.Format, "json"),
	}).Named(name)
}
