package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/tethys-irc/tethys/internal/config"
	"github.com/tethys-irc/tethys/internal/logger"
	"github.com/tethys-irc/tethys/internal/security"
)

func main() {
	configPath := pflag.StringP("config", "c", "tethys.yaml", "path to the configuration file")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	pflag.Parse()

	if err := run(*configPath, *logLevel); err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", cfgErr)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if logLevel != "" {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return &config.Error{Message: fmt.Sprintf("bad log level %q", logLevel)}
		}
		logger.SetLevel(level)
	}

	if err := cfg.ResolveSecrets(security.NewKeychain()); err != nil {
		return err
	}

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info().Int("networks", len(cfg.Networks)).Msg("starting")
	app.Run(ctx)
	return nil
}
