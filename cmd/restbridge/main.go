// Command restbridge runs the stream-to-REST bridge configured from
// RESTBRIDGE_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/restbridge"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := restbridge.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := restbridge.NewJSONServiceLogger(os.Stdout, cfg.LogLevel)

	svc, err := restbridge.NewService(ctx, cfg, logger, restbridge.ServiceDependencies{
		// Shutdown is driven by ctx.
		DisableSignalHandler: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Shutdown failed", err, nil)
		}
	}()

	logger.Info("restbridge started", restbridge.LogFields{
		"input_topic": cfg.InputTopic,
		"dlq_topic":   cfg.DLQTopic,
		"transport":   cfg.PubSubSystem,
	})
	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("restbridge stopped", nil)
	return nil
}
