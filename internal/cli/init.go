// Package cli provides the initialization shared by cmd/ledgercache and
// cmd/ledgerctl, and the ledgerctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ledgercache/internal/amqp"
	"ledgercache/internal/backend"
	"ledgercache/internal/config"
	"ledgercache/internal/core"
	"ledgercache/internal/log"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger at the given level, writing text
// records to out, and installs it as the slog default.
func SetupLogger(level string, out io.Writer) *log.Logger {
	if out == nil {
		out = os.Stdout
	}
	logger := log.New(log.Config{
		Level:     log.ParseLevel(level),
		Component: log.ComponentApp,
		Output:    out,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration from the environment and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCalendar resolves the configured timezones.
func LoadCalendar(cfg *config.Config) (core.Calendar, error) {
	return core.LoadCalendar(cfg.LocalTimezone, cfg.ReferenceTimezone)
}

// OpenBackend creates the configured ledger. Close the result when done.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend.BackendResult, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
}

// OpenAMQP connects a consuming client, or returns nil when AMQP is not
// configured.
func OpenAMQP(cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	if !cfg.AMQPEnabled() {
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return nil, fmt.Errorf("connect AMQP: %w", err)
	}
	queue := cfg.AMQPQueue
	if queue == "" {
		queue = "(per-instance)"
	}
	logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", queue)
	return client, nil
}

// OpenAMQPPublisher connects a publish-only client, or returns nil when AMQP
// is not configured.
func OpenAMQPPublisher(cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	if !cfg.AMQPEnabled() {
		return nil, nil
	}
	client, err := amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		return nil, fmt.Errorf("connect AMQP: %w", err)
	}
	return client, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
