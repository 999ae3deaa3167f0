package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgercache/internal/cli"
	apphttp "ledgercache/internal/http"
	"ledgercache/internal/log"
	"ledgercache/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	if err := run(); err != nil {
		log.FromSlog(nil, log.ComponentApp).Error("ledgercache stopped with error", log.FieldError, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.SetupLogger("info", os.Stdout)
		return err
	}
	logger := cli.SetupLogger(cfg.LogLevel, os.Stdout)

	cal, err := cli.LoadCalendar(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	ledgerBackend, err := cli.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ledgerBackend.Close()

	dayCache := services.NewDayCache(ledgerBackend.Store, cal, logger)
	if err := dayCache.Start(ctx); err != nil {
		return err
	}
	if cfg.PreloadCurrentMonth {
		dayCache.PreloadMonth(time.Now())
	}

	amqpClient, err := cli.OpenAMQP(cfg, logger)
	if err != nil {
		// Serve anyway; this instance only misses remote invalidations.
		logger.Warn("AMQP unavailable, remote invalidations disabled", log.FieldError, err)
	}
	if amqpClient != nil {
		defer amqpClient.Close()
	}

	srv := apphttp.NewServer(":"+cfg.Port, dayCache, cal, logger, apphttp.Options{})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting ledgercache server",
			"port", cfg.Port, "backend", cfg.DataBackend, "amqp_enabled", amqpClient != nil,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.ConsumeInvalidations(gctx, services.InvalidationHandler(dayCache))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := dayCache.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
