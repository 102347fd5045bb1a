package main

import (
	"context"
	"fmt"
	logByDefault "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veriaddress/veriaddress-server/internal/config"
	"github.com/veriaddress/veriaddress-server/internal/evaluator"
	"github.com/veriaddress/veriaddress-server/internal/httpclient"
	"github.com/veriaddress/veriaddress-server/internal/log"
	"github.com/veriaddress/veriaddress-server/internal/metrics"
	"github.com/veriaddress/veriaddress-server/internal/model"
	"github.com/veriaddress/veriaddress-server/internal/notify"
	"github.com/veriaddress/veriaddress-server/internal/server"
	"github.com/veriaddress/veriaddress-server/internal/storage"
	"github.com/veriaddress/veriaddress-server/internal/workflow"

	// This controls the maxprocs environment variable in container runtimes.
	// see https://martin.baillie.id/wrote/gotchas-in-the-go-network-packages-defaults/#bonus-gomaxprocs-containers-and-the-cfs
	"go.uber.org/automaxprocs/maxprocs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Set the local timezone to UTC
	time.Local = time.UTC

	// Initialize the configuration
	config, err := config.MustLoadConfig()
	if err != nil {
		logByDefault.Fatalf("Config load error: %v", err)
	}

	// Logger configuration
	logger := log.New(
		log.WithLevel(config.Verbose),
		log.WithSource(),
	)

	if err := run(config, logger); err != nil {
		logger.ErrorContext(context.Background(), "an error occurred", slog.String("error", err.Error()))
		os.Exit(1)
	}

	os.Exit(0)
}

func run(config *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	_, err := maxprocs.Set(maxprocs.Logger(func(s string, i ...interface{}) {
		logger.DebugContext(ctx, fmt.Sprintf(s, i...))
	}))
	if err != nil {
		return fmt.Errorf("setting max procs: %w", err)
	}

	// Setup hash function
	model.InitHashFunction()

	// Setup database connection
	db, err := storage.New(config, logger)
	if err != nil {
		return fmt.Errorf("database connection error: %w", err)
	}
	defer db.Close()

	// Setup InfluxDB metrics (if any)
	var m metrics.Metrics
	if config.Influx.URL != "" {
		m = metrics.NewMetricsImpl(
			config.Influx.URL,
			config.Influx.Token,
			config.Influx.Org,
			config.Influx.Bucket,
			map[string]string{"environment": config.Environment},
		)
	} else {
		m = metrics.NewMetricsFake()
	}
	defer m.Close()

	// Create a http client for the evaluator
	httpClient, err := httpclient.NewHTTPClient(&config.Proxy, config.Evaluator.Timeout)
	if err != nil {
		return fmt.Errorf("http client setup error: %w", err)
	}

	// Setup the address-match evaluator
	eval, err := evaluator.New(config.Evaluator, httpClient, logger, m)
	if err != nil {
		return fmt.Errorf("evaluator setup error: %w", err)
	}
	defer eval.Close()

	// Geocoded addresses survive restarts through the kv table.
	eval.SetGeocodeStore(db)

	// Setup the Telegram notifier (optional)
	notifier, err := notify.New(&config.Telegram, logger)
	if err != nil {
		return fmt.Errorf("telegram notifier setup error: %w", err)
	}

	// Setup the applicant workflow
	flow := workflow.NewController(db, eval, m, notifier, logger, workflow.Options{
		ImageMaxWidth: config.Image.MaxWidth,
		ImageQuality:  config.Image.Quality,
		GeotagWait:    time.Second,
	})

	// Setup API server
	srv := server.New(config, db, flow, logger)
	srv.AddHealthCheck(func() (bool, map[string]string) {
		status := map[string]string{}
		healthy := true

		if dbStatus, err := db.Status(); err != nil {
			status["database"] = err.Error()
			healthy = false
		} else {
			status["database"] = dbStatus
		}

		if srvStatus, err := srv.Status(); err != nil {
			status["server"] = err.Error()
			healthy = false
		} else {
			status["server"] = srvStatus
		}

		return healthy, status
	})

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.InfoContext(ctx, "Server started", slog.String("host", config.API.Host), slog.Int("port", config.API.Port))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.InfoContext(ctx, "Shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	return nil
}
