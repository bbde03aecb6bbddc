package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabzie/factory-runtime/config/logger"
	config "github.com/crabzie/factory-runtime/config/utils"
	"github.com/crabzie/factory-runtime/internal/adapter/clock"
	"github.com/crabzie/factory-runtime/internal/adapter/decision"
	"github.com/crabzie/factory-runtime/internal/adapter/monitoring/prometheus"
	"github.com/crabzie/factory-runtime/internal/bootstrap"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/crabzie/factory-runtime/internal/core/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// _shutdownPeriod is time to wait for the metrics server to drain
const _shutdownPeriod = 10 * time.Second

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config & logger
	appConfig := config.New(os.Getenv("FACTORY_CONFIG"))
	baseLogger := logger.Build(appConfig.Logger)
	log := baseLogger.With(zap.String("service", "factory"), zap.String("factory", appConfig.App.FactoryName))
	log.Info("Starting the factory runtime",
		zap.String("app", appConfig.App.Name),
		zap.String("env", appConfig.App.Env),
		zap.String("store", appConfig.Store.Backend))

	// Resource store
	store, err := bootstrap.OpenStore(rootCtx, appConfig, baseLogger.Named("store"))
	if err != nil {
		log.Fatal("Failed to open resource store", zap.Error(err))
	}
	defer store.Close()

	// Metrics
	var metrics port.Metrics = port.NopMetrics{}
	var exporter *prometheus.Exporter
	if appConfig.Metrics.Addr != "" {
		exporter = prometheus.NewExporter()
		metrics = exporter
	}

	// Runtime
	notifier := service.NewCompletionNotifier(baseLogger.Named("notifier"),
		service.WithRetry(appConfig.Runtime.NotifyAttempts, appConfig.Runtime.NotifyBackoff),
		service.WithNotifierMetrics(metrics),
	)
	factory := service.NewFactoryService(store, clock.NewSystemClock(), notifier, service.FactoryConfig{
		TimeUnit: appConfig.Runtime.TimeUnit,
		Metrics:  metrics,
	}, baseLogger.Named("factory"))

	callbacks := []port.DecisionCallback{decision.NewLogCallback(baseLogger.Named("decision"))}

	// Broker, optional
	queue, err := bootstrap.OpenQueue(rootCtx, appConfig, baseLogger)
	switch {
	case errors.Is(err, bootstrap.ErrNoBroker):
		log.Info("No broker configured, completions are only logged")
	case err != nil:
		log.Fatal("Failed to init RabbitMQ", zap.Error(err))
	default:
		defer queue.Close()
		callbacks = append(callbacks, decision.NewQueueCallback(queue))
	}
	factory.RegisterCallback(callbacks...)

	g, ctx := errgroup.WithContext(rootCtx)

	if queue != nil {
		g.Go(func() error {
			return queue.ConsumeAssignments(ctx, factory.Assign)
		})
	}

	if interval := appConfig.Runtime.DispatchInterval; interval > 0 {
		dispatcher := service.NewDispatcherService(factory, baseLogger.Named("dispatcher"))
		g.Go(func() error {
			dispatcher.StartDispatcher(ctx, interval)
			return nil
		})
	}

	if exporter != nil {
		srv := &http.Server{Addr: appConfig.Metrics.Addr, Handler: metricsMux(exporter), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("Serving metrics", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info("Factory runtime started. Waiting for assignments...")

	// Wait for ctx cancelation
	<-ctx.Done()
	log.Info("Shutting down...")
	factory.Shutdown()

	if err := g.Wait(); err != nil {
		log.Error("Runtime stopped with error", zap.Error(err))
	}
	log.Info("Graceful shutdown complete.")
}

func metricsMux(exporter *prometheus.Exporter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
