// Package workflow assembles the pipeline processes from their parts: broker
// pool, datastore, RPC transport, monitoring and telemetry.
package workflow

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/claims"
	"github.com/claimflow/claimflow/internal/conf"
	"github.com/claimflow/claimflow/internal/datastore"
	"github.com/claimflow/claimflow/internal/logging"
	"github.com/claimflow/claimflow/internal/monitoring"
	"github.com/claimflow/claimflow/internal/prediction"
	"github.com/claimflow/claimflow/internal/rpc"
	"github.com/claimflow/claimflow/internal/telemetry"
)

func newPool(settings *conf.Settings) (*broker.Pool, error) {
	return broker.NewPool(broker.Config{
		MaxConnections: settings.Broker.MaxConnections,
		MaxChannels:    settings.Broker.MaxChannels,
	}, broker.Dial(settings.Broker.URL))
}

func openStore(settings *conf.Settings) (datastore.Interface, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, errors.New("no database backend enabled in configuration")
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	return store, nil
}

// serveTelemetry exposes the Prometheus endpoint until ctx is cancelled.
func serveTelemetry(ctx context.Context, settings *conf.Settings, metrics *telemetry.Metrics) {
	if !settings.Telemetry.Enabled {
		return
	}

	logger := logging.ForService("telemetry")
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:        settings.Telemetry.Listen,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("telemetry endpoint listening", "addr", settings.Telemetry.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("telemetry endpoint failed", "error", err)
		}
	}()
}

// RunClaimWorker serves the claim pipeline request queue until ctx is
// cancelled.
func RunClaimWorker(ctx context.Context, settings *conf.Settings) error {
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}
	serveTelemetry(ctx, settings, metrics)

	pool, err := newPool(settings)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	rpcClient := rpc.NewClient(pool,
		rpc.WithTimeout(settings.RPC.Timeout),
		rpc.WithClientMetrics(metrics.RPC),
	)
	predictor := prediction.NewClient(rpcClient, settings.RPC.PredictionQueue)
	events := monitoring.NewPublisher(pool,
		monitoring.WithExchange(settings.Monitoring.Exchange),
		monitoring.WithPublisherMetrics(metrics.Monitoring),
	)

	detection := claims.NewDetectionService(store, predictor, events, settings.Claims)
	annotation := claims.NewAnnotationService(store, events)

	dispatcher := claims.NewDispatcher(detection, annotation)
	if err := dispatcher.Validate(); err != nil {
		return err
	}

	worker := rpc.NewWorker(pool, settings.RPC.ClaimQueue, dispatcher,
		rpc.WithPrefetch(settings.Broker.Prefetch),
	)
	return worker.Run(ctx)
}

// RunPredictionWorker serves the model RPC queue until ctx is cancelled.
func RunPredictionWorker(ctx context.Context, settings *conf.Settings) error {
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}
	serveTelemetry(ctx, settings, metrics)

	pool, err := newPool(settings)
	if err != nil {
		return err
	}
	defer pool.Close()

	meta, err := prediction.LoadMetadata(settings.Prediction.MetadataPath)
	if err != nil {
		return err
	}
	service := prediction.NewService(
		prediction.NewKeywordClassifier(settings.Prediction.Keywords),
		*meta,
	)

	worker := rpc.NewWorker(pool, settings.RPC.PredictionQueue, service,
		rpc.WithPrefetch(settings.Broker.Prefetch),
	)
	return worker.Run(ctx)
}

// RunMonitor runs the monitoring aggregator until ctx is cancelled.
func RunMonitor(ctx context.Context, settings *conf.Settings) error {
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}
	serveTelemetry(ctx, settings, metrics)

	pool, err := newPool(settings)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := openStore(settings)
	if err != nil {
		return err
	}
	defer store.Close()

	consumer := monitoring.NewConsumer(pool, store,
		monitoring.WithConsumerBindings(
			settings.Monitoring.Exchange,
			settings.Monitoring.Queue,
			settings.Monitoring.BindingKeys,
		),
		monitoring.WithConsumerPrefetch(settings.Broker.Prefetch),
		monitoring.WithConsumerMetrics(metrics.Monitoring),
	)
	return consumer.Run(ctx)
}
