package notificationservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"

	"github.com/tinywideclouds/go-apns-legacy/internal/api"
	"github.com/tinywideclouds/go-apns-legacy/internal/feedback"
	"github.com/tinywideclouds/go-apns-legacy/internal/metrics"
	"github.com/tinywideclouds/go-apns-legacy/internal/pipeline"
	"github.com/tinywideclouds/go-apns-legacy/notificationservice/config"
	"github.com/tinywideclouds/go-apns-legacy/pkg/dispatch"
)

// Wrapper runs the delivery pipeline, the token API and, when configured,
// the feedback sweeper behind one HTTP server.
type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[notification.NotificationRequest]
	sweeper         *feedback.Sweeper
	sweepInterval   time.Duration
	stopSweeper     context.CancelFunc
	sweeperDone     sync.WaitGroup
	logger          *slog.Logger
}

// New assembles the service. sweeper and reg may be nil; the sweeper also
// stays off when cfg.Feedback.Interval is zero.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatcher dispatch.Dispatcher,
	tokenStore dispatch.TokenStore,
	sweeper *feedback.Sweeper,
	reg *metrics.Registry,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	processor := pipeline.NewProcessor(dispatcher, tokenStore, reg, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.NotificationRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API (Token Registration)
	tokenAPI := api.NewTokenAPI(tokenStore, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}
	handle("POST /api/v1/register/apns", tokenAPI.RegisterAPNs)
	handle("POST /api/v1/unregister/apns", tokenAPI.UnregisterAPNs)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	w := &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}
	if sweeper != nil && cfg.Feedback.Interval > 0 {
		w.sweeper = sweeper
		w.sweepInterval = cfg.Feedback.Interval
	}
	return w, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	if w.sweeper != nil {
		sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		w.stopSweeper = cancel
		w.sweeperDone.Add(1)
		go func() {
			defer w.sweeperDone.Done()
			w.sweeper.Run(sweepCtx, w.sweepInterval)
		}()
		w.logger.Info("Feedback sweeper started", "interval", w.sweepInterval)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.stopSweeper != nil {
		w.stopSweeper()
		w.sweeperDone.Wait()
	}
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
