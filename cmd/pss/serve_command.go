package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pss-server/pkg/auth"
	"pss-server/pkg/circuitbreaker"
	"pss-server/pkg/config"
	"pss-server/pkg/correlation"
	"pss-server/pkg/database"
	psshttp "pss-server/pkg/http"
	"pss-server/pkg/messaging"
	"pss-server/pkg/metrics"
	"pss-server/pkg/planner"
	"pss-server/pkg/ratelimit"
	"pss-server/pkg/service"
	"pss-server/pkg/storage"
	"pss-server/pkg/stt"
	"pss-server/pkg/version"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, newLogger())
		},
	}
}

func serve(ctx context.Context, logger *logrus.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}
	config.ConfigureLogger(logger, cfg.Logging)
	logger.WithField("version", version.Version).Info("Starting peer support session service")

	metrics.StartMetrics(logger, cfg.HTTP.EnableMetrics)

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}
	repo := database.NewRepository(db, logger)

	var audio storage.AudioStore
	if cfg.Storage.Enabled {
		store, err := storage.NewS3Store(ctx, logger, &cfg.Storage)
		if err != nil {
			return err
		}
		audio = store
	} else {
		logger.Warn("Object storage disabled; recordings are not retained")
	}

	var transcriber stt.Transcriber
	if cfg.STT.Enabled {
		transcriber = stt.NewGuardedTranscriber(
			stt.NewClient(logger, &cfg.STT),
			circuitbreaker.NewCircuitBreaker("stt", circuitbreaker.STTConfig(), logger),
		)
	} else {
		logger.Warn("Transcription disabled; recording uploads will be rejected")
	}

	var drafter planner.Planner
	if cfg.Planner.Enabled {
		drafter = planner.NewGuardedPlanner(
			planner.NewClient(logger, &cfg.Planner),
			circuitbreaker.NewCircuitBreaker("planner", circuitbreaker.PlannerConfig(), logger),
		)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := psshttp.NewEventHub(logger, cfg.HTTP.AllowedOrigins)
	go hub.Run(hubCtx)

	publishers := messaging.Fanout{hub}
	var broker psshttp.ConnectionChecker
	if cfg.Messaging.Enabled {
		amqpPublisher := messaging.NewAMQPPublisher(logger, cfg.Messaging)
		go connectWithRetry(hubCtx, logger, amqpPublisher)
		defer amqpPublisher.Close()
		publishers = append(publishers, amqpPublisher)
		broker = amqpPublisher
	}

	server := psshttp.NewServer(logger, &cfg.HTTP, psshttp.Dependencies{
		Sessions: service.NewSessionService(service.SessionServiceOptions{
			Store:       repo,
			Audio:       audio,
			Transcriber: transcriber,
			Publisher:   publishers,
			PresignTTL:  cfg.Storage.PresignTTL,
			Logger:      logger,
		}),
		Goals:    service.NewGoalService(repo, drafter, publishers, logger),
		Database: db,
		Broker:   broker,
		Events:   hub,
	})

	var validator psshttp.TokenValidator
	if cfg.Auth.Enabled {
		v, err := auth.NewValidator(&cfg.Auth, logger)
		if err != nil {
			return err
		}
		validator = v
	} else {
		logger.Warn("Authentication disabled; all requests act as the anonymous user")
	}
	server.SetAuthMiddleware(psshttp.NewAuthMiddleware(validator, &cfg.Auth, logger))

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewHTTPMiddleware(&cfg.RateLimit, logger)
		defer limiter.Stop()
		server.SetRateLimitMiddleware(limiter)
	}
	server.SetCorrelationMiddleware(correlation.NewHTTPMiddleware(logger, true))

	errCh := server.Start()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	stopHub()

	logger.Info("Shutdown complete")
	return nil
}

// connectWithRetry keeps dialing the broker until the first connection
// succeeds. Later drops are handled by the publisher itself.
func connectWithRetry(ctx context.Context, logger *logrus.Logger, publisher *messaging.AMQPPublisher) {
	backoff := time.Second
	for {
		err := publisher.Connect()
		if err == nil {
			return
		}
		logger.WithError(err).WithField("retry_in", backoff.String()).Warn("AMQP connection failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
