package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Systemsaholic/call-helm-sub003/cmd/mainconfig"
	"github.com/Systemsaholic/call-helm-sub003/internal/api/router"
	"github.com/Systemsaholic/call-helm-sub003/internal/billing"
	"github.com/Systemsaholic/call-helm-sub003/internal/broadcast"
	"github.com/Systemsaholic/call-helm-sub003/internal/calls"
	appconfig "github.com/Systemsaholic/call-helm-sub003/internal/config"
	"github.com/Systemsaholic/call-helm-sub003/internal/conversation"
	"github.com/Systemsaholic/call-helm-sub003/internal/events"
	"github.com/Systemsaholic/call-helm-sub003/internal/http/handlers"
	"github.com/Systemsaholic/call-helm-sub003/internal/messaging/carrier"
	"github.com/Systemsaholic/call-helm-sub003/internal/notify"
	"github.com/Systemsaholic/call-helm-sub003/internal/observability/metrics"
	"github.com/Systemsaholic/call-helm-sub003/internal/transcription"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting call-helm API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	billingDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open billing db", "error", err)
		os.Exit(1)
	}
	defer billingDB.Close()

	redisClient := newRedisClient(cfg)
	defer redisClient.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	// Stores.
	convStore := conversation.NewStore(pool)
	orgResolver := conversation.NewOrgResolver(convStore, redisClient, logger)
	broadcastStore := broadcast.NewStore(pool)
	reconciler := broadcast.NewReconciler(convStore, broadcastStore, logger)
	processedStore := events.NewProcessedStore(pool)
	callStore := calls.NewStore(pool)
	usageRecorder := calls.NewUsageRecorder(pool, cfg.CallUnitCostCents, logger)
	billingStore := billing.NewStore(billingDB)

	// Outbound integrations.
	var telnyxClient *carrier.Client
	if cfg.TelnyxAPIKey != "" {
		telnyxClient, err = carrier.New(carrier.Config{
			APIKey:        cfg.TelnyxAPIKey,
			WebhookSecret: cfg.TelnyxWebhookSecret,
			Logger:        logger,
		})
		if err != nil {
			logger.Error("failed to build carrier client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("TELNYX_API_KEY not set; SMS webhooks disabled")
	}

	emailSender := selectEmailSender(cfg, awsCfg, logger)
	notifyService := notify.NewService(emailSender, logger)

	analysis := transcription.NewHTTPAnalysisDispatcher(cfg.AnalysisWebhookURL, logger)
	pipeline := buildPipeline(cfg, awsCfg, callStore, analysis, webhookMetrics, logger)

	// Handlers.
	smsCfg := handlers.SMSWebhookConfig{
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		PublicBaseURL:    cfg.PublicBaseURL,
		Conversations:    convStore,
		Orgs:             orgResolver,
		Reconciler:       reconciler,
		Processed:        processedStore,
		Analysis:         analysis,
		Metrics:          webhookMetrics,
		Logger:           logger,
		MessagingProfile: cfg.MessagingProfileID,
		OptOutReply:      cfg.OptOutReply,
		OptInReply:       cfg.OptInReply,
	}
	if telnyxClient != nil {
		smsCfg.Carrier = telnyxClient
	}
	smsWebhooks := handlers.NewSMSWebhookHandler(smsCfg)

	voiceWebhooks := calls.NewWebhookHandler(calls.WebhookConfig{
		WebhookSecret: cfg.VoiceWebhookSecret,
		Store:         callStore,
		Usage:         usageRecorder,
		Orgs:          orgResolver,
		Metrics:       webhookMetrics,
		Logger:        logger,
	})

	billingWebhook := billing.NewWebhookHandler(billing.WebhookConfig{
		WebhookSecret: cfg.StripeWebhookSecret,
		GraceDays:     cfg.BillingGraceDays,
		Store:         billingStore,
		Notifier:      notifyService,
		Processed:     processedStore,
		Metrics:       webhookMetrics,
		Logger:        logger,
	})

	var transcribeHandler *handlers.TranscribeHandler
	if pipeline != nil {
		transcribeHandler = handlers.NewTranscribeHandler(pipeline, logger)
	}
	adminOps := handlers.NewAdminOpsHandler(handlers.AdminOpsConfig{
		Calls:           callStore,
		InitiatedMaxAge: cfg.StaleInitiatedTTL,
		RingingMaxAge:   cfg.StaleRingingTTL,
		Logger:          logger,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		SMSWebhooks:        smsWebhooks,
		VoiceWebhooks:      voiceWebhooks,
		BillingWebhook:     billingWebhook,
		Transcribe:         transcribeHandler,
		AdminOps:           adminOps,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRateLimit:   cfg.WebhookRateLimit,
		WebhookRateBurst:   cfg.WebhookRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres not reachable at startup", "error", err)
	}
	return pool
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// selectEmailSender picks the configured email provider, falling back to a
// log-only stub so billing notifications never block webhook processing.
func selectEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		if sender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	default:
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
	}
	logger.Warn("no email provider configured; billing notifications are logged only")
	return notify.NewStubEmailSender(logger)
}

func buildPipeline(cfg *appconfig.Config, awsCfg aws.Config, callStore *calls.Store, analysis *transcription.HTTPAnalysisDispatcher, m *metrics.WebhookMetrics, logger *logging.Logger) *transcription.Pipeline {
	provider := selectTranscriptionProvider(cfg, logger)
	if provider == nil {
		return nil
	}
	var archive *transcription.Archive
	if cfg.TranscriptBucket != "" {
		archive = transcription.NewArchive(s3.NewFromConfig(awsCfg), cfg.TranscriptBucket, logger)
	}
	return transcription.NewPipeline(transcription.PipelineConfig{
		Provider: provider,
		Store:    callStore,
		Archive:  archive,
		Analysis: analysis,
		Metrics:  m,
		Logger:   logger,
	})
}

// selectTranscriptionProvider prefers the diarizing providers; Whisper has no
// native speaker labels and relies on the turn heuristic.
func selectTranscriptionProvider(cfg *appconfig.Config, logger *logging.Logger) transcription.Provider {
	if cfg.AssemblyAIAPIKey != "" {
		p, err := transcription.NewAssemblyAIClient(transcription.AssemblyAIConfig{APIKey: cfg.AssemblyAIAPIKey, Logger: logger})
		if err == nil {
			return p
		}
		logger.Warn("assemblyai client unavailable", "error", err)
	}
	if cfg.DeepgramAPIKey != "" {
		p, err := transcription.NewDeepgramClient(transcription.DeepgramConfig{APIKey: cfg.DeepgramAPIKey, Logger: logger})
		if err == nil {
			return p
		}
		logger.Warn("deepgram client unavailable", "error", err)
	}
	if cfg.OpenAIAPIKey != "" {
		p, err := transcription.NewWhisperClient(transcription.WhisperConfig{APIKey: cfg.OpenAIAPIKey, Logger: logger})
		if err == nil {
			return p
		}
		logger.Warn("whisper client unavailable", "error", err)
	}
	logger.Warn("no transcription provider configured; transcribe endpoint disabled")
	return nil
}
