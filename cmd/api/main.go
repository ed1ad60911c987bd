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

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	appconfig "github.com/atlasgrove/marketing-ai-platform/internal/config"
	"github.com/atlasgrove/marketing-ai-platform/internal/conversation"
	"github.com/atlasgrove/marketing-ai-platform/internal/http/handlers"
	"github.com/atlasgrove/marketing-ai-platform/internal/http/router"
	"github.com/atlasgrove/marketing-ai-platform/internal/intent"
	"github.com/atlasgrove/marketing-ai-platform/internal/knowledge"
	"github.com/atlasgrove/marketing-ai-platform/internal/observability/metrics"
	"github.com/atlasgrove/marketing-ai-platform/internal/session"
	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting marketing-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOptions)
	defer func() { _ = redisClient.Close() }()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable at startup", "error", err)
	}
	pingCancel()

	gateway, err := buildGateway(cfg, logger)
	if err != nil {
		logger.Error("failed to build LLM gateway", "provider", cfg.LLMProvider, "error", err)
		os.Exit(1)
	}

	docStore := knowledge.NewPostgresStore(db)
	retriever := knowledge.NewRetriever(docStore, gateway, cfg.SimilarityThreshold, logger)
	ingestor := knowledge.NewIngestor(docStore, gateway, cfg.IngestWorkers, logger)

	manager := session.NewManager(session.NewRedisStore(redisClient), logger,
		session.WithTimeout(cfg.SessionTimeout),
		session.WithMaxHistory(cfg.SessionMaxHistory),
	)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go manager.Run(sweepCtx, cfg.SessionSweepInterval)

	registry := prometheus.NewRegistry()
	convMetrics := metrics.NewConversationMetrics(registry)

	classifier := intent.NewClassifier(gateway, logger)
	engine := conversation.NewEngine(manager, retriever, classifier, gateway, logger, convMetrics)

	queue, err := buildQueue(cfg, logger)
	if err != nil {
		logger.Error("failed to build chat queue", "error", err)
		os.Exit(1)
	}
	dispatcher := conversation.NewDispatcher(engine, queue, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
	)

	chatHandler := handlers.NewChatHandler(dispatcher, engine, manager, logger)
	knowledgeHandler := handlers.NewKnowledgeHandler(ingestor, docStore, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		ChatHandler:        chatHandler,
		KnowledgeHandler:   knowledgeHandler,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Error("dispatcher shutdown failed", "error", err)
	}
	if err := ingestor.Shutdown(ctx); err != nil {
		logger.Error("ingestor shutdown failed", "error", err)
	}
	stopSweeper()

	logger.Info("server stopped")
}

func buildGateway(cfg *appconfig.Config, logger *logging.Logger) (conversation.Gateway, error) {
	switch cfg.LLMProvider {
	case "bedrock":
		awsCfg, err := appconfig.LoadAWSConfig(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		logger.Info("using bedrock gateway", "model", cfg.BedrockModelID)
		return conversation.NewBedrockGateway(client, cfg.BedrockModelID, cfg.BedrockEmbeddingModelID), nil
	default:
		client := openai.NewClient(cfg.OpenAIAPIKey)
		logger.Info("using openai gateway", "model", cfg.OpenAIModel)
		return conversation.NewOpenAIGateway(client, cfg.OpenAIModel, cfg.OpenAIEmbeddingModel), nil
	}
}

func buildQueue(cfg *appconfig.Config, logger *logging.Logger) (conversation.Queue, error) {
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory chat queue")
		return conversation.NewMemoryQueue(0), nil
	}
	awsCfg, err := appconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("using SQS chat queue", "queue_url", cfg.ChatQueueURL)
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ChatQueueURL), nil
}
