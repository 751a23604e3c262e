package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"buy-process-service/config"
	"buy-process-service/internal/api"
	"buy-process-service/internal/broker"
	"buy-process-service/internal/redisclient"
	"buy-process-service/internal/service"
	"buy-process-service/internal/store"
	"buy-process-service/internal/util"
	"buy-process-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting buy process service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBuyProcess)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer, nil)

	location := cfg.Business.Location()
	resolver := service.NewMessageResolver(db, cfg.Business.GenericChannelID)

	chain, err := service.NewValidationChain(db, resolver, service.ChainConfig{
		GenericChannelID: cfg.Business.GenericChannelID,
		ReadTimeout:      cfg.Business.ReferenceTimeout(),
		Location:         location,
	})
	if err != nil {
		logger.Fatal("Invalid validation rule configuration", zap.Error(err))
	}
	for _, r := range chain.Rules() {
		logger.Info("Validation rule bound", zap.Int("priority", r.Priority), zap.String("rule", string(r.Name)))
	}

	loanClient := service.NewLoanServiceClient(service.LoanServiceConfig{
		BaseURL:  cfg.LoanService.BaseURL,
		Username: cfg.LoanService.Username,
		Password: cfg.LoanService.Password,
		TenantID: cfg.LoanService.TenantID,
		Timeout:  cfg.Business.StageTimeout() + 5*time.Second,
	})
	saga := service.NewProvisioningSaga(loanClient, db, db, service.SagaConfig{
		StageTimeout: cfg.Business.StageTimeout(),
		Location:     location,
	})

	buyProcessService := service.NewBuyProcessService(db, redisClient, eventPublisher, chain, saga, service.ServiceConfig{
		ProvisionLockTTL:  cfg.Business.ProvisionLockTTL(),
		IdempotencyKeyTTL: cfg.Business.IdempotencyKeyTTL(),
	})
	saga.OnStageCompleted(buyProcessService.StageCompleted)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	messageConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicChannelMessages, cfg.Kafka.ConsumerGroup)
	messageWorker := worker.NewMessageCacheWorker(messageConsumer, resolver, db, cfg.Kafka.ConsumerGroup)
	go func() {
		if err := messageWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Message cache worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(buyProcessService, resolver, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := messageWorker.Stop(); err != nil {
		logger.Error("Failed to stop message cache worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
