package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"chat-sync-service/internal/auth"
	"chat-sync-service/internal/blob"
	"chat-sync-service/internal/clock"
	"chat-sync-service/internal/config"
	"chat-sync-service/internal/db"
	"chat-sync-service/internal/grpcserver"
	"chat-sync-service/internal/handlers"
	"chat-sync-service/internal/middleware"
	"chat-sync-service/internal/observability"
	"chat-sync-service/internal/rabbitmq"
	"chat-sync-service/internal/realtime"
	"chat-sync-service/internal/reconcile"
	"chat-sync-service/internal/service"
	"chat-sync-service/internal/signals"
	"chat-sync-service/internal/telemetry"
	"chat-sync-service/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Tracing.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	database, err := db.Connect(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	clk := clock.Real()
	typingStore := newTypingStore(ctx, cfg, clk, logger)

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.AuditExchange, logger)
	defer auditPublisher.Close()
	observability.SetPublisher(auditPublisher)
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, cfg.AMQP.AuditRoutingKey, cfg.ServiceName, cfg.Env, logger)
	logger.Info("audit publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(auditPublisher)),
		zap.String("reason", rabbitmq.PublisherNoopReason(auditPublisher)),
	)

	broker := realtime.NewBroker(logger)
	instanceID := uuid.NewString()
	var remote realtime.Remote
	changePublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer changePublisher.Close()
	if rabbitmq.PublisherMode(changePublisher) == "amqp" {
		remote = rabbitmq.NewChangePublisher(changePublisher)
	}
	notifier := realtime.NewFanout(broker, remote, instanceID, logger)
	if remote != nil {
		consumer, err := rabbitmq.NewChangeConsumer(cfg.AMQP.URL, cfg.AMQP.Exchange, notifier, logger)
		if err != nil {
			logger.Warn("change consumer disabled", zap.Error(err))
		} else {
			defer consumer.Close()
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("change consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	repos := service.NewRepos(database)
	userService := service.NewUserService(repos, clk, notifier, logger)
	blockService := service.NewBlockService(repos, clk, notifier, logger)
	conversationService := service.NewConversationService(repos, clk, notifier, logger)
	messageService := service.NewMessageService(repos, conversationService, service.Options{
		EditWindow:    cfg.Messaging.EditWindow,
		MaxTextLength: cfg.Messaging.MaxTextLength,
	}, clk, notifier, logger)
	deliveryService := service.NewDeliveryService(repos, clk, notifier, logger)
	typingService := service.NewTypingService(repos, typingStore, clk, notifier, logger)

	blobStore, err := blob.NewLocalStore(cfg.Blob.Dir, cfg.Blob.BaseURL, cfg.Blob.MaxImageBytes, cfg.Blob.MaxAvatarBytes)
	if err != nil {
		logger.Fatal("failed to init blob store", zap.Error(err))
	}

	verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret)
	hub := ws.NewHub(logger)
	wsHandler := ws.NewHandler(hub, verifier, userService, broker, reconcile.Deps{
		Directory: conversationService,
		Messages:  messageService,
		Typing:    typingService,
		Receipts:  deliveryService,
	}, deliveryService, typingService, conversationService, logger)
	conversationService.SetPresence(hub)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	handlers.RegisterRoutes(router, middleware.AuthMiddleware(verifier, userService, logger), handlers.Handlers{
		Conversations: handlers.NewConversationHandler(conversationService, messageService, typingService, auditEmitter),
		Messages:      handlers.NewMessageHandler(messageService, deliveryService, blobStore, auditEmitter),
		Users:         handlers.NewUserHandler(userService, blockService, blobStore, auditEmitter),
	})
	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.Debug)

	router.GET("/ws", wsHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": hub.Active()})
	})
	if strings.HasPrefix(cfg.Blob.BaseURL, "/") {
		router.Static(cfg.Blob.BaseURL, cfg.Blob.Dir)
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: cors.Handler(cors.Options{
			AllowedOrigins:   cfg.HTTP.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		})(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.Fatal("failed to listen for grpc", zap.String("addr", cfg.GRPC.Addr), zap.Error(err))
	}
	healthServer := grpcserver.New(database, logger)
	go func() {
		if err := healthServer.Serve(ctx, grpcListener); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr), zap.String("instance_id", instanceID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// newTypingStore shares typing state through Redis when configured and falls
// back to process memory otherwise.
func newTypingStore(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.Logger) signals.TypingStore {
	if cfg.Redis.Addr == "" {
		return signals.NewMemoryTyping(clk, cfg.Messaging.TypingTTL)
	}
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, typing state is per instance", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = cli.Close()
		return signals.NewMemoryTyping(clk, cfg.Messaging.TypingTTL)
	}
	return signals.NewRedisTyping(cli, clk, cfg.Messaging.TypingTTL)
}
