package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"social-realtime/internal/auth"
	"social-realtime/internal/chat"
	"social-realtime/internal/config"
	"social-realtime/internal/db"
	"social-realtime/internal/grpcserver"
	"social-realtime/internal/handlers"
	"social-realtime/internal/middleware"
	"social-realtime/internal/models"
	"social-realtime/internal/observability"
	"social-realtime/internal/presence"
	"social-realtime/internal/rabbitmq"
	"social-realtime/internal/repositories"
	"social-realtime/internal/storage"
	"social-realtime/internal/telemetry"
	"social-realtime/internal/ws"
)

const auditRoutingKey = "audit.chat"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("dev").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))

	chats, users, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err, "driver", cfg.StoreDriver)
		os.Exit(1)
	}
	defer closeStores()

	media, err := openMedia(cfg, logger)
	if err != nil {
		logger.Error("media store init failed", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(chats, logger)
	registry := presence.NewRegistry(users, func(online []string) {
		hub.BroadcastAll(models.EventUserOnline, online)
	}, logger)
	monitor := &presence.Monitor{
		Registry:   registry,
		Interval:   cfg.PresenceSweepInterval,
		StaleAfter: cfg.PresenceStaleAfter,
		Logger:     logger,
	}
	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("presence monitor stopped", "error", err)
		}
	}()

	service := chat.NewService(chat.Options{
		Chats:    chats,
		Users:    users,
		Media:    media,
		Rooms:    hub,
		Presence: registry,
		Logger:   logger,
	})
	authenticator := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, users)
	gateway := ws.NewGateway(hub, registry, service, authenticator, cfg.ClientSendBuffer, logger)
	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Env, logger)

	router := newRouter(cfg, logger, gateway, service, realtimeStats{hub: hub, registry: registry}, authenticator, audit)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpcserver.New(cfg.ServiceName, logger)
	go func() {
		if err := grpcServer.ListenAndServe(ctx, cfg.GRPCAddr); err != nil {
			logger.Error("grpc server failed", "error", err, "addr", cfg.GRPCAddr)
		}
	}()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcServer.SetServing(false)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		registry.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.StoreDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	<-drained
	logger.Info("HTTP server stopped")
}

func newRouter(cfg config.Config, logger *slog.Logger, gateway *ws.Gateway, service *chat.Service, stats realtimeStats, authenticator auth.Authenticator, audit *telemetry.AuditEmitter) *gin.Engine {
	if cfg.Env != "dev" && cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.AccessLogMiddleware(logger))
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gateway.Handle)

	api := router.Group("/", middleware.AuthMiddleware(authenticator))
	handlers.NewChatHandler(service, audit).Register(api)
	handlers.NewGroupHandler(service, audit).Register(api)
	handlers.NewPresenceHandler(stats.registry).Register(api)
	handlers.RegisterDebugRoutes(router, audit, stats, cfg.DebugRoutes)
	return router
}

type realtimeStats struct {
	hub      *ws.Hub
	registry *presence.Registry
}

func (s realtimeStats) ClientCount() int { return s.hub.ClientCount() }

func (s realtimeStats) OnlineUsers() []string { return s.registry.OnlineUsers() }

func corsConfig(origins []string) cors.Config {
	conf := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposeHeaders: []string{"X-Request-Id"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		conf.AllowAllOrigins = true
		return conf
	}
	conf.AllowOrigins = origins
	conf.AllowCredentials = true
	return conf
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (repositories.ChatRepository, repositories.UserRepository, func(), error) {
	if cfg.StoreDriver == "memory" {
		seeded := parseSeedUsers(cfg.SeedUsers)
		logger.Info("using in-memory stores", "seed_users", len(seeded))
		return repositories.NewMemoryChatRepo(), repositories.NewMemoryUserRepo(seeded...), func() {}, nil
	}

	mongoDB, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, nil, err
	}
	sqlDB, err := db.Connect(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		_ = mongoDB.Client().Disconnect(context.Background())
		return nil, nil, nil, err
	}
	closeAll := func() {
		if err := sqlDB.Close(); err != nil {
			logger.Warn("postgres close failed", "error", err)
		}
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}
	return repositories.NewMongoChatRepo(mongoDB), repositories.NewUserRepo(sqlDB), closeAll, nil
}

func openMedia(cfg config.Config, logger *slog.Logger) (storage.MediaStore, error) {
	if cfg.S3Endpoint == "" {
		logger.Warn("S3_ENDPOINT not set, media kept in memory")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewS3Store(cfg.S3Endpoint, cfg.S3UseSSL, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicEndpoint, logger)
}

// parseSeedUsers reads "id:username[:full name],..." into profiles for the memory driver.
func parseSeedUsers(raw string) []models.User {
	var users []models.User
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		user := models.User{ID: strings.TrimSpace(parts[0])}
		if user.ID == "" {
			continue
		}
		user.Username = user.ID
		if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
			user.Username = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			user.FullName = strings.TrimSpace(parts[2])
		}
		users = append(users, user)
	}
	return users
}
