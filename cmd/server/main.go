package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-sync/internal/audit"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/logging"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/repositories"
	"chat-sync/internal/ws"
)

const serviceName = "chat-sync"

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		boot := logging.New(true, serviceName)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := logging.New(cfg.IsDevelopment(), serviceName)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	logger.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).Msg("publisher ready")

	messageRepo := repositories.NewMessageRepo(database)
	preferenceRepo := repositories.NewPreferenceRepo(database)
	hub := ws.NewHub(publisher, logger)

	roomHandler := handlers.NewRoomHandler(messageRepo, hub, publisher, logger)
	preferenceHandler := handlers.NewPreferenceHandler(preferenceRepo, audit.NewEmitter(publisher, serviceName, cfg.Env, logger), logger)
	roomWS := ws.NewRoomWebSocketHandler(hub)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws/rooms/:room_id", roomWS.Handle)

	authed := router.Group("/", middleware.RequireUser())
	authed.GET("/rooms/:room_id/messages", roomHandler.ListMessages)
	authed.POST("/rooms/:room_id/messages", roomHandler.PostMessage)
	authed.POST("/rooms/:room_id/read", roomHandler.MarkRead)
	authed.GET("/rooms/:room_id/unread", roomHandler.Unread)
	authed.GET("/users/me/notification-settings", preferenceHandler.Get)
	authed.PUT("/users/me/notification-settings", preferenceHandler.Put)

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("failed to listen for grpc")
	}
	go func() {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown failed")
	}
	grpcServer.GracefulStop()
}
