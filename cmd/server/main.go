// Package main runs the Practice Arena HTTP server with WebSocket delivery and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/practice-arena/backend/config"
	"github.com/practice-arena/backend/internal/arena"
	"github.com/practice-arena/backend/internal/auth"
	"github.com/practice-arena/backend/internal/broadcast"
	"github.com/practice-arena/backend/internal/content"
	"github.com/practice-arena/backend/internal/leaderboard"
	"github.com/practice-arena/backend/internal/middleware"
	"github.com/practice-arena/backend/internal/models"
	"github.com/practice-arena/backend/internal/realtime"
	"github.com/practice-arena/backend/internal/users"
	"github.com/practice-arena/backend/pkg/database"
	"github.com/practice-arena/backend/pkg/queue"
	"github.com/practice-arena/backend/pkg/redis"
	"github.com/practice-arena/backend/pkg/response"
	"github.com/practice-arena/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:             cfg.AWS.Region,
			AccessKeyID:        cfg.AWS.AccessKeyID,
			SecretAccessKey:    cfg.AWS.SecretAccessKey,
			Endpoint:           cfg.AWS.Endpoint,
			QuestionSetsBucket: cfg.AWS.QuestionSetsBucket,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Realtime: with Redis every instance receives each event and delivers it to its own sockets.
	var (
		hub       *realtime.Hub
		transport broadcast.Transport
		limiter   broadcast.RateStore
	)
	if cfg.Arena.BroadcastTransport == "local" {
		hub = realtime.NewHub(logger, nil)
		transport, limiter = hub, broadcast.NewMemoryRateStore()
	} else {
		redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, redisPubSub)
		transport, limiter = redisPubSub, broadcast.NewRedisRateStore(rdb.Client)
	}
	gateway := broadcast.NewGateway(transport, limiter, broadcast.Options{
		MinInterval:   cfg.Arena.BroadcastInterval,
		SweepInterval: cfg.Arena.BroadcastSweep,
		EntryMaxAge:   cfg.Arena.BroadcastEntryTTL,
		BufferSize:    cfg.Arena.BroadcastBuffer,
	}, logger)
	gateway.Start()
	defer gateway.Close()

	// Content sources
	flashcards := content.NewFlashcardRepository(pool)
	pipeline := content.NewPipeline(logger)
	pipeline.Register(models.SourceDeck, content.DeckSource{Cards: flashcards})
	pipeline.Register(models.SourceStudyHistory, content.HistorySource{Cards: flashcards})
	if s3Client != nil {
		pipeline.Register(models.SourceUpload, content.UploadSource{Store: s3Client})
	}
	if cfg.AI.APIKey != "" {
		pipeline.Register(models.SourceAIGenerated, content.NewAISource(content.AIConfig{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
		}, logger))
	} else {
		logger.Warn("AI question generation disabled (AI_API_KEY not set)")
	}

	// Weekly leaderboard
	aggregator := leaderboard.NewAggregator(leaderboard.NewRepository(pool), leaderboard.NewRedisCache(rdb.Client), logger)
	var stats arena.StatsRecorder = aggregator
	if cfg.Arena.AsyncStats {
		stats = leaderboard.NewQueuedRecorder(queue.NewQueue(rdb.Client, logger), aggregator, logger)
		logger.Info("weekly stats are applied by the worker")
	}

	// Arenas
	arenaCfg := arena.DefaultConfig()
	arenaCfg.Countdown = cfg.Arena.Countdown
	arenaCfg.RoundPause = cfg.Arena.RoundPause
	arenaCfg.ResponseGrace = cfg.Arena.ResponseGrace
	arenaCfg.MaxQuestions = cfg.Arena.MaxQuestions
	arenaCfg.MinTimePerQuestion = cfg.Arena.MinTimePerQuestion
	arenaCfg.MaxTimePerQuestion = cfg.Arena.MaxTimePerQuestion
	arenaCfg.DefaultMaxPlayers = cfg.Arena.DefaultMaxPlayers
	arenaCfg.MaxPlayers = cfg.Arena.MaxPlayers
	arenaSvc := arena.NewService(arena.NewRepository(pool), pipeline, gateway, users.NewRepository(pool), stats, arenaCfg, logger)
	hub.SetPresenceHandler(func(arenaID, userID uuid.UUID, connected bool) {
		arenaSvc.SetConnected(arenaID, userID, connected)
	})

	arenaHandler := arena.NewHandler(arenaSvc, logger)
	leaderboardHandler := leaderboard.NewHandler(aggregator, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		sent, dropped, failed := gateway.Stats()
		response.OK(c, gin.H{"status": "ok", "broadcast": gin.H{"sent": sent, "dropped": dropped, "failed": failed}})
	})

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Arenas
		api.POST("/arenas", arenaHandler.Create)
		api.POST("/arenas/join", arenaHandler.Join)
		api.GET("/arenas/:id", arenaHandler.Get)
		api.POST("/arenas/:id/start", arenaHandler.Start)
		api.POST("/arenas/:id/answers", arenaHandler.Answer)
		api.POST("/arenas/:id/cancel", arenaHandler.Cancel)
		api.POST("/arenas/:id/leave", arenaHandler.Leave)

		// Question set uploads for the UPLOAD source
		if s3Client != nil {
			api.POST("/arenas/uploads", content.NewHandler(s3Client, logger).Upload)
		}

		// Leaderboard
		api.GET("/leaderboard/weekly", leaderboardHandler.Weekly)
	}

	// WebSocket (token in query; no Authorization header required)
	snapshot := func(ctx context.Context, arenaID uuid.UUID) (any, error) {
		return arenaSvc.Snapshot(ctx, arenaID)
	}
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.UserID, snapshot))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := arenaSvc.Shutdown(shutdownCtx); err != nil {
		logger.Error("arena shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
