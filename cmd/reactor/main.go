package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"tipwire/internal/core/ports"
	"tipwire/internal/core/services"
	httphandlers "tipwire/internal/handlers/http"
	"tipwire/internal/infrastructure/collaborators"
	"tipwire/internal/infrastructure/distributed"
	"tipwire/internal/infrastructure/ingest"
	"tipwire/internal/infrastructure/middleware"
	"tipwire/internal/infrastructure/monitoring"
	memoryrepo "tipwire/internal/infrastructure/repositories/memory"
	redisrepo "tipwire/internal/infrastructure/repositories/redis"
	"tipwire/internal/infrastructure/reliability"
	"tipwire/pkg/circuitbreaker"
	"tipwire/pkg/config"
	"tipwire/pkg/logger"
	"tipwire/pkg/retry"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/tipwire/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize monitoring
	metrics := monitoring.NewPrometheusCollector()
	health := monitoring.NewHealthChecker()

	// Initialize storage: in-memory by default, Redis when enabled
	var (
		users       ports.UserRepository
		songCache   ports.SongCacheRepository
		locker      ports.ResourceLocker
		redisClient *redis.Client
	)

	if cfg.Redis.Enabled {
		redisClient, err = redisrepo.Connect(context.Background(), redisrepo.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()

		users = redisrepo.NewRedisUserRepository(redisClient)
		songCache = redisrepo.NewRedisSongCacheRepository(redisClient)
		locker = distributed.NewRedisLocker(redisClient, "tipwire:lock", 30*time.Second, 5*time.Second, log)
		health.AddRedisCheck(redisClient, 15*time.Second, 2*time.Second)
	} else {
		users = memoryrepo.NewMemoryUserRepository()
		memCache := memoryrepo.NewMemorySongCacheRepository(cfg.Dispatch.SongCacheTTL)
		defer memCache.Stop()
		songCache = memCache
		locker = services.NewLocalLocker()
	}
	health.AddUserStoreCheck(users, 15*time.Second, 2*time.Second)

	// Collaborator adapters
	musicClient := collaborators.NewMusicClient(collaborators.MusicClientConfig{
		BaseURL:           cfg.Music.BaseURL,
		APIToken:          cfg.Music.APIToken,
		Timeout:           cfg.Music.Timeout,
		RequestsPerSecond: cfg.Music.RequestsPerSecond,
		Burst:             cfg.Music.Burst,
	}, log)
	music := reliability.NewMusicServiceWrapper(musicClient, circuitbreaker.DefaultConfig(), metrics, log)
	if cfg.Components.ChatAutoDJ {
		health.AddMusicServiceCheck(music, 30*time.Second, 5*time.Second)
	}

	scenes := collaborators.NewOBSSceneController(cfg.OBS.Address, cfg.OBS.Password, cfg.OBS.Timeout, log)
	defer scenes.Close()

	audio := collaborators.NewLocalAudioPlayer(cfg.Audio.Directory, cfg.Audio.Player, log)

	// Command table
	commands := services.EmptyCommandTable()
	if cfg.Components.CommandParser || cfg.Components.CustomActions {
		commands, err = services.LoadCommandTable(cfg.Commands.File)
		if err != nil {
			log.Fatalw("failed to load command table", "file", cfg.Commands.File, "error", err)
		}
	}

	// Core services
	guard := services.NewGuardService(users, locker, log)

	resolver := services.NewResolverService(services.ResolverConfig{
		CommandSymbol: cfg.Commands.Symbol,
		SongCost:      cfg.Costs.Song,
		SkipCost:      cfg.Costs.Skip,
		UserRefresh:   cfg.Dispatch.UserRefresh,
	}, commands, users, log)
	defer resolver.Stop()

	dj := services.NewDJService(services.DJConfig{
		SongCost:     cfg.Costs.Song,
		SkipCost:     cfg.Costs.Skip,
		Market:       cfg.Music.Market,
		SongCacheTTL: cfg.Dispatch.SongCacheTTL,
		PendingMax:   cfg.Dispatch.PendingQueueMax,
		Retry:        retry.DefaultConfig(),
	}, users, songCache, music, guard, log)
	dj.SetMetrics(metrics)

	dispatcher := services.NewDispatcherService(services.DispatcherConfig{
		Workers:     cfg.Dispatch.Workers,
		CallTimeout: cfg.Dispatch.CallTimeout,
		Components: services.ComponentFlags{
			ChatAutoDJ:     cfg.Components.ChatAutoDJ,
			VIPAudio:       cfg.Components.VIPAudio,
			CommandParser:  cfg.Components.CommandParser,
			CustomActions:  cfg.Components.CustomActions,
			OBSIntegration: cfg.Components.OBSIntegration,
		},
		Cooldowns: services.CooldownConfig{
			VIPAudio:     cfg.Cooldowns.VIPAudio,
			Command:      cfg.Cooldowns.Command,
			CustomAction: cfg.Cooldowns.CustomAction,
		},
	}, resolver, guard, dj, scenes, audio, commands, metrics, log)

	// Background health checks
	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()
	health.StartBackgroundChecks(healthCtx)

	// Redis event source (optional second ingest path)
	if cfg.Redis.Enabled && cfg.Redis.Channel != "" {
		eventSource := distributed.NewEventSource(redisClient, cfg.Redis.Channel, dispatcher, metrics, log)
		go func() {
			if err := eventSource.Run(healthCtx); err != nil && healthCtx.Err() == nil {
				log.Errorw("event source stopped", "error", err)
			}
		}()
		defer eventSource.Close()
	}

	// Ingest WebSocket server
	wsServer := ingest.NewWebSocketServer(dispatcher, metrics, log)
	wsServer.SetPingInterval(cfg.Ingest.PingInterval)

	ingestMux := http.NewServeMux()
	ingestMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	ingestSrv := &http.Server{
		Addr:    cfg.Ingest.Address,
		Handler: ingestMux,
	}

	// Admin HTTP API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	authHandler := httphandlers.NewAuthHandler(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	authHandler.SetupRoutes(router)

	adminHandler := httphandlers.NewAdminHandler(dj, users, dispatcher, health, cfg.Auth.JWTSecret)
	adminHandler.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	adminSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start servers
	serverErr := make(chan error, 2)
	go func() {
		log.Infof("Starting tipwire admin server on %s", cfg.Server.Address)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go func() {
		log.Infof("Starting tipwire ingest server on %s", cfg.Ingest.Address)
		if err := ingestSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down tipwire...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking new events, then let in-flight dispatches drain
	wsServer.CloseAll()
	if err := ingestSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during ingest server shutdown", "error", err)
	}
	dispatcher.Shutdown()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during admin server shutdown", "error", err)
		if closeErr := adminSrv.Close(); closeErr != nil {
			log.Errorw("Error force closing admin server", "error", closeErr)
		}
	}

	log.Info("tipwire stopped")
}
