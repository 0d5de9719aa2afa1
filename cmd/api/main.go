package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/history"
	"classattend/internal/httpapi"
	"classattend/internal/httpmiddleware"
	"classattend/internal/messaging"
	"classattend/internal/model"
	"classattend/internal/roster"
	"classattend/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var redisClient *store.Redis
	if cfg.StoreBackend == "redis" || cfg.BrokerBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Client.Close()
	}

	kv, closeKV, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeKV()
	log.Printf("store backend: %s", cfg.StoreBackend)

	var seed []model.Student
	if cfg.SeedRoster {
		seed = roster.DefaultSeed()
	}
	students := roster.Load(ctx, kv, seed, logger)
	sessions := history.Load(ctx, kv, logger)

	var rdb *redis.Client
	if redisClient != nil {
		rdb = redisClient.Client
	}
	broker, err := messaging.Open(cfg.BrokerBackend, mqttOptions(cfg, logger), rdb)
	if err != nil {
		return err
	}
	defer broker.Close()
	log.Printf("broker backend: %s", cfg.BrokerBackend)

	// One feed per topic; the monitor topics only fill the recent-message buffer.
	var monitored []*messaging.Feed
	byTopic := make(map[string]*messaging.Feed)
	for _, topic := range cfg.Topics() {
		f := messaging.NewFeed(broker, topic, logger)
		byTopic[topic] = f
		monitored = append(monitored, f)
	}
	scanFeed, manualFeed := byTopic[cfg.ScanTopic], byTopic[cfg.ManualTopic]

	live := attendance.NewLive(students, sessions, scanFeed, loc, logger)
	recorder := attendance.NewRecorder(students, sessions, manualFeed, loc, logger)

	var feeds sync.WaitGroup
	runFeed := func(f *messaging.Feed, handle func(context.Context, messaging.Message)) {
		feeds.Add(1)
		go func() {
			defer feeds.Done()
			if err := f.Run(ctx, handle); err != nil {
				log.Printf("feed %s stopped: %v", f.Topic(), err)
			}
		}()
	}
	for _, f := range monitored {
		if f == scanFeed {
			runFeed(f, live.HandleMessage)
		} else {
			runFeed(f, nil)
		}
	}

	h := httpapi.New(httpapi.Deps{
		Roster:   students,
		History:  sessions,
		Live:     live,
		Recorder: recorder,
		Feeds:    monitored,
		Store:    kv,
		Broker:   broker,
		Location: loc,
	})

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	feeds.Wait()

	log.Println("Server exited")
	return nil
}

// openStore returns the configured KV backend and a function releasing it.
func openStore(ctx context.Context, cfg config.App, redisClient *store.Redis) (store.KV, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), noop, nil
	case "redis":
		if !redisClient.Healthy(ctx) {
			log.Printf("warning: redis not reachable at %s", cfg.RedisAddr)
		}
		return store.NewRedisKV(redisClient.Client, ""), noop, nil
	case "postgres":
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			if db != nil {
				_ = db.Close()
			}
			return nil, noop, fmt.Errorf("postgres: %w", err)
		}
		kv, err := store.NewPostgresKV(ctx, db.Client)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return kv, func() { _ = db.Close() }, nil
	case "sqlite":
		kv, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return kv, func() { _ = kv.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func mqttOptions(cfg config.App, logger *slog.Logger) messaging.MQTTOptions {
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "classattend-" + uuid.NewString()[:8]
	}
	return messaging.MQTTOptions{
		BrokerURL:      cfg.MQTTBrokerURL,
		ClientID:       clientID,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
