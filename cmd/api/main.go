package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"attendance-guard/internal/attendance"
	"attendance-guard/internal/config"
	"attendance-guard/internal/handler"
	"attendance-guard/internal/httpmiddleware"
	"attendance-guard/internal/queue"
	"attendance-guard/internal/store"
	"attendance-guard/internal/ws"
)

func main() {
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

// backend is the attendance store plus whatever live-query source fits it.
type backend struct {
	store   attendance.Store
	watcher attendance.Watcher
	closer  io.Closer
}

func openBackend(ctx context.Context, cfg config.App, bus queue.Queue, loc *time.Location) (backend, error) {
	switch cfg.StoreBackend {
	case "firestore":
		client, err := store.NewFirestore(ctx, store.FirestoreOptions{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			CredentialsJSON: cfg.FirebaseCredentialsJSON,
		})
		if err != nil {
			return backend{}, err
		}
		fs := attendance.NewFirestoreStore(client, cfg.Collection, loc)
		return backend{store: fs, watcher: fs, closer: client}, nil

	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL, 5*time.Second)
		if err != nil {
			return backend{}, err
		}
		pg, err := attendance.NewPostgresStore(db.Client, cfg.Collection)
		if err != nil {
			_ = db.Close()
			return backend{}, err
		}
		if cfg.MigrateOnStart {
			if err := pg.EnsureSchema(ctx); err != nil {
				_ = db.Close()
				return backend{}, fmt.Errorf("migrate: %w", err)
			}
		}
		return backend{store: pg, watcher: attendance.NewRefreshingWatcher(pg, bus, loc), closer: db}, nil

	case "memory":
		log.Println("WARNING: memory store selected, records are lost on restart")
		mem := attendance.NewMemoryStore()
		return backend{store: mem, watcher: attendance.NewRefreshingWatcher(mem, bus, loc)}, nil
	}
	return backend{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc := cfg.Location()
	health := map[string]handler.HealthCheck{}

	var redisClient *store.Redis
	if cfg.BusBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient.Healthy
	}

	var bus queue.Queue
	if cfg.BusBackend == "redis" {
		bus = queue.NewRedisQueue(redisClient.Client, "attendance:changes")
	} else {
		bus = queue.NewInMemory(64)
	}

	be, err := openBackend(ctx, cfg, bus, loc)
	if err != nil {
		return fmt.Errorf("store %s: %w", cfg.StoreBackend, err)
	}
	if be.closer != nil {
		defer be.closer.Close()
	}
	health["store"] = be.store.Healthy
	log.Printf("attendance store: %s (collection %s)", cfg.StoreBackend, cfg.Collection)

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	} else {
		limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	svc := attendance.NewService(be.store, bus, attendance.Options{
		SharedKey:       cfg.SharedKey,
		VerifierTag:     cfg.VerifierTag,
		DefaultSchoolID: cfg.DefaultSchoolID,
		StoreTimeout:    cfg.StoreTimeout,
	})

	hub := ws.NewHub()
	go hub.Run(ctx)

	h := handler.New(handler.Deps{
		CheckIns: svc,
		Store:    be.store,
		Watcher:  be.watcher,
		Hub:      hub,
		Location: loc,
		Tokens: handler.TokenConfig{
			Issuer:      cfg.JWTIssuer,
			SigningKey:  cfg.JWTSigningKey,
			AccessTTL:   cfg.AccessTTL,
			RefreshTTL:  cfg.RefreshTTL,
			AdminAPIKey: cfg.AdminAPIKey,
		},
		Health: health,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r, httpmiddleware.RateLimit(limiter))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Websocket streams are hijacked and not tracked by Shutdown.
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
