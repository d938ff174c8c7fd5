// Package main - Social Inbox entry point
// Wires adapters, the canonical store and services, then serves HTTP
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"social-inbox/internal/adapters/gateway"
	"social-inbox/internal/adapters/handler"
	"social-inbox/internal/adapters/repository"
	"social-inbox/internal/adapters/websocket"
	"social-inbox/internal/config"
	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
	"social-inbox/internal/core/services"
	"social-inbox/internal/core/store"
)

func main() {
	fmt.Println("=== Social Inbox - Initialization ===")

	// 1. Load Configuration from Environment
	fmt.Println("[1/6] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.App.LogLevel})))
	fmt.Printf("✓ Config loaded (DB: %s@%s:%d, Redis: %s)\n",
		cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.Redis.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to MariaDB with Retry Logic
	// Docker containers may not be ready immediately, so we retry
	fmt.Println("[2/6] Connecting to MariaDB...")
	var mariadbRepo *repository.MariaDBRepository
	db, err := connectMariaDB(ctx, cfg.DB, 5, 2*time.Second)
	if err != nil {
		fmt.Printf("⚠ MariaDB unavailable, running in-memory only: %v\n", err)
	} else {
		defer db.Close()
		mariadbRepo = repository.NewMariaDBRepository(db)
		if err := mariadbRepo.EnsureSchema(ctx); err != nil {
			log.Fatalf("❌ Failed to prepare schema: %v", err)
		}
		fmt.Println("✓ MariaDB connection established")
	}

	// 3. Connect to Redis with Retry Logic
	fmt.Println("[3/6] Connecting to Redis...")
	var redisRepo *repository.RedisRepository
	rdb, err := connectRedis(ctx, cfg.Redis, 5, 2*time.Second)
	if err != nil {
		fmt.Printf("⚠ Redis unavailable, snapshot cache disabled: %v\n", err)
	} else {
		defer rdb.Close()
		redisRepo = repository.NewRedisRepository(rdb, "inbox", cfg.Redis.SnapshotTTL)
		fmt.Println("✓ Redis connection established")
	}

	// 4. Canonical store, loaded through the persistence bridge
	fmt.Println("[4/6] Loading canonical state...")
	s := store.New(newBridge(mariadbRepo, redisRepo))
	if err := s.Load(ctx); err != nil {
		fmt.Printf("⚠ State load failed, running in-memory only until restart: %v\n", err)
	}
	registry := store.NewRegistry(s)

	var events *websocket.EventHub
	if cfg.App.EventsSecret != "" {
		events = websocket.NewEventHub(cfg.App.EventsSecret)
		s.SetPublisher(events)
		go events.Run(ctx)
	}
	fmt.Printf("✓ State loaded (%d conversations, %d messages)\n",
		len(s.Conversations("")), s.MessageCount())

	// 5. Platform adapters and services
	fmt.Println("[5/6] Initializing services...")
	adapters := map[domain.Platform]ports.PlatformAdapter{
		domain.PlatformFacebook: gateway.NewFacebookClient(gateway.FacebookConfig{
			ClientConfig: gateway.ClientConfig{APIVersion: cfg.Facebook.APIVersion, QPS: cfg.App.RateLimitQPS, Burst: 5},
			AppID:        cfg.Facebook.AppID,
			AppSecret:    cfg.Facebook.AppSecret,
		}),
		domain.PlatformInstagram: gateway.NewInstagramClient(gateway.InstagramConfig{
			ClientConfig: gateway.ClientConfig{APIVersion: cfg.Instagram.APIVersion, QPS: cfg.App.RateLimitQPS, Burst: 5},
			AppID:        cfg.Instagram.AppID,
			AppSecret:    cfg.Instagram.AppSecret,
		}),
	}

	creds := services.NewCredentialManager(registry, adapters, cfg.App.ValidationTTL)
	syncer := services.NewSyncOrchestrator(s, registry, creds, adapters)
	outbound := services.NewOutbound(s, registry, creds, adapters)

	var audit ports.WebhookRepository
	if mariadbRepo != nil {
		audit = mariadbRepo
	}
	ingestor := services.NewIngestor(s, registry, adapters, audit)
	fmt.Println("✓ Services initialized")

	// 6. HTTP handlers
	fmt.Println("[6/6] Initializing HTTP handlers...")
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"code":200,"message":"Social Inbox is running","data":null}`)
	}).Methods(http.MethodGet)

	handler.NewWebhookHandler(ingestor, map[domain.Platform]string{
		domain.PlatformFacebook:  cfg.Facebook.VerifyToken,
		domain.PlatformInstagram: cfg.Instagram.VerifyToken,
	}).RegisterRoutes(router)
	handler.NewInboxHandler(s, registry, syncer, outbound, creds).RegisterRoutes(router)
	handler.NewDashboardHandler(s, registry, syncer.Pause(), handler.DashboardConfig{
		WatchdogThreshold: cfg.Watchdog.DiskThreshold,
		Persistent:        mariadbRepo != nil,
	}).RegisterRoutes(router)
	if events != nil {
		router.HandleFunc("/ws/events", events.ServeWS).Methods(http.MethodGet)
	}
	fmt.Println("✓ Handlers initialized")

	fmt.Println("\n✅ Social Inbox Ready")

	// Background sync and, with a database, the audit-log watchdog
	go syncer.Run(ctx, cfg.App.SyncInterval)
	if mariadbRepo != nil {
		watchdog := services.NewWatchdog(mariadbRepo, services.WatchdogConfig{
			DiskThresholdPct: cfg.Watchdog.DiskThreshold,
			Retention:        cfg.Watchdog.Retention(),
		})
		go watchdog.Run(ctx)
	}

	if err := serveHTTP(ctx, cfg.App.Port, router); err != nil {
		log.Fatalf("❌ HTTP server failed: %v", err)
	}
	fmt.Println("Shutdown complete")
}

// newBridge builds the persistence bridge from whichever backends are up.
// Typed nil pointers must not reach the interfaces.
func newBridge(db *repository.MariaDBRepository, cache *repository.RedisRepository) ports.StateBridge {
	var (
		durable ports.StateBridge
		snap    repository.SnapshotCache
	)
	if db != nil {
		durable = db
	}
	if cache != nil {
		snap = cache
	}
	if durable == nil && snap == nil {
		return nil
	}
	return repository.NewBridge(durable, snap)
}

// connectMariaDB attempts to connect to MariaDB with retry logic
// Retries are necessary because Docker containers may still be initializing
func connectMariaDB(ctx context.Context, cfg config.DBConfig, maxRetries int, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("configure db driver: %w", err)
	}

	for i := 1; i <= maxRetries; i++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		log.Printf("  Attempt %d/%d: Cannot ping MariaDB: %v", i, maxRetries, err)
		if i < maxRetries && !sleep(ctx, retryDelay) {
			break
		}
	}

	db.Close()
	return nil, fmt.Errorf("mariadb unreachable after %d attempts: %w", maxRetries, err)
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(ctx context.Context, cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 1; i <= maxRetries; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		log.Printf("  Attempt %d/%d: Cannot ping Redis: %v", i, maxRetries, err)
		if i < maxRetries && !sleep(ctx, retryDelay) {
			break
		}
	}

	rdb.Close()
	return nil, fmt.Errorf("redis unreachable after %d attempts: %w", maxRetries, err)
}

// sleep waits d or until ctx is done; false means ctx ended
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// serveHTTP runs the server until ctx is cancelled, then drains it
func serveHTTP(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("[HTTP] Server listening on %s\n", srv.Addr)
	fmt.Printf("[HTTP] Webhooks: /webhook/facebook, /webhook/instagram\n")
	fmt.Println("[READY] Press Ctrl+C to stop")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
