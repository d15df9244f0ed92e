package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/moneybridge/server/internal/audit"
	"github.com/moneybridge/server/internal/auth"
	"github.com/moneybridge/server/internal/config"
	"github.com/moneybridge/server/internal/db"
	"github.com/moneybridge/server/internal/flow"
	httprouter "github.com/moneybridge/server/internal/http"
	"github.com/moneybridge/server/internal/store"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var (
		recordStore store.Store
		recorder    audit.Recorder = audit.Nop{}
	)
	if cfg.DevMode && cfg.DatabaseURL == "" {
		log.Println("DEV_MODE: using the in-memory store, state is lost on restart")
		recordStore = store.NewMemoryStore()
	} else {
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer database.Close()

		if err := runMigrations(database); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		recordStore = store.NewPostgresStore(database, buildNotifier(ctx, cfg.RedisURL))
		recorder = audit.NewLog(database, cfg.AMQPURL)
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	otpProvider := auth.NewStubOtpProvider()

	timings := flow.Timings{
		DepositAutoAdvance:   cfg.DepositAutoAdvance,
		PaymentSimulation:    cfg.PaymentSimulation,
		TransferVerification: cfg.TransferVerification,
	}
	manager := flow.NewManager(func() *flow.Machine {
		return flow.NewMachine(recordStore, recorder, timings)
	}, 24*time.Hour)

	router := httprouter.NewRouter(jwtService, manager, otpProvider)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// buildNotifier prefers Redis so change notifications reach every instance;
// without REDIS_URL they stay in-process.
func buildNotifier(ctx context.Context, redisURL string) store.Notifier {
	if redisURL == "" {
		log.Println("REDIS_URL not set, change notifications stay in-process")
		return store.NewLocalNotifier()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to ping redis: %v", err)
	}
	return store.NewRedisNotifier(client)
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Resolve migration dir so it works from server/ or repo root
	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		migrationDir = "server/internal/db/migrations"
	}
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from server/ or repo root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	log.Printf("Running migrations from %s", absDir)

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
