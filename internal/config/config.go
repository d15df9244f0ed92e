package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	AMQPURL     string
	Port        string
	JWTSecret   string
	DevMode     bool

	// Simulated delays for the payment and transfer flows, overridable so
	// demos and tests can run faster.
	DepositAutoAdvance   time.Duration
	PaymentSimulation    time.Duration
	TransferVerification time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 "8080", // default port
		DepositAutoAdvance:   25 * time.Second,
		PaymentSimulation:    20 * time.Second,
		TransferVerification: 2 * time.Second,
	}

	// Load DEV_MODE first: it decides whether a database is required
	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	// Load DATABASE_URL and log connection details (password masked)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" && !cfg.DevMode {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required (or set DEV_MODE=true)")
	}
	cfg.DatabaseURL = databaseURL

	if databaseURL != "" {
		if u, err := url.Parse(databaseURL); err == nil {
			host := u.Hostname()
			if host == "" {
				host = "localhost"
			}
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			dbName := strings.TrimPrefix(u.Path, "/")
			if idx := strings.Index(dbName, "?"); idx >= 0 {
				dbName = dbName[:idx]
			}
			user := u.User.Username()
			if user == "" {
				user = "(none)"
			}
			log.Printf("DB connect: host=%s port=%s db=%s user=%s", host, port, dbName, user)
		}
	}

	// Load PORT (optional, defaults to 8080)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_SECRET (required)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	// Load REDIS_URL (optional; without it change notifications stay
	// in-process and only a single instance sees them)
	cfg.RedisURL = os.Getenv("REDIS_URL")

	// Load AMQP_URL (optional; without it audit events are not published)
	cfg.AMQPURL = os.Getenv("AMQP_URL")

	// Simulated-delay overrides, in seconds
	if v, err := envSeconds("DEPOSIT_AUTO_ADVANCE_SECONDS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.DepositAutoAdvance = v
	}
	if v, err := envSeconds("PAYMENT_SIMULATION_SECONDS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.PaymentSimulation = v
	}
	if v, err := envSeconds("TRANSFER_VERIFICATION_SECONDS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.TransferVerification = v
	}

	return cfg, nil
}

func envSeconds(name string) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return time.Duration(n) * time.Second, nil
}
