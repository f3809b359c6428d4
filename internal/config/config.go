// Package config collects the process-level settings shared by the API
// server and the operator CLI. Component packages keep their own
// ConfigFromEnv for the knobs only they read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

type Redis struct {
	Addr     string
	Password string
	DB       int
	Hash     string
}

type Config struct {
	HTTPAddr        string
	Backend         string
	AdminEmail      string
	BcryptCost      int
	Redis           Redis
	SessionIdle     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads .env files best-effort (missing files are ignored) and then
// the environment.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)
	cfg := FromEnv()
	return cfg, cfg.Validate()
}

func FromEnv() Config {
	return Config{
		HTTPAddr:   getenv("HTTP_ADDR", "0.0.0.0:8431"),
		Backend:    strings.ToLower(getenv("STORE_BACKEND", BackendMemory)),
		AdminEmail: getenv("ADMIN_EMAIL", "admin@example.com"),
		BcryptCost: atoi(os.Getenv("BCRYPT_COST"), bcrypt.DefaultCost),
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       atoi(os.Getenv("REDIS_DB"), 0),
			Hash:     getenv("REDIS_HASH", "trust:accounts"),
		},
		SessionIdle:     time.Duration(atoi(os.Getenv("SESSION_IDLE_MINUTES"), 30)) * time.Minute,
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPostgres, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("STORE_BACKEND %q: want memory, postgres, sqlite or redis", c.Backend)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST %d out of range [%d,%d]", c.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
