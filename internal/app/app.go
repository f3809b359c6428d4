// Package app assembles the trust subsystem from configuration. Both the
// API server and the operator CLI build their collaborators here.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-trust/internal/admin"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/auth"
	"github.com/ovaphlow/pitchfork/service-trust/internal/config"
	"github.com/ovaphlow/pitchfork/service-trust/internal/payment"
	"github.com/ovaphlow/pitchfork/service-trust/internal/router"
	"github.com/ovaphlow/pitchfork/service-trust/internal/session"
	"github.com/ovaphlow/pitchfork/service-trust/internal/signuplog"
	"github.com/ovaphlow/pitchfork/service-trust/internal/trust"
	"github.com/ovaphlow/pitchfork/service-trust/pkg/database"
	"github.com/ovaphlow/pitchfork/service-trust/pkg/utilities"
)

// App holds the wired components and the resources they own.
type App struct {
	Config    config.Config
	Store     *account.Store
	Registry  *session.Registry
	Engine    *trust.Engine
	Simulator *payment.Simulator
	Admin     *admin.Service
	Tokens    *auth.TokenService
	Signups   *signuplog.Async

	logger *zap.SugaredLogger
	db     *sqlx.DB
	redis  *redis.Client
}

// Build connects the configured backend and wires every component. The
// caller must Close the returned App.
func Build(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &App{Config: cfg, logger: logger}

	r, err := a.openRepository(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	rec, err := signuplog.New(signuplog.ConfigFromEnv())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("signup recorder: %w", err)
	}
	ids, err := utilities.IDGenFromEnv()
	if err != nil {
		a.Close()
		return nil, err
	}
	tokens, err := newTokenService(logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Store = account.NewStore(r, account.BcryptHasher{Cost: cfg.BcryptCost})
	a.Store.AdminEmail = cfg.AdminEmail
	a.Signups = signuplog.NewAsync(rec, signuplog.ConfigFromEnv().Timeout, logger)
	a.Registry = session.NewRegistry(a.Store, a.Signups, logger)
	a.Engine = trust.NewEngine(a.Store, a.Registry, logger)
	a.Simulator = payment.NewSimulator(a.Store, a.Engine, a.Registry, ids, logger)
	a.Simulator.StepDelay = payment.ConfigFromEnv().StepDelay
	a.Admin = admin.NewService(a.Engine, logger)
	a.Tokens = tokens

	logger.Infow("trust subsystem ready", "backend", cfg.Backend, "admin", cfg.AdminEmail)
	return a, nil
}

func (a *App) openRepository(ctx context.Context) (repo.Repository, error) {
	switch a.Config.Backend {
	case config.BackendMemory, "":
		return repo.NewMemoryRepo(), nil
	case config.BackendPostgres, config.BackendSQLite:
		driver := database.DriverPostgres
		if a.Config.Backend == config.BackendSQLite {
			driver = database.DriverSQLite
		}
		db, err := database.Connect(database.ConfigFromEnv(driver))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
		}
		a.db = db
		r := repo.NewSQLRepo(db)
		if err := r.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return r, nil
	case config.BackendRedis:
		rc := a.Config.Redis
		a.redis = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%w: redis ping: %v", apperr.ErrStoreUnavailable, err)
		}
		return repo.NewRedisRepo(a.redis, rc.Hash), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", a.Config.Backend)
	}
}

// newTokenService falls back to a random per-process secret when
// JWT_SECRET is unset; tokens then do not survive a restart.
func newTokenService(logger *zap.SugaredLogger) (*auth.TokenService, error) {
	cfg := auth.ConfigFromEnv()
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		logger.Warn("JWT_SECRET not set; using an ephemeral secret")
	}
	return auth.NewTokenService(cfg)
}

// Ready reports whether the backing store is reachable.
func (a *App) Ready(ctx context.Context) error {
	switch {
	case a.db != nil:
		return a.db.PingContext(ctx)
	case a.redis != nil:
		return a.redis.Ping(ctx).Err()
	}
	return nil
}

// Routes mounts the HTTP API on top of the wired components.
func (a *App) Routes() http.Handler {
	return router.RegisterRoutes(a.logger, router.Deps{
		Registry:  a.Registry,
		Tokens:    a.Tokens,
		Engine:    a.Engine,
		Simulator: a.Simulator,
		Admin:     a.Admin,
		Ready:     func() error { return a.Ready(context.Background()) },
	})
}

// Close drains pending signup deliveries and releases the store.
func (a *App) Close() error {
	if a.Signups != nil {
		a.Signups.Wait()
	}
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
