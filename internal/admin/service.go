// Package admin is the administrative surface over the trust engine. It is
// the only place that checks the caller's role; the trust core itself
// authorizes nothing.
package admin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/trust"
)

// DefaultReason is stamped when an administrator gives none.
const DefaultReason = "Admin action"

// AccountSummary is the administrative listing row.
type AccountSummary struct {
	entity.View
	Key       string    `json:"key"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Service struct {
	engine *trust.Engine
	logger *zap.SugaredLogger
}

func NewService(engine *trust.Engine, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{engine: engine, logger: logger}
}

// Authorize fails with FORBIDDEN unless actor holds the admin role.
func Authorize(actor entity.View) error {
	if actor.Role != entity.RoleAdmin {
		return fmt.Errorf("%s: %w", actor.Email, apperr.ErrForbidden)
	}
	return nil
}

func (s *Service) Accounts(ctx context.Context, actor entity.View) ([]AccountSummary, error) {
	if err := Authorize(actor); err != nil {
		return nil, err
	}
	all, err := s.engine.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AccountSummary, 0, len(all))
	for _, a := range all {
		out = append(out, AccountSummary{View: a.View(), Key: a.Key, Version: a.Version, UpdatedAt: a.UpdatedAt})
	}
	return out, nil
}

func (s *Service) BadList(ctx context.Context, actor entity.View) ([]string, error) {
	if err := Authorize(actor); err != nil {
		return nil, err
	}
	return s.engine.BadList(ctx)
}

// MarkBad suspends an account on behalf of actor. Unknown accounts yield
// NOT_FOUND so the caller can tell a typo from success.
func (s *Service) MarkBad(ctx context.Context, actor entity.View, email, reason string) error {
	if err := Authorize(actor); err != nil {
		return err
	}
	if reason == "" {
		reason = DefaultReason
	}
	ok, err := s.engine.MarkBad(ctx, email, reason)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark bad %s: %w", email, apperr.ErrNotFound)
	}
	s.logger.Infow("admin marked account bad", "admin", actor.Email, "email", email, "reason", reason)
	return nil
}

func (s *Service) MarkGood(ctx context.Context, actor entity.View, email string) error {
	if err := Authorize(actor); err != nil {
		return err
	}
	ok, err := s.engine.MarkGood(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark good %s: %w", email, apperr.ErrNotFound)
	}
	s.logger.Infow("admin marked account good", "admin", actor.Email, "email", email)
	return nil
}
