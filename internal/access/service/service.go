package service

import (
	"context"
	"log/slog"

	"landgrid/internal/access/models"
	"landgrid/internal/platform/events"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
	"landgrid/pkg/requestcontext"
)

// Store persists the role table.
type Store interface {
	Grant(ctx context.Context, role models.Role, account domain.Account) (bool, error)
	Revoke(ctx context.Context, role models.Role, account domain.Account) (bool, error)
	Has(ctx context.Context, role models.Role, account domain.Account) (bool, error)
}

// Service is the access control table: every privileged operation in the
// registry and marketplace checks against it.
type Service struct {
	roles     Store
	logger    *slog.Logger
	publisher events.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func New(roles Store, opts ...Option) *Service {
	s := &Service{roles: roles}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed grants the deployer every role. Runs once at startup before any
// authenticated traffic, so it bypasses the admin check; afterwards the admin
// role is self-sustaining.
func (s *Service) Seed(ctx context.Context, deployer domain.Account) error {
	if deployer.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "deployer account is required")
	}
	for _, role := range []models.Role{models.RoleAdmin, models.RoleMinter, models.RoleURIUpdater} {
		if _, err := s.roles.Grant(ctx, role, deployer); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to seed deployer roles")
		}
	}
	return nil
}

// HasRole reports whether the account holds the role.
func (s *Service) HasRole(ctx context.Context, role models.Role, account domain.Account) (bool, error) {
	held, err := s.roles.Has(ctx, role, account)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check role")
	}
	return held, nil
}

// RequireRole fails with CodeUnauthorized unless the calling account holds
// the role. Registry and marketplace services use this as the precondition of
// every privileged mutation.
func (s *Service) RequireRole(ctx context.Context, role models.Role) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	held, err := s.roles.Has(ctx, role, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check role")
	}
	if !held {
		return dErrors.New(dErrors.CodeUnauthorized, "caller lacks required role "+string(role))
	}
	return nil
}

// GrantRole adds an account to a role. Admin only. Granting an already-held
// role succeeds without effect and without a duplicate event.
func (s *Service) GrantRole(ctx context.Context, role models.Role, account domain.Account) error {
	if err := s.RequireRole(ctx, models.RoleAdmin); err != nil {
		return err
	}
	if account.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "account is required")
	}
	changed, err := s.roles.Grant(ctx, role, account)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to grant role")
	}
	if changed {
		s.emit(ctx, events.KindRoleGranted, role, account)
	}
	return nil
}

// RevokeRole removes an account from a role. Admin only. Revoking an unheld
// role succeeds without effect.
func (s *Service) RevokeRole(ctx context.Context, role models.Role, account domain.Account) error {
	if err := s.RequireRole(ctx, models.RoleAdmin); err != nil {
		return err
	}
	if account.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "account is required")
	}
	changed, err := s.roles.Revoke(ctx, role, account)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke role")
	}
	if changed {
		s.emit(ctx, events.KindRoleRevoked, role, account)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, kind events.Kind, role models.Role, account domain.Account) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(kind),
			"role", string(role),
			"account", account.String(),
			"actor", requestcontext.Caller(ctx).String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Emit(ctx, events.Event{
		Kind:      kind,
		Timestamp: requestcontext.Now(ctx),
		Actor:     requestcontext.Caller(ctx),
		Role:      string(role),
		Detail:    account.String(),
		RequestID: requestcontext.RequestID(ctx),
	})
}
