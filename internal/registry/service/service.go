package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	accessmodels "landgrid/internal/access/models"
	"landgrid/internal/platform/events"
	registrymetrics "landgrid/internal/registry/metrics"
	"landgrid/internal/registry/models"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
	"landgrid/pkg/platform/sentinel"
	"landgrid/pkg/requestcontext"
)

// Store persists the parcel table and its operator approvals.
type Store interface {
	MintBatch(ctx context.Context, to domain.Account, n int, max uint64) ([]domain.TokenID, error)
	Get(ctx context.Context, id domain.TokenID) (*models.Parcel, error)
	Execute(ctx context.Context, id domain.TokenID, validate func(*models.Parcel) error, mutate func(*models.Parcel)) (*models.Parcel, error)
	Total(ctx context.Context) (uint64, error)
	CountByOwner(ctx context.Context, owner domain.Account) (int, error)
	SetApproval(ctx context.Context, owner, operator domain.Account, approved bool) error
	IsApproved(ctx context.Context, owner, operator domain.Account) (bool, error)
	AddApp(ctx context.Context, app domain.Account) error
	IsApp(ctx context.Context, app domain.Account) (bool, error)
}

// AccessChecker gates privileged registry operations on the role table.
type AccessChecker interface {
	RequireRole(ctx context.Context, role accessmodels.Role) error
}

// Service is the parcel registry: minting under the supply cap, ownership
// moves, and the owner/user/expiry model.
type Service struct {
	parcels  Store
	access   AccessChecker
	maxLands uint64

	uriMu   sync.RWMutex
	baseURI string

	logger    *slog.Logger
	publisher events.Publisher
	metrics   *registrymetrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithMetrics(m *registrymetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the registry service.
func New(parcels Store, access AccessChecker, baseURI string, maxLands uint64, opts ...Option) *Service {
	s := &Service{
		parcels:  parcels,
		access:   access,
		baseURI:  baseURI,
		maxLands: maxLands,
		tracer:   otel.Tracer("landgrid/registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxLands returns the fixed supply cap.
func (s *Service) MaxLands() uint64 {
	return s.maxLands
}

// TotalSupply returns how many parcels exist.
func (s *Service) TotalSupply(ctx context.Context) (uint64, error) {
	total, err := s.parcels.Total(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read supply")
	}
	return total, nil
}

// Mint creates one parcel owned by `to`. Requires the minter role.
func (s *Service) Mint(ctx context.Context, to domain.Account) (domain.TokenID, error) {
	ids, err := s.MintBatch(ctx, 1, to)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// MintBatch creates n parcels owned by `to`, atomically: a batch that would
// cross the supply cap fails without assigning any id.
func (s *Service) MintBatch(ctx context.Context, n int, to domain.Account) ([]domain.TokenID, error) {
	ctx, span := s.tracer.Start(ctx, "registry.MintBatch")
	defer span.End()
	start := time.Now()

	if err := s.access.RequireRole(ctx, accessmodels.RoleMinter); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "mint count must be positive")
	}
	if to.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "mint recipient is required")
	}

	ids, err := s.parcels.MintBatch(ctx, to, n, s.maxLands)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "max amount of LANDs achieved")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint parcels")
	}

	s.emit(ctx, events.Event{Kind: events.KindLandMinted, TokenIDs: ids, Detail: to.String()})
	if s.metrics != nil {
		s.metrics.AddLandsMinted(len(ids))
		s.metrics.ObserveMint(start)
	}
	return ids, nil
}

// SetUser assigns a temporary user to a parcel until expires. Owner only.
// The expiry is not required to be in the future; a past expiry simply reads
// as already lapsed.
func (s *Service) SetUser(ctx context.Context, id domain.TokenID, user domain.Account, expires time.Time) error {
	caller := requestcontext.Caller(ctx)
	_, err := s.parcels.Execute(ctx, id,
		func(p *models.Parcel) error {
			return p.CanSetUser(caller)
		},
		func(p *models.Parcel) {
			p.ApplySetUser(user, expires)
		},
	)
	if err != nil {
		return s.wrapParcelErr(err)
	}

	s.emit(ctx, events.Event{
		Kind:     events.KindUserAssigned,
		TokenIDs: []domain.TokenID{id},
		Detail:   user.String(),
	})
	return nil
}

// UserOf resolves the parcel's temporary user as of the request time. Expired
// grants read as the zero account even though storage is untouched.
func (s *Service) UserOf(ctx context.Context, id domain.TokenID) (domain.Account, error) {
	parcel, err := s.parcels.Get(ctx, id)
	if err != nil {
		return domain.ZeroAccount, s.wrapParcelErr(err)
	}
	return parcel.UserAt(requestcontext.Now(ctx)), nil
}

// UserExpires returns the raw stored expiry, whether or not it has passed.
func (s *Service) UserExpires(ctx context.Context, id domain.TokenID) (time.Time, error) {
	parcel, err := s.parcels.Get(ctx, id)
	if err != nil {
		return time.Time{}, s.wrapParcelErr(err)
	}
	return parcel.UserExpires, nil
}

// OwnerOf returns the parcel's current owner.
func (s *Service) OwnerOf(ctx context.Context, id domain.TokenID) (domain.Account, error) {
	parcel, err := s.parcels.Get(ctx, id)
	if err != nil {
		return domain.ZeroAccount, s.wrapParcelErr(err)
	}
	return parcel.Owner, nil
}

// GetParcel returns the parcel with its user resolved at the request time.
func (s *Service) GetParcel(ctx context.Context, id domain.TokenID) (*models.Parcel, error) {
	parcel, err := s.parcels.Get(ctx, id)
	if err != nil {
		return nil, s.wrapParcelErr(err)
	}
	view := *parcel
	view.User = parcel.UserAt(requestcontext.Now(ctx))
	return &view, nil
}

// BalanceOf counts the parcels an account owns.
func (s *Service) BalanceOf(ctx context.Context, owner domain.Account) (int, error) {
	count, err := s.parcels.CountByOwner(ctx, owner)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count parcels")
	}
	return count, nil
}

// Transfer moves a parcel on the caller's own authority.
func (s *Service) Transfer(ctx context.Context, to domain.Account, id domain.TokenID) error {
	return s.OperatorTransfer(ctx, requestcontext.Caller(ctx), domain.ZeroAccount, to, id)
}

// OperatorTransfer moves a parcel from `from` to `to` on the operator's
// authority: the operator must be the owner, an approved operator of the
// owner, or a registered app. A zero `from` means "the current owner".
// The temporary user grant survives the move until its natural expiry.
func (s *Service) OperatorTransfer(ctx context.Context, operator, from, to domain.Account, id domain.TokenID) error {
	start := time.Now()
	if operator.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	if to.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "transfer recipient is required")
	}

	var movedFrom domain.Account
	_, err := s.parcels.Execute(ctx, id,
		func(p *models.Parcel) error {
			if !from.IsZero() && p.Owner != from {
				return dErrors.New(dErrors.CodeConflict, "parcel is not held by the expected owner")
			}
			ok, err := s.operatorAllowed(ctx, operator, p.Owner)
			if err != nil {
				return err
			}
			if !ok {
				return dErrors.New(dErrors.CodeUnauthorized, "caller may not transfer this parcel")
			}
			movedFrom = p.Owner
			return nil
		},
		func(p *models.Parcel) {
			p.ApplyTransfer(to)
		},
	)
	if err != nil {
		return s.wrapParcelErr(err)
	}

	s.emit(ctx, events.Event{
		Kind:     events.KindLandTransferred,
		TokenIDs: []domain.TokenID{id},
		Seller:   movedFrom,
		Buyer:    to,
	})
	if s.metrics != nil {
		s.metrics.IncrementTransfers()
		s.metrics.ObserveTransfer(start)
	}
	return nil
}

// SetApprovalForAll lets the caller authorize or clear an operator over all
// their parcels.
func (s *Service) SetApprovalForAll(ctx context.Context, operator domain.Account, approved bool) error {
	caller := requestcontext.Caller(ctx)
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller identity is required")
	}
	if operator.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "operator is required")
	}
	if err := s.parcels.SetApproval(ctx, caller, operator, approved); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set approval")
	}
	return nil
}

// IsApprovedForAll reports whether operator may act for owner.
func (s *Service) IsApprovedForAll(ctx context.Context, owner, operator domain.Account) (bool, error) {
	approved, err := s.parcels.IsApproved(ctx, owner, operator)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check approval")
	}
	return approved, nil
}

// AddApp registers a marketplace account trusted to move any parcel, so
// owners can list without a per-owner approval. Admin only.
func (s *Service) AddApp(ctx context.Context, app domain.Account) error {
	if err := s.access.RequireRole(ctx, accessmodels.RoleAdmin); err != nil {
		return err
	}
	if app.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "app account is required")
	}
	if err := s.parcels.AddApp(ctx, app); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register app")
	}
	return nil
}

// TokenURI returns the metadata location for a minted parcel.
func (s *Service) TokenURI(ctx context.Context, id domain.TokenID) (string, error) {
	if _, err := s.parcels.Get(ctx, id); err != nil {
		return "", s.wrapParcelErr(err)
	}
	s.uriMu.RLock()
	defer s.uriMu.RUnlock()
	return fmt.Sprintf("%s/%d.json", s.baseURI, id), nil
}

// UpdateBaseURI rotates the metadata root. Requires the uri-updater role.
func (s *Service) UpdateBaseURI(ctx context.Context, baseURI string) error {
	if err := s.access.RequireRole(ctx, accessmodels.RoleURIUpdater); err != nil {
		return err
	}
	if baseURI == "" {
		return dErrors.New(dErrors.CodeValidation, "base URI is required")
	}
	s.uriMu.Lock()
	s.baseURI = baseURI
	s.uriMu.Unlock()

	s.emit(ctx, events.Event{Kind: events.KindBaseURIUpdated, Detail: baseURI})
	return nil
}

func (s *Service) operatorAllowed(ctx context.Context, operator, owner domain.Account) (bool, error) {
	if operator == owner {
		return true, nil
	}
	approved, err := s.parcels.IsApproved(ctx, owner, operator)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check approval")
	}
	if approved {
		return true, nil
	}
	isApp, err := s.parcels.IsApp(ctx, operator)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check app registration")
	}
	return isApp, nil
}

func (s *Service) wrapParcelErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "parcel not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "registry store failure")
}

func (s *Service) emit(ctx context.Context, event events.Event) {
	event.Actor = requestcontext.Caller(ctx)
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)

	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event.Kind),
			"token_ids", event.TokenIDs,
			"actor", event.Actor.String(),
			"request_id", event.RequestID,
		)
	}
	if s.publisher != nil {
		_ = s.publisher.Emit(ctx, event)
	}
}
