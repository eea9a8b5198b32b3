// Package events carries the structured ledger events emitted by every
// state-mutating operation. External indexers consume the stream; the event
// shapes are part of the service contract.
package events

import (
	"context"
	"time"

	"landgrid/pkg/domain"
)

// Kind names a ledger state transition.
type Kind string

const (
	KindLandMinted        Kind = "land_minted"
	KindLandTransferred   Kind = "land_transferred"
	KindUserAssigned      Kind = "user_assigned"
	KindLandListed        Kind = "land_listed"
	KindLandDelisted      Kind = "land_delisted"
	KindLandSold          Kind = "land_sold"
	KindRoleGranted       Kind = "role_granted"
	KindRoleRevoked       Kind = "role_revoked"
	KindPriceRangeDefined Kind = "price_range_defined"
	KindBaseURIUpdated    Kind = "base_uri_updated"
)

// Event records one applied state transition. Keep it transport-agnostic so
// publishers can fan out to Kafka, logs, or test buffers.
type Event struct {
	ID        string           `json:"id"`
	Kind      Kind             `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Actor     domain.Account   `json:"actor"`
	TokenIDs  []domain.TokenID `json:"token_ids,omitempty"`
	Seller    domain.Account   `json:"seller,omitempty"`
	Buyer     domain.Account   `json:"buyer,omitempty"`
	// Price and Fee are decimal strings; payment amounts exceed int64.
	Price     string `json:"price,omitempty"`
	Fee       string `json:"fee,omitempty"`
	Role      string `json:"role,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Publisher accepts ledger events for delivery. Emit is best-effort for
// operational events; callers decide whether a failed emit fails the
// operation.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}
