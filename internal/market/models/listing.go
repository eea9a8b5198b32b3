package models

import (
	"github.com/holiman/uint256"

	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
)

// Listing is a marketplace sale record for one parcel.
//
// Invariants:
//   - At most one active Listing exists per token id; listing an occupied
//     slot fails, never silently overwrites
//   - Seller is the account credited on sale (the owner at list time, or the
//     treasury for marketplace-minted inventory)
//   - A nil Price defers to the covering price range at buy time
type Listing struct {
	TokenID  domain.TokenID `json:"token_id"`
	Seller   domain.Account `json:"seller"`
	Price    *uint256.Int   `json:"price,omitempty"`
	Sellable bool           `json:"sellable"`
}

// SellOrder is the payload of a sell request.
type SellOrder struct {
	Owner   domain.Account
	Price   *uint256.Int
	TokenID domain.TokenID
}

// Validate rejects malformed orders before any state is touched.
func (o SellOrder) Validate() error {
	if o.Owner.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "sell order owner is required")
	}
	if o.TokenID == 0 {
		return dErrors.New(dErrors.CodeValidation, "sell order token id is required")
	}
	if o.Price == nil || o.Price.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "sell order price must be positive")
	}
	return nil
}

// PriceRange bulk-assigns a unit price to a contiguous id range without
// materializing one Listing per id.
type PriceRange struct {
	StartID domain.TokenID `json:"start_id"`
	EndID   domain.TokenID `json:"end_id"`
	Price   *uint256.Int   `json:"price"`
}

// Contains reports whether id falls inside the range.
func (r PriceRange) Contains(id domain.TokenID) bool {
	return id >= r.StartID && id <= r.EndID
}

// Overlaps reports whether two ranges share any id.
func (r PriceRange) Overlaps(other PriceRange) bool {
	return r.StartID <= other.EndID && other.StartID <= r.EndID
}

// TokenPrice carries the effective price resolved for one id.
type TokenPrice struct {
	TokenID domain.TokenID `json:"token_id"`
	Price   *uint256.Int   `json:"price"`
}
