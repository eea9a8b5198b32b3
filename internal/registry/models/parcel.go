package models

import (
	"time"

	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
)

// Collection metadata for the fixed-supply LANDS set.
const (
	CollectionName   = "Neoki LANDS"
	CollectionSymbol = "LANDS"
)

// Parcel is the authoritative ownership record for one land unit.
//
// Invariants:
//   - TokenID is assigned sequentially at mint time and never reused
//   - Owner is never the zero account after mint (no burn)
//   - User reads as unset once the request time reaches UserExpires; storage
//     is not eagerly cleared (lazy expiry is a computed view)
type Parcel struct {
	TokenID     domain.TokenID `json:"token_id"`
	Owner       domain.Account `json:"owner"`
	User        domain.Account `json:"user,omitempty"`
	UserExpires time.Time      `json:"user_expires,omitzero"`
}

// UserAt resolves the temporary user as of now. Exactly at the expiry instant
// the grant is already expired.
func (p *Parcel) UserAt(now time.Time) domain.Account {
	if p.User.IsZero() || !now.Before(p.UserExpires) {
		return domain.ZeroAccount
	}
	return p.User
}

// CanSetUser checks that actor may assign a temporary user. Only the current
// owner lends out a parcel.
func (p *Parcel) CanSetUser(actor domain.Account) error {
	if actor != p.Owner {
		return dErrors.New(dErrors.CodeUnauthorized, "only the owner can set a parcel user")
	}
	return nil
}

// ApplySetUser records the temporary user grant. A past expiry is accepted;
// reads simply resolve it as already expired.
func (p *Parcel) ApplySetUser(user domain.Account, expires time.Time) {
	p.User = user
	p.UserExpires = expires
}

// ApplyTransfer moves ownership. The temporary user grant deliberately
// survives until its natural expiry.
func (p *Parcel) ApplyTransfer(to domain.Account) {
	p.Owner = to
}
