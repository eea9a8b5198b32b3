// Package token defines the payment-token collaborator consumed by the
// settlement engine. The fungible token is an external ledger; this service
// never issues it, it only reads balances and pulls pre-approved value.
package token

import (
	"context"

	"github.com/holiman/uint256"

	"landgrid/pkg/domain"
)

// Ledger is the external payment-token surface the settlement engine needs.
type Ledger interface {
	// BalanceOf returns the account's token balance.
	BalanceOf(ctx context.Context, account domain.Account) (*uint256.Int, error)

	// Allowance returns how much spender may pull from owner.
	Allowance(ctx context.Context, owner, spender domain.Account) (*uint256.Int, error)

	// TransferFrom moves amount from `from` to `to` on spender's authority.
	// Fails with sentinel.ErrConflict (wrapped) when balance or allowance is
	// insufficient; no partial movement occurs on failure.
	TransferFrom(ctx context.Context, spender, from, to domain.Account, amount *uint256.Int) error
}
