// Package domain defines the typed identifiers shared across landgrid modules.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Account identifies a participant on the ledger: a parcel owner, a buyer,
// the marketplace custody account, or the treasury. Accounts are opaque
// address strings, stored lowercased.
type Account string

// ZeroAccount is the unset account. UserOf resolves to it once a temporary
// user grant has expired.
const ZeroAccount Account = ""

// IsZero reports whether the account is unset.
func (a Account) IsZero() bool {
	return a == ZeroAccount
}

func (a Account) String() string {
	return string(a)
}

// ParseAccount normalizes raw input into an Account. Leading/trailing
// whitespace is stripped and the address is lowercased so that lookups are
// case-insensitive.
func ParseAccount(raw string) (Account, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ZeroAccount, fmt.Errorf("account address is empty")
	}
	return Account(s), nil
}

// TokenID identifies a land parcel. IDs are assigned sequentially starting
// at 1 and are never reused.
type TokenID uint64

// ParseTokenID parses a decimal token id.
func ParseTokenID(raw string) (TokenID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q", raw)
	}
	return TokenID(id), nil
}
