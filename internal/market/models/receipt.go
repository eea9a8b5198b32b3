package models

import (
	"github.com/holiman/uint256"

	"landgrid/pkg/domain"
)

// Receipt summarizes one settled buy: every parcel in it changed hands and
// every payment leg cleared, or the buy did not happen at all.
type Receipt struct {
	Buyer    domain.Account   `json:"buyer"`
	TokenIDs []domain.TokenID `json:"token_ids"`
	Total    *uint256.Int     `json:"total"`
	Fees     *uint256.Int     `json:"fees"`
}
