package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about ledger records, not validation
// failures:
// - ErrNotFound: parcel, listing, or role grant does not exist in the store
// - ErrConflict: a uniqueness constraint blocked the write (listing slot
//   occupied, overlapping price range, supply cap reached)
// - ErrExpired: a time-bounded right has lapsed
// - ErrInvalidState: record in the wrong state for the requested mutation
// - ErrUnavailable: backing store temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
