package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"landgrid/internal/market/models"
	"landgrid/internal/platform/events"
	"landgrid/pkg/domain"
	dErrors "landgrid/pkg/domain-errors"
	"landgrid/pkg/platform/sentinel"
	"landgrid/pkg/requestcontext"
)

// settlementLeg is one parcel's resolved side of a buy: who gets paid what.
type settlementLeg struct {
	listing *models.Listing
	price   *uint256.Int
	fee     *uint256.Int
}

// BuyLand settles a batch purchase atomically. Every parcel must be
// sellable and priced, the marketplace must still hold custody, and the
// buyer's balance and allowance must cover the whole batch; any failed
// check rejects the batch before a single payment or transfer happens.
//
// Payment splits per parcel: the seller receives price minus the basis-point
// fee, the treasury receives the fee. Treasury-inventory sales pass the full
// price to the treasury with no fee skimmed.
func (s *Service) BuyLand(ctx context.Context, ids []domain.TokenID) (*models.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "market.BuyLand")
	defer span.End()
	start := time.Now()

	buyer := requestcontext.Caller(ctx)
	if buyer.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller is required")
	}
	if len(ids) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one token id is required")
	}

	var receipt *models.Receipt
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		legs, total, fees, err := s.resolveLegs(ctx, buyer, ids)
		if err != nil {
			return err
		}
		if err := s.requireFunds(ctx, buyer, total); err != nil {
			return err
		}

		// Everything validated; apply. Payment legs pull from the buyer on
		// the marketplace's pre-approved allowance, then custody moves.
		for _, leg := range legs {
			payout := new(uint256.Int).Sub(leg.price, leg.fee)
			if err := s.ledger.TransferFrom(ctx, s.account, buyer, leg.listing.Seller, payout); err != nil {
				return dErrors.Wrap(err, dErrors.CodeConflict, "payment transfer failed")
			}
			if !leg.fee.IsZero() {
				if err := s.ledger.TransferFrom(ctx, s.account, buyer, s.treasury, leg.fee); err != nil {
					return dErrors.Wrap(err, dErrors.CodeConflict, "fee transfer failed")
				}
			}
			if err := s.registry.OperatorTransfer(ctx, s.account, s.account, buyer, leg.listing.TokenID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release LAND to buyer")
			}
			if _, err := s.listings.Remove(ctx, leg.listing.TokenID); err != nil {
				return s.wrapListingErr(err)
			}
		}
		receipt = &models.Receipt{Buyer: buyer, TokenIDs: ids, Total: total, Fees: fees}
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncrementSettlementFailures()
		}
		return nil, err
	}

	s.invalidateCache(ctx)
	if s.metrics != nil {
		s.metrics.AddLandsSold(len(ids))
		s.metrics.ObserveSettlement(start)
	}
	// Per-parcel land_transferred events come from the registry custody moves.
	s.emit(ctx, events.Event{
		Kind:     events.KindLandSold,
		TokenIDs: ids,
		Buyer:    buyer,
		Price:    receipt.Total.Dec(),
		Fee:      receipt.Fees.Dec(),
	})
	return receipt, nil
}

// resolveLegs loads and validates every listing in the batch and totals the
// payment legs. No state is touched.
func (s *Service) resolveLegs(ctx context.Context, buyer domain.Account, ids []domain.TokenID) ([]settlementLeg, *uint256.Int, *uint256.Int, error) {
	seen := make(map[domain.TokenID]struct{}, len(ids))
	legs := make([]settlementLeg, 0, len(ids))
	total := uint256.NewInt(0)
	fees := uint256.NewInt(0)

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, nil, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("token %d repeated in batch", id))
		}
		seen[id] = struct{}{}

		listing, err := s.listings.Get(ctx, id)
		if err != nil {
			return nil, nil, nil, s.wrapListingErr(err)
		}
		if !listing.Sellable {
			return nil, nil, nil, dErrors.New(dErrors.CodeNotFound, "LAND not for sell")
		}
		price, err := s.effectivePrice(ctx, listing)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil, nil, dErrors.New(dErrors.CodeNotFound, "LAND not for sell")
		}
		if err != nil {
			return nil, nil, nil, s.wrapListingErr(err)
		}

		// An outside custody change invalidates the listing: never settle a
		// parcel the marketplace no longer holds.
		owner, err := s.registry.OwnerOf(ctx, id)
		if err != nil {
			return nil, nil, nil, err
		}
		if owner != s.account {
			return nil, nil, nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("listing for token %d is stale", id))
		}
		if listing.Seller == buyer {
			return nil, nil, nil, dErrors.New(dErrors.CodeConflict, "buyer already owns this listing")
		}

		fee := s.feeFor(listing, price)
		legs = append(legs, settlementLeg{listing: listing, price: price, fee: fee})
		total.Add(total, price)
		fees.Add(fees, fee)
	}
	return legs, total, fees, nil
}

// feeFor computes the treasury cut for one leg. Treasury inventory carries
// no fee; the treasury is paid the full price as the seller.
func (s *Service) feeFor(listing *models.Listing, price *uint256.Int) *uint256.Int {
	if listing.Seller == s.treasury || s.feeBps == 0 {
		return uint256.NewInt(0)
	}
	fee := new(uint256.Int).Mul(price, uint256.NewInt(s.feeBps))
	return fee.Div(fee, uint256.NewInt(feeDenominator))
}

func (s *Service) requireFunds(ctx context.Context, buyer domain.Account, total *uint256.Int) error {
	balance, err := s.ledger.BalanceOf(ctx, buyer)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read buyer balance")
	}
	if balance.Lt(total) {
		return dErrors.New(dErrors.CodeConflict, "insufficient token balance")
	}
	allowance, err := s.ledger.Allowance(ctx, buyer, s.account)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read buyer allowance")
	}
	if allowance.Lt(total) {
		return dErrors.New(dErrors.CodeConflict, "insufficient token allowance")
	}
	return nil
}
