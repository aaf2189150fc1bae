// Package lockmart adapts the LockMart third-party marketplace to the
// router's generic quote/buy surface.
package lockmart

import (
	"math/big"

	"vemarket/native/market"
)

// MarketplaceName keys the adapter in the router registry.
const MarketplaceName = "lockmart"

// Listing is LockMart's bespoke listing representation.
type Listing struct {
	Seller    [20]byte
	Price     *big.Int
	Currency  string
	ExpiresAt int64
	Sold      bool
}

// Marketplace is the LockMart contract surface the adapter consumes.
type Marketplace interface {
	Listing(positionID uint64) (Listing, bool)
	// Purchase marks the listing sold and transfers the position to the
	// recipient.
	Purchase(positionID uint64, recipient [20]byte) error
}

// Adapter normalizes LockMart listings into the router's generic ABI. It
// re-validates the foreign listing on every call: neither the caller nor
// LockMart's possibly stale state is trusted.
type Adapter struct {
	foreign Marketplace
}

// New constructs an adapter bound to the LockMart contract surface.
func New(foreign Marketplace) *Adapter {
	return &Adapter{foreign: foreign}
}

func (a *Adapter) activeListing(ctx market.AdapterContext, positionID uint64) (Listing, string, error) {
	listing, ok := a.foreign.Listing(positionID)
	if !ok || listing.Sold {
		return Listing{}, "", market.ErrListingNotFound
	}
	if listing.ExpiresAt != 0 && ctx.Now() >= listing.ExpiresAt {
		return Listing{}, "", market.ErrListingExpired
	}
	currency, err := market.NormalizeAsset(listing.Currency)
	if err != nil {
		return Listing{}, "", err
	}
	if ctx.AssetAllowed != nil && !ctx.AssetAllowed(currency) {
		return Listing{}, "", market.ErrCurrencyNotAllowed
	}
	if listing.Price == nil || listing.Price.Sign() <= 0 {
		return Listing{}, "", market.ErrPriceOutOfBounds
	}
	return listing, currency, nil
}

// QuoteToken resolves the LockMart listing's current cost. LockMart charges
// no fee of its own; the router layers the external-route protocol fee on
// top of the returned price.
func (a *Adapter) QuoteToken(ctx market.AdapterContext, positionID uint64, quoteData []byte) (market.AdapterQuote, error) {
	listing, currency, err := a.activeListing(ctx, positionID)
	if err != nil {
		return market.AdapterQuote{}, err
	}
	return market.AdapterQuote{
		Price:    new(big.Int).Set(listing.Price),
		Fee:      big.NewInt(0),
		Currency: currency,
	}, nil
}

// BuyToken executes the foreign purchase: pays the LockMart seller and the
// protocol fee out of the buyer's balance, then has LockMart deliver the
// position to the buyer directly.
func (a *Adapter) BuyToken(ctx market.AdapterContext, buyer [20]byte, positionID uint64, maxTotal *big.Int, params market.BuyParams, marketData []byte) error {
	listing, currency, err := a.activeListing(ctx, positionID)
	if err != nil {
		return err
	}
	if params.InputAsset != "" && params.InputAsset != currency {
		return market.ErrCurrencyMismatch
	}
	fee := market.CalculateFee(listing.Price, ctx.FeeBps)
	total := new(big.Int).Add(listing.Price, fee)
	if maxTotal != nil && total.Cmp(maxTotal) > 0 {
		return market.ErrMaxTotalExceeded
	}
	if err := ctx.Transfer(buyer, listing.Seller, currency, listing.Price); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := ctx.Transfer(buyer, ctx.FeeCollector, currency, fee); err != nil {
			return err
		}
	}
	return a.foreign.Purchase(positionID, buyer)
}
