package market

import (
	"fmt"
	"math/big"
	"strings"
)

// Route identifies the settlement path a purchase travels. It determines the
// fee rate applied and which settlement variant the router dispatches to.
type Route uint8

const (
	RouteInternalWallet Route = iota
	RouteInternalLoan
	RouteExternalAdapter
)

// Valid reports whether the route value is within the supported range.
func (r Route) Valid() bool {
	switch r {
	case RouteInternalWallet, RouteInternalLoan, RouteExternalAdapter:
		return true
	default:
		return false
	}
}

// String renders the canonical route label used in events and metrics.
func (r Route) String() string {
	switch r {
	case RouteInternalWallet:
		return "wallet"
	case RouteInternalLoan:
		return "loan"
	case RouteExternalAdapter:
		return "external"
	default:
		return fmt.Sprintf("route(%d)", uint8(r))
	}
}

// Listing is a standing single-price sell order for one specific position.
// At most one listing exists per position; a listing whose Owner is the zero
// address is treated as absent. HasOutstandingLoan snapshots the position's
// loan-custody state at creation time and selects the settlement variant.
type Listing struct {
	Owner              [20]byte
	PositionID         uint64
	Price              *big.Int
	PaymentAsset       string
	HasOutstandingLoan bool
	ExpiresAt          int64
	CreatedAt          int64
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Expired reports whether the listing's expiry has elapsed at the supplied
// time. A zero ExpiresAt never expires.
func (l *Listing) Expired(now int64) bool {
	if l == nil {
		return true
	}
	return l.ExpiresAt != 0 && now >= l.ExpiresAt
}

// Offer is a standing criteria-based buy order. It is not tied to any
// position until matched: any position whose voting weight lies in
// [MinWeight, MaxWeight], whose outstanding loan balance is at most
// DebtTolerance, and whose lock end is at most MaxLockTime can fill it.
// Funds are never escrowed at creation; the creator's balance is pulled at
// fill time.
type Offer struct {
	ID            uint64
	Creator       [20]byte
	MinWeight     *big.Int
	MaxWeight     *big.Int
	DebtTolerance *big.Int
	Price         *big.Int
	PaymentAsset  string
	MaxLockTime   int64
	ExpiresAt     int64
	CreatedAt     int64
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.MinWeight = cloneBigInt(o.MinWeight)
	clone.MaxWeight = cloneBigInt(o.MaxWeight)
	clone.DebtTolerance = cloneBigInt(o.DebtTolerance)
	clone.Price = cloneBigInt(o.Price)
	return &clone
}

// Expired reports whether the offer's expiry has elapsed at the supplied
// time. A zero ExpiresAt never expires.
func (o *Offer) Expired(now int64) bool {
	if o == nil {
		return true
	}
	return o.ExpiresAt != 0 && now >= o.ExpiresAt
}

// NormalizeAsset canonicalises an asset symbol to trimmed upper case. Empty
// symbols are rejected.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", ErrInvalidPaymentToken
	}
	return trimmed, nil
}

// SanitizeListing validates the supplied listing and returns a cloned
// instance with a canonical asset symbol and non-nil price.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil || l.Owner == ([20]byte{}) {
		return nil, ErrListingNotFound
	}
	clone := l.Clone()
	asset, err := NormalizeAsset(clone.PaymentAsset)
	if err != nil {
		return nil, err
	}
	clone.PaymentAsset = asset
	if clone.Price == nil || clone.Price.Sign() <= 0 {
		return nil, ErrPriceOutOfBounds
	}
	return clone, nil
}

// SanitizeOffer validates the supplied offer and returns a cloned instance
// with a canonical asset symbol and non-nil amounts.
func SanitizeOffer(o *Offer) (*Offer, error) {
	if o == nil || o.Creator == ([20]byte{}) {
		return nil, ErrOfferNotFound
	}
	clone := o.Clone()
	asset, err := NormalizeAsset(clone.PaymentAsset)
	if err != nil {
		return nil, err
	}
	clone.PaymentAsset = asset
	if clone.Price.Sign() <= 0 {
		return nil, ErrPriceOutOfBounds
	}
	if clone.MinWeight.Sign() < 0 || clone.MaxWeight.Sign() < 0 || clone.MinWeight.Cmp(clone.MaxWeight) > 0 {
		return nil, ErrInvalidWeightRange
	}
	if clone.DebtTolerance.Sign() < 0 {
		return nil, ErrInsufficientDebtTolerance
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
