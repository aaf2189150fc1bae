package market

import "errors"

// Every settlement failure is a named, non-retryable error that aborts the
// entire attempt. The engine never substitutes a generic message: off-chain
// callers and tests distinguish causes with errors.Is.
var (
	// Not-found.
	ErrListingNotFound = errors.New("market engine: listing not found")
	ErrOfferNotFound   = errors.New("market engine: offer not found")

	// Expiry.
	ErrListingExpired = errors.New("market engine: listing expired")
	ErrOfferExpired   = errors.New("market engine: offer expired")

	// Authorization.
	ErrUnauthorized = errors.New("market engine: caller not authorized")
	ErrBadCustody   = errors.New("market engine: custody state does not match listing variant")

	// Validation.
	ErrInvalidPaymentToken       = errors.New("market engine: payment token not allowed")
	ErrInvalidExpiration         = errors.New("market engine: expiration not in the future")
	ErrInvalidWeightRange        = errors.New("market engine: min weight exceeds max weight")
	ErrInsufficientWeight        = errors.New("market engine: position weight below offer minimum")
	ErrExcessiveWeight           = errors.New("market engine: position weight above offer maximum")
	ErrInsufficientDebtTolerance = errors.New("market engine: outstanding loan exceeds offer debt tolerance")
	ErrExcessiveLockTime         = errors.New("market engine: position lock end exceeds offer maximum")
	ErrCurrencyNotAllowed        = errors.New("market engine: currency not on allowed list")
	ErrCurrencyMismatch          = errors.New("market engine: currency mismatch")
	ErrPriceOutOfBounds          = errors.New("market engine: price out of bounds")
	ErrInsufficientFunds         = errors.New("market engine: insufficient balance")

	// Economic guards.
	ErrMaxTotalExceeded     = errors.New("market engine: total cost exceeds caller ceiling")
	ErrSlippage             = errors.New("market engine: swap output below required amount")
	ErrInsufficientETH      = errors.New("market engine: attached value below required amount")
	ErrNoTradeData          = errors.New("market engine: trade instructions required")
	ErrNoETHForTokenPayment = errors.New("market engine: native value not accepted for token payment")

	// System.
	ErrUnknownAdapter = errors.New("market engine: adapter not registered")
	ErrInvalidRoute   = errors.New("market engine: route not recognised")
	ErrNotImplemented = errors.New("market engine: cross-asset offer matching against external markets not implemented")

	errNilState = errors.New("market engine: state not configured")
	errNilLoans = errors.New("market engine: loan vault not configured")
	errNilLock  = errors.New("market engine: lock escrow not configured")
)
