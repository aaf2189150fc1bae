package market

import (
	"math/big"
	"time"

	"vemarket/core/events"
	"vemarket/core/types"
	nativecommon "vemarket/native/common"
)

const moduleName = "market"

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(positionID uint64) (*Listing, bool)
	ListingDelete(positionID uint64) error
	OfferPut(*Offer) error
	OfferGet(id uint64) (*Offer, bool)
	OfferDelete(id uint64) error
	NextOfferID() (uint64, error)
	OperatorApprove(controller, operator [20]byte, approved bool) error
	OperatorApproved(controller, operator [20]byte) (bool, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine wires the marketplace business logic with external state, the loan
// and escrow collaborators and event emitters. All mutating entrypoints run
// under the shared reentrancy latch and the module pause guard.
type Engine struct {
	state     engineState
	loans     LoanVault
	lock      LockEscrow
	portfolio Portfolio
	swapper   SwapExecutor
	quoter    SwapQuoter
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	latch     *nativecommon.Latch
	nowFn     func() int64

	moduleAddress [20]byte
	feeCollector  [20]byte
	fees          FeeTable
	allowedAssets map[string]bool
	loanAsset     string
	nativeAsset   string
	admins        map[[20]byte]bool
	adapters      map[[32]byte]PurchaseAdapter
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers wire
// state, collaborators and configuration through the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		latch:         &nativecommon.Latch{},
		nowFn:         func() int64 { return time.Now().Unix() },
		allowedAssets: make(map[string]bool),
		admins:        make(map[[20]byte]bool),
		adapters:      make(map[[32]byte]PurchaseAdapter),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLoanVault wires the lending collaborator.
func (e *Engine) SetLoanVault(loans LoanVault) { e.loans = loans }

// SetLockEscrow wires the voting-escrow collaborator.
func (e *Engine) SetLockEscrow(lock LockEscrow) { e.lock = lock }

// SetPortfolio wires the smart-account collaborator.
func (e *Engine) SetPortfolio(p Portfolio) { e.portfolio = p }

// SetSwapExecutor wires the swap aggregator call target.
func (e *Engine) SetSwapExecutor(s SwapExecutor) { e.swapper = s }

// SetSwapQuoter wires the exact-output price source used by the quote engine.
func (e *Engine) SetSwapQuoter(q SwapQuoter) { e.quoter = q }

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetModuleAddress configures the account that temporarily holds collected
// funds during a settlement.
func (e *Engine) SetModuleAddress(addr [20]byte) { e.moduleAddress = addr }

// SetFeeCollector configures the protocol fee recipient.
func (e *Engine) SetFeeCollector(addr [20]byte) { e.feeCollector = addr }

// SetFees configures the per-route fee table.
func (e *Engine) SetFees(fees FeeTable) { e.fees = fees }

// SetAllowedAssets replaces the set of accepted payment assets. Symbols are
// normalized; invalid symbols are dropped.
func (e *Engine) SetAllowedAssets(assets []string) {
	allowed := make(map[string]bool, len(assets))
	for _, asset := range assets {
		normalized, err := NormalizeAsset(asset)
		if err != nil {
			continue
		}
		allowed[normalized] = true
	}
	e.allowedAssets = allowed
}

// SetLoanAsset configures the asset the lending subsystem denominates debt
// in. Loan payoffs always settle in this asset.
func (e *Engine) SetLoanAsset(asset string) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return
	}
	e.loanAsset = normalized
}

// SetNativeAsset configures the chain-native coin symbol accepted as a swap
// input.
func (e *Engine) SetNativeAsset(asset string) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return
	}
	e.nativeAsset = normalized
}

// SetAdmin grants or revokes the administrative role used by the batch
// expiry sweeps.
func (e *Engine) SetAdmin(addr [20]byte, admin bool) {
	if e == nil {
		return
	}
	if e.admins == nil {
		e.admins = make(map[[20]byte]bool)
	}
	if admin {
		e.admins[addr] = true
		return
	}
	delete(e.admins, addr)
}

func (e *Engine) isAdmin(addr [20]byte) bool {
	return e != nil && e.admins[addr]
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) assetAllowed(asset string) bool {
	return e != nil && e.allowedAssets[asset]
}

// begin acquires the reentrancy latch and checks the pause guard. Callers
// must defer the returned release when err is nil.
func (e *Engine) begin() (func(), error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.latch.Acquire(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		e.latch.Release()
		return nil, err
	}
	return e.latch.Release, nil
}

func (e *Engine) transferToken(from, to [20]byte, asset string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrPriceOutOfBounds
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	if fromAcc == nil {
		fromAcc = types.NewAccount()
	}
	if toAcc == nil {
		toAcc = types.NewAccount()
	}
	if !fromAcc.Debit(asset, amt) {
		return ErrInsufficientFunds
	}
	toAcc.Credit(asset, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

func (e *Engine) balanceOf(addr [20]byte, asset string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return big.NewInt(0), nil
	}
	return acc.BalanceOf(asset), nil
}

// validateListingTerms applies the creation/update validation shared by the
// wallet and loan listing paths.
func (e *Engine) validateListingTerms(price *big.Int, asset string, expiresAt int64) (string, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return "", err
	}
	if !e.assetAllowed(normalized) {
		return "", ErrInvalidPaymentToken
	}
	if price == nil || price.Sign() <= 0 {
		return "", ErrPriceOutOfBounds
	}
	if expiresAt != 0 && expiresAt <= e.now() {
		return "", ErrInvalidExpiration
	}
	return normalized, nil
}

// CreateListing lists a wallet-held position for direct sale. The caller must
// be the position's resolved controller or an approved operator, and the
// position must not be loan-custodied.
func (e *Engine) CreateListing(caller [20]byte, positionID uint64, price *big.Int, paymentAsset string, expiresAt int64) (*Listing, error) {
	return e.createListing(caller, positionID, price, paymentAsset, expiresAt, false)
}

// CreateLoanListing lists a loan-custodied position. The caller must be the
// recorded borrower or an approved operator, and the position must actually
// be loan-held.
func (e *Engine) CreateLoanListing(caller [20]byte, positionID uint64, price *big.Int, paymentAsset string, expiresAt int64) (*Listing, error) {
	return e.createListing(caller, positionID, price, paymentAsset, expiresAt, true)
}

func (e *Engine) createListing(caller [20]byte, positionID uint64, price *big.Int, paymentAsset string, expiresAt int64, loanCustody bool) (*Listing, error) {
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	asset, err := e.validateListingTerms(price, paymentAsset, expiresAt)
	if err != nil {
		return nil, err
	}
	controller, loanHeld, err := e.resolveCustody(positionID)
	if err != nil {
		return nil, err
	}
	if loanHeld != loanCustody {
		return nil, ErrBadCustody
	}
	ok, err := e.canOperate(controller, caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	listing := &Listing{
		Owner:              controller,
		PositionID:         positionID,
		Price:              cloneBigInt(price),
		PaymentAsset:       asset,
		HasOutstandingLoan: loanCustody,
		ExpiresAt:          expiresAt,
		CreatedAt:          e.now(),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// UpdateListing replaces the price, payment asset and expiry of an existing
// listing. Only the listing's owner or an approved operator may update it; no
// funds move.
func (e *Engine) UpdateListing(caller [20]byte, positionID uint64, price *big.Int, paymentAsset string, expiresAt int64) (*Listing, error) {
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	listing, ok := e.state.ListingGet(positionID)
	if !ok || listing == nil || listing.Owner == ([20]byte{}) {
		return nil, ErrListingNotFound
	}
	authorized, err := e.canOperate(listing.Owner, caller)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, ErrUnauthorized
	}
	asset, err := e.validateListingTerms(price, paymentAsset, expiresAt)
	if err != nil {
		return nil, err
	}
	listing.Price = cloneBigInt(price)
	listing.PaymentAsset = asset
	listing.ExpiresAt = expiresAt
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingUpdatedEvent(listing))
	return listing.Clone(), nil
}

// CancelListing deletes a listing. Only the listing's owner or an approved
// operator may cancel it; cancelling an absent listing fails
// ErrListingNotFound, so a second cancel fails identically.
func (e *Engine) CancelListing(caller [20]byte, positionID uint64) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	listing, ok := e.state.ListingGet(positionID)
	if !ok || listing == nil || listing.Owner == ([20]byte{}) {
		return ErrListingNotFound
	}
	authorized, err := e.canOperate(listing.Owner, caller)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrUnauthorized
	}
	if err := e.state.ListingDelete(positionID); err != nil {
		return err
	}
	e.emit(NewListingCancelledEvent(listing))
	return nil
}

// CancelExpiredListings removes listings whose expiry has elapsed. Restricted
// to the administrative role; non-expired and absent entries are silently
// skipped so the sweep is idempotent.
func (e *Engine) CancelExpiredListings(caller [20]byte, positionIDs []uint64) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if !e.isAdmin(caller) {
		return ErrUnauthorized
	}
	now := e.now()
	for _, positionID := range positionIDs {
		listing, ok := e.state.ListingGet(positionID)
		if !ok || listing == nil || !listing.Expired(now) {
			continue
		}
		if err := e.state.ListingDelete(positionID); err != nil {
			return err
		}
		e.emit(NewListingCancelledEvent(listing))
	}
	return nil
}

// GetListing returns the active listing for a position, if any.
func (e *Engine) GetListing(positionID uint64) (*Listing, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	listing, ok := e.state.ListingGet(positionID)
	if !ok || listing == nil || listing.Owner == ([20]byte{}) {
		return nil, false
	}
	return listing.Clone(), true
}

// ListingActive reports whether a listing exists and is not expired.
func (e *Engine) ListingActive(positionID uint64) bool {
	listing, ok := e.GetListing(positionID)
	return ok && !listing.Expired(e.now())
}

// ApproveOperator grants or revokes operator rights over every position the
// caller controls. Operators can mutate the controller's listings and offers
// and accept offers on their behalf.
func (e *Engine) ApproveOperator(controller, operator [20]byte, approved bool) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	if err := e.state.OperatorApprove(controller, operator, approved); err != nil {
		return err
	}
	e.emit(NewOperatorApprovalEvent(controller, operator, approved))
	return nil
}

// IsApprovedOperator reports whether operator may act for controller.
func (e *Engine) IsApprovedOperator(controller, operator [20]byte) bool {
	if e == nil || e.state == nil {
		return false
	}
	approved, err := e.state.OperatorApproved(controller, operator)
	return err == nil && approved
}
