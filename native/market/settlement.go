package market

import "math/big"

// BuyParams carries the buyer's funding instructions for taking a listing.
// When InputAsset differs from the listing's payment asset the engine runs
// TradeData against the swap aggregator and trusts only its own balance
// delta. LoanTradeData funds the loan-payoff leg when that leg needs its own
// conversion; the two legs are independent and never netted.
type BuyParams struct {
	InputAsset    string
	MaxInput      *big.Int
	Value         *big.Int
	TradeData     []byte
	LoanTradeData []byte
}

func (p BuyParams) value() *big.Int { return cloneBigInt(p.Value) }

// BuyListing takes a wallet-custody listing. Effects run in a fixed order:
// validate, collect funds, distribute fee and proceeds, transfer the
// position, delete the record. Any failure aborts the whole attempt.
func (e *Engine) BuyListing(buyer [20]byte, positionID uint64, params BuyParams) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	revert := e.snapshot()
	if err := e.buyListingLocked(buyer, positionID, params); err != nil {
		revert()
		return err
	}
	return nil
}

// BuyLoanListing takes a loan-custody listing, paying off the outstanding
// loan balance before any proceeds reach the seller.
func (e *Engine) BuyLoanListing(buyer [20]byte, positionID uint64, params BuyParams) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	revert := e.snapshot()
	if err := e.buyLoanListingLocked(buyer, positionID, params); err != nil {
		revert()
		return err
	}
	return nil
}

// AcceptOffer fills an offer against a position controlled by the caller.
// The offer creator's funds are pulled at fill time; offers are never
// escrowed, so a fill can fail ErrInsufficientFunds if the creator's balance
// dropped since creation.
func (e *Engine) AcceptOffer(caller [20]byte, offerID, positionID uint64) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	revert := e.snapshot()
	if err := e.acceptOfferLocked(caller, offerID, positionID, nil); err != nil {
		revert()
		return err
	}
	return nil
}

// MatchOfferWithListing fills an offer against an existing listing for the
// position. Settlement happens at the offer price; the listing price acts as
// the seller's floor. Both records are consumed.
func (e *Engine) MatchOfferWithListing(caller [20]byte, offerID, positionID uint64) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()
	revert := e.snapshot()
	if err := e.matchOfferLocked(caller, offerID, positionID); err != nil {
		revert()
		return err
	}
	return nil
}

// snapshotState is implemented by state backends that support rolling back
// the effects of a failed settlement attempt.
type snapshotState interface {
	Snapshot() func()
}

func (e *Engine) snapshot() func() {
	if s, ok := e.state.(snapshotState); ok {
		return s.Snapshot()
	}
	return func() {}
}

func (e *Engine) loadActiveListing(positionID uint64) (*Listing, error) {
	listing, ok := e.state.ListingGet(positionID)
	if !ok || listing == nil || listing.Owner == ([20]byte{}) {
		return nil, ErrListingNotFound
	}
	if listing.Expired(e.now()) {
		return nil, ErrListingExpired
	}
	return listing, nil
}

func (e *Engine) loadActiveOffer(offerID uint64) (*Offer, error) {
	offer, ok := e.state.OfferGet(offerID)
	if !ok || offer == nil || offer.Creator == ([20]byte{}) {
		return nil, ErrOfferNotFound
	}
	if offer.Expired(e.now()) {
		return nil, ErrOfferExpired
	}
	return offer, nil
}

func (e *Engine) buyListingLocked(buyer [20]byte, positionID uint64, params BuyParams) error {
	listing, err := e.loadActiveListing(positionID)
	if err != nil {
		return err
	}
	if listing.HasOutstandingLoan {
		return ErrBadCustody
	}
	// Custody is re-resolved fresh: a position that moved into loan custody
	// after listing must not settle through the wallet path.
	_, borrower, err := e.loans.GetLoanDetails(positionID)
	if err != nil {
		return err
	}
	if borrower != ([20]byte{}) {
		return ErrBadCustody
	}

	if err := e.collect(buyer, listing.PaymentAsset, listing.Price, params, params.TradeData); err != nil {
		return err
	}
	fee, err := e.distribute(listing.Owner, listing.PaymentAsset, listing.Price, RouteInternalWallet)
	if err != nil {
		return err
	}
	if err := e.lock.TransferFrom(listing.Owner, buyer, positionID); err != nil {
		return err
	}
	if err := e.state.ListingDelete(positionID); err != nil {
		return err
	}
	e.emit(NewListingSoldEvent(listing, buyer, fee, big.NewInt(0), RouteInternalWallet))
	return nil
}

func (e *Engine) buyLoanListingLocked(buyer [20]byte, positionID uint64, params BuyParams) error {
	listing, err := e.loadActiveListing(positionID)
	if err != nil {
		return err
	}
	if !listing.HasOutstandingLoan {
		return ErrBadCustody
	}
	balance, borrower, err := e.loans.GetLoanDetails(positionID)
	if err != nil {
		return err
	}
	if borrower == ([20]byte{}) {
		return ErrBadCustody
	}
	payoff := cloneBigInt(balance)
	payoffAsset := e.loanAsset
	if payoffAsset == "" {
		payoffAsset = listing.PaymentAsset
	}

	// Collect both legs before anything is paid out. When the price and the
	// payoff are denominated in the same asset as the input a single pull
	// covers both; otherwise each leg converts independently.
	if params.InputAsset != "" && params.InputAsset == listing.PaymentAsset && payoffAsset == listing.PaymentAsset {
		total := new(big.Int).Add(listing.Price, payoff)
		if err := e.collect(buyer, listing.PaymentAsset, total, params, params.TradeData); err != nil {
			return err
		}
	} else {
		if err := e.collect(buyer, listing.PaymentAsset, listing.Price, params, params.TradeData); err != nil {
			return err
		}
		if payoff.Sign() > 0 {
			if err := e.collect(buyer, payoffAsset, payoff, params, params.LoanTradeData); err != nil {
				return err
			}
		}
	}

	// Loan payoff strictly precedes distribution: the seller never receives
	// funds contractually owed to the lender.
	if err := e.settleLoan(positionID, payoffAsset, payoff); err != nil {
		return err
	}
	fee, err := e.distribute(listing.Owner, listing.PaymentAsset, listing.Price, RouteInternalLoan)
	if err != nil {
		return err
	}
	if err := e.loans.SetBorrower(positionID, buyer); err != nil {
		return err
	}
	if err := e.state.ListingDelete(positionID); err != nil {
		return err
	}
	e.emit(NewListingSoldEvent(listing, buyer, fee, payoff, RouteInternalLoan))
	return nil
}

// acceptOfferLocked fills offerID against positionID. When floor is non-nil
// the fill came through a listing match and floor is the listing being
// consumed alongside the offer.
func (e *Engine) acceptOfferLocked(caller [20]byte, offerID, positionID uint64, floor *Listing) error {
	offer, err := e.loadActiveOffer(offerID)
	if err != nil {
		return err
	}
	controller, loanHeld, err := e.resolveCustody(positionID)
	if err != nil {
		return err
	}
	authorized, err := e.canOperate(controller, caller)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrUnauthorized
	}

	balance := big.NewInt(0)
	if loanHeld {
		loanBalance, _, detailsErr := e.loans.GetLoanDetails(positionID)
		if detailsErr != nil {
			return detailsErr
		}
		balance = cloneBigInt(loanBalance)
	}
	if err := e.validateOfferCriteria(offer, positionID, loanHeld, balance); err != nil {
		return err
	}

	route := RouteInternalWallet
	if loanHeld {
		route = RouteInternalLoan
	}
	fee := CalculateFee(offer.Price, e.fees.BpsFor(route))
	if balance.Sign() > 0 {
		payoffAsset := e.loanAsset
		if payoffAsset == "" {
			payoffAsset = offer.PaymentAsset
		}
		if payoffAsset != offer.PaymentAsset {
			return ErrCurrencyMismatch
		}
		covered := new(big.Int).Add(fee, balance)
		if covered.Cmp(offer.Price) > 0 {
			return ErrPriceOutOfBounds
		}
	}

	// Offers are approval-based: the creator's funds are pulled now, not at
	// creation time.
	if err := e.transferToken(offer.Creator, e.moduleAddress, offer.PaymentAsset, offer.Price); err != nil {
		return err
	}
	if err := e.settleLoan(positionID, offer.PaymentAsset, balance); err != nil {
		return err
	}
	proceeds := new(big.Int).Sub(offer.Price, fee)
	proceeds.Sub(proceeds, balance)
	if fee.Sign() > 0 {
		if err := e.transferToken(e.moduleAddress, e.feeCollector, offer.PaymentAsset, fee); err != nil {
			return err
		}
	}
	if proceeds.Sign() > 0 {
		if err := e.transferToken(e.moduleAddress, controller, offer.PaymentAsset, proceeds); err != nil {
			return err
		}
	}

	switch {
	case e.portfolio != nil && e.portfolio.IsPortfolio(controller):
		// Portfolio-held positions delegate the transfer decision to the
		// portfolio collaborator.
		if err := e.portfolio.FinalizeOfferPurchase(positionID, offer.Creator, controller, offer.ID); err != nil {
			return err
		}
	case loanHeld:
		if err := e.loans.SetBorrower(positionID, offer.Creator); err != nil {
			return err
		}
	default:
		if err := e.lock.TransferFrom(controller, offer.Creator, positionID); err != nil {
			return err
		}
	}

	if err := e.state.OfferDelete(offer.ID); err != nil {
		return err
	}
	if floor != nil {
		if err := e.state.ListingDelete(positionID); err != nil {
			return err
		}
	} else if stale, ok := e.state.ListingGet(positionID); ok && stale != nil && stale.Owner != ([20]byte{}) {
		// The position changed hands; any standing listing for it is stale
		// and is consumed with the fill.
		if err := e.state.ListingDelete(positionID); err != nil {
			return err
		}
	}
	e.emit(NewOfferFilledEvent(offer, positionID, controller, fee, balance, route))
	return nil
}

func (e *Engine) matchOfferLocked(caller [20]byte, offerID, positionID uint64) error {
	listing, err := e.loadActiveListing(positionID)
	if err != nil {
		return err
	}
	offer, err := e.loadActiveOffer(offerID)
	if err != nil {
		return err
	}
	if offer.PaymentAsset != listing.PaymentAsset {
		return ErrCurrencyMismatch
	}
	if offer.Price.Cmp(listing.Price) < 0 {
		return ErrPriceOutOfBounds
	}
	return e.acceptOfferLocked(caller, offerID, positionID, listing)
}

func (e *Engine) validateOfferCriteria(offer *Offer, positionID uint64, loanHeld bool, loanBalance *big.Int) error {
	var weight *big.Int
	var lockEnd int64
	var permanent bool
	if loanHeld {
		loanWeight, err := e.loans.GetLoanWeight(positionID)
		if err != nil {
			return err
		}
		weight = cloneBigInt(loanWeight)
		_, lockEnd, permanent, err = e.lock.Locked(positionID)
		if err != nil {
			return err
		}
	} else {
		amount, end, perm, err := e.lock.Locked(positionID)
		if err != nil {
			return err
		}
		weight = cloneBigInt(amount)
		lockEnd = end
		permanent = perm
	}
	if offer.MinWeight != nil && weight.Cmp(offer.MinWeight) < 0 {
		return ErrInsufficientWeight
	}
	if offer.MaxWeight != nil && weight.Cmp(offer.MaxWeight) > 0 {
		return ErrExcessiveWeight
	}
	if offer.DebtTolerance != nil && loanBalance.Cmp(offer.DebtTolerance) > 0 {
		return ErrInsufficientDebtTolerance
	}
	if offer.MaxLockTime != 0 {
		if permanent || lockEnd > offer.MaxLockTime {
			return ErrExcessiveLockTime
		}
	}
	return nil
}

// collect obtains amount of asset into the module account: directly when the
// buyer pays in that asset, otherwise through a swap leg whose output is
// verified against the module's own balance delta. The swap's reported
// outcome is never trusted.
func (e *Engine) collect(buyer [20]byte, asset string, amount *big.Int, params BuyParams, tradeData []byte) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	input := params.InputAsset
	if input == "" {
		input = asset
	}
	if input == asset {
		return e.transferToken(buyer, e.moduleAddress, asset, amount)
	}
	if e.swapper == nil || len(tradeData) == 0 {
		return ErrNoTradeData
	}
	before, err := e.balanceOf(e.moduleAddress, asset)
	if err != nil {
		return err
	}
	if err := e.swapper.Execute(buyer, e.moduleAddress, input, params.MaxInput, params.value(), tradeData); err != nil {
		return err
	}
	after, err := e.balanceOf(e.moduleAddress, asset)
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Cmp(amount) < 0 {
		return ErrSlippage
	}
	return nil
}

// settleLoan moves the exact outstanding balance to the loan vault and
// invokes its pay entrypoint. A zero balance is a no-op.
func (e *Engine) settleLoan(positionID uint64, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.loans == nil {
		return errNilLoans
	}
	if err := e.transferToken(e.moduleAddress, e.loans.Address(), asset, amount); err != nil {
		return err
	}
	return e.loans.Pay(positionID, amount)
}

// distribute pays the protocol fee and the seller proceeds out of the module
// account, always in the listing's payment asset. The fee is computed on the
// price only; loan payoffs never carry fees. Returns the fee taken.
func (e *Engine) distribute(seller [20]byte, asset string, price *big.Int, route Route) (*big.Int, error) {
	fee := CalculateFee(price, e.fees.BpsFor(route))
	if fee.Sign() > 0 {
		if err := e.transferToken(e.moduleAddress, e.feeCollector, asset, fee); err != nil {
			return nil, err
		}
	}
	proceeds := new(big.Int).Sub(price, fee)
	if proceeds.Sign() > 0 {
		if err := e.transferToken(e.moduleAddress, seller, asset, proceeds); err != nil {
			return nil, err
		}
	}
	return fee, nil
}
