package market

import "math/big"

// CreateOffer records a criteria-based buy order and returns its assigned
// identifier. Offer identifiers are monotonically increasing and never
// reused. Funds are not escrowed: the creator's balance is checked here but
// pulled only at fill time, so an offer can become unfillable if the balance
// later drops.
func (e *Engine) CreateOffer(caller [20]byte, minWeight, maxWeight, debtTolerance, price *big.Int, paymentAsset string, maxLockTime, expiresAt int64) (*Offer, error) {
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	asset, err := e.validateOfferTerms(minWeight, maxWeight, debtTolerance, price, paymentAsset, expiresAt)
	if err != nil {
		return nil, err
	}
	balance, err := e.balanceOf(caller, asset)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(price) < 0 {
		return nil, ErrInsufficientFunds
	}
	id, err := e.state.NextOfferID()
	if err != nil {
		return nil, err
	}
	offer := &Offer{
		ID:            id,
		Creator:       caller,
		MinWeight:     cloneBigInt(minWeight),
		MaxWeight:     cloneBigInt(maxWeight),
		DebtTolerance: cloneBigInt(debtTolerance),
		Price:         cloneBigInt(price),
		PaymentAsset:  asset,
		MaxLockTime:   maxLockTime,
		ExpiresAt:     expiresAt,
		CreatedAt:     e.now(),
	}
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferCreatedEvent(offer))
	return offer.Clone(), nil
}

func (e *Engine) validateOfferTerms(minWeight, maxWeight, debtTolerance, price *big.Int, paymentAsset string, expiresAt int64) (string, error) {
	asset, err := NormalizeAsset(paymentAsset)
	if err != nil {
		return "", err
	}
	if !e.assetAllowed(asset) {
		return "", ErrInvalidPaymentToken
	}
	if price == nil || price.Sign() <= 0 {
		return "", ErrPriceOutOfBounds
	}
	if minWeight == nil || maxWeight == nil || minWeight.Sign() < 0 || minWeight.Cmp(maxWeight) > 0 {
		return "", ErrInvalidWeightRange
	}
	if debtTolerance != nil && debtTolerance.Sign() < 0 {
		return "", ErrInsufficientDebtTolerance
	}
	if expiresAt != 0 && expiresAt <= e.now() {
		return "", ErrInvalidExpiration
	}
	return asset, nil
}

// UpdateOffer replaces the terms of an existing offer. Only the creator or an
// approved operator may update it.
func (e *Engine) UpdateOffer(caller [20]byte, offerID uint64, minWeight, maxWeight, debtTolerance, price *big.Int, paymentAsset string, maxLockTime, expiresAt int64) (*Offer, error) {
	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	offer, ok := e.state.OfferGet(offerID)
	if !ok || offer == nil || offer.Creator == ([20]byte{}) {
		return nil, ErrOfferNotFound
	}
	authorized, err := e.canOperate(offer.Creator, caller)
	if err != nil {
		return nil, err
	}
	if !authorized {
		return nil, ErrUnauthorized
	}
	asset, err := e.validateOfferTerms(minWeight, maxWeight, debtTolerance, price, paymentAsset, expiresAt)
	if err != nil {
		return nil, err
	}
	offer.MinWeight = cloneBigInt(minWeight)
	offer.MaxWeight = cloneBigInt(maxWeight)
	offer.DebtTolerance = cloneBigInt(debtTolerance)
	offer.Price = cloneBigInt(price)
	offer.PaymentAsset = asset
	offer.MaxLockTime = maxLockTime
	offer.ExpiresAt = expiresAt
	if err := e.state.OfferPut(offer); err != nil {
		return nil, err
	}
	e.emit(NewOfferUpdatedEvent(offer))
	return offer.Clone(), nil
}

// CancelOffer deletes an offer. Only the creator or an approved operator may
// cancel; cancelling an absent offer fails ErrOfferNotFound, so a second
// cancel fails identically.
func (e *Engine) CancelOffer(caller [20]byte, offerID uint64) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	offer, ok := e.state.OfferGet(offerID)
	if !ok || offer == nil || offer.Creator == ([20]byte{}) {
		return ErrOfferNotFound
	}
	authorized, err := e.canOperate(offer.Creator, caller)
	if err != nil {
		return err
	}
	if !authorized {
		return ErrUnauthorized
	}
	if err := e.state.OfferDelete(offerID); err != nil {
		return err
	}
	e.emit(NewOfferCancelledEvent(offer))
	return nil
}

// CancelExpiredOffers removes offers whose expiry has elapsed. Restricted to
// the administrative role; non-expired and absent entries are silently
// skipped so repeated sweeps are idempotent and individual misses never
// revert the batch.
func (e *Engine) CancelExpiredOffers(caller [20]byte, offerIDs []uint64) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if !e.isAdmin(caller) {
		return ErrUnauthorized
	}
	now := e.now()
	for _, offerID := range offerIDs {
		offer, ok := e.state.OfferGet(offerID)
		if !ok || offer == nil || !offer.Expired(now) {
			continue
		}
		if err := e.state.OfferDelete(offerID); err != nil {
			return err
		}
		e.emit(NewOfferCancelledEvent(offer))
	}
	return nil
}

// GetOffer returns the active offer for an identifier, if any.
func (e *Engine) GetOffer(offerID uint64) (*Offer, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	offer, ok := e.state.OfferGet(offerID)
	if !ok || offer == nil || offer.Creator == ([20]byte{}) {
		return nil, false
	}
	return offer.Clone(), true
}

// OfferActive reports whether an offer exists and is not expired.
func (e *Engine) OfferActive(offerID uint64) bool {
	offer, ok := e.GetOffer(offerID)
	return ok && !offer.Expired(e.now())
}
