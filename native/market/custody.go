package market

// resolveCustody determines the current controller of a position and whether
// it is loan-custodied. A non-zero borrower recorded by the loan vault wins;
// otherwise the escrow owner controls the position. Custody is resolved fresh
// on every call and never cached across settlement attempts.
func (e *Engine) resolveCustody(positionID uint64) ([20]byte, bool, error) {
	if e == nil || e.loans == nil {
		return [20]byte{}, false, errNilLoans
	}
	_, borrower, err := e.loans.GetLoanDetails(positionID)
	if err != nil {
		return [20]byte{}, false, err
	}
	if borrower != ([20]byte{}) {
		return borrower, true, nil
	}
	if e.lock == nil {
		return [20]byte{}, false, errNilLock
	}
	owner, err := e.lock.OwnerOf(positionID)
	if err != nil {
		return [20]byte{}, false, err
	}
	return owner, false, nil
}

// canOperate is the single authorization primitive used by every mutating
// operation: the caller is the controller itself or an operator the
// controller approved.
func (e *Engine) canOperate(controller, caller [20]byte) (bool, error) {
	if controller == ([20]byte{}) {
		return false, nil
	}
	if caller == controller {
		return true, nil
	}
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.OperatorApproved(controller, caller)
}
