package market

import "math/big"

// The marketplace core consumes its collaborators through the narrow
// interfaces below and assumes nothing about their internals. Custody is a
// read-time fact: the engine never caches a collaborator response beyond a
// single settlement attempt.

// LoanVault is the lending subsystem as seen by the marketplace. A position
// with a non-zero recorded borrower is loan-custodied; paying the outstanding
// balance and reassigning the borrower are the only mutations the core
// performs.
type LoanVault interface {
	// Address is the account funds are moved to before Pay is invoked.
	Address() [20]byte
	// GetLoanDetails returns the outstanding balance and recorded borrower.
	// A zero borrower means the position is not loan-custodied.
	GetLoanDetails(positionID uint64) (balance *big.Int, borrower [20]byte, err error)
	// GetLoanWeight returns the voting weight the vault tracks for a
	// loan-custodied position.
	GetLoanWeight(positionID uint64) (*big.Int, error)
	// Pay settles outstanding balance that has already been transferred to
	// the vault address.
	Pay(positionID uint64, amount *big.Int) error
	// SetBorrower reassigns the beneficial borrower. The position stays in
	// loan custody so it keeps earning rewards for its lender-facing
	// custody; only the borrower changes.
	SetBorrower(positionID uint64, newBorrower [20]byte) error
}

// LockEscrow is the voting-escrow token-lock contract as seen by the
// marketplace.
type LockEscrow interface {
	OwnerOf(positionID uint64) ([20]byte, error)
	// Locked returns the locked amount, the lock end timestamp and whether
	// the lock is permanent. The locked amount doubles as the voting weight
	// for wallet-held positions.
	Locked(positionID uint64) (amount *big.Int, lockEnd int64, isPermanent bool, err error)
	TransferFrom(from, to [20]byte, positionID uint64) error
}

// Portfolio is the smart-account subsystem. Offer fills against
// portfolio-held positions delegate the final transfer decision to it.
type Portfolio interface {
	IsPortfolio(addr [20]byte) bool
	FinalizeOfferPurchase(positionID uint64, buyer, seller [20]byte, offerID uint64) error
}

// SwapExecutor runs a caller-supplied opaque instruction payload against the
// configured swap aggregator. The engine never trusts the executor's outcome
// directly: only its own post-call balance of the payment asset counts.
type SwapExecutor interface {
	// Execute spends up to maxInput of the payer's inputAsset (or the
	// attached native value when inputAsset is the native coin) according
	// to payload, crediting whatever output the route produces to the
	// recipient.
	Execute(payer, recipient [20]byte, inputAsset string, maxInput, value *big.Int, payload []byte) error
}

// SwapQuoter answers exact-output questions for the quote engine without
// moving funds.
type SwapQuoter interface {
	// QuoteExactOutput returns the amount of inputAsset needed to realise
	// amountOut of outputAsset.
	QuoteExactOutput(inputAsset, outputAsset string, amountOut *big.Int) (*big.Int, error)
}
