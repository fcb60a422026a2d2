package funding

import "errors"

// Recoverable failures returned to callers. Handlers match these with
// errors.Is to map them onto wire error codes.
var (
	// ErrInvalidAdminCall rejects lifecycle or settlement calls from anyone
	// other than the configured administrator.
	ErrInvalidAdminCall = errors.New("funding: caller is not the epoch administrator")
	// ErrUnableToCreateNewEpoch rejects opening an epoch while the previous
	// one is still on.
	ErrUnableToCreateNewEpoch = errors.New("funding: previous epoch is still ongoing")
	// ErrInvalidInitializationOfEpoch signals a carry-forward request with no
	// previous epoch to copy the allowed-token set from.
	ErrInvalidInitializationOfEpoch = errors.New("funding: no previous epoch to initialize from")
	// ErrInvalidCurrentEpoch signals that the per-epoch containers expected
	// for the referenced epoch are missing from state.
	ErrInvalidCurrentEpoch = errors.New("funding: current epoch containers missing")
	// ErrEpochIsOff rejects operations that require an open epoch.
	ErrEpochIsOff = errors.New("funding: epoch is off")
	// ErrAlreadyInRegistration rejects re-entering the registration phase.
	ErrAlreadyInRegistration = errors.New("funding: already in registration period")
	// ErrAlreadyInFunding rejects phase transitions while funding is open.
	ErrAlreadyInFunding = errors.New("funding: already in funding period")
	// ErrNotInRegistrationPeriod rejects registrations (and the move to
	// funding) outside the registration phase.
	ErrNotInRegistrationPeriod = errors.New("funding: not in registration period")
	// ErrNotInFundingPeriod rejects pledges outside the funding phase.
	ErrNotInFundingPeriod = errors.New("funding: not in funding period")
	// ErrCreatorIsNotRegistered signals a creator without a registration in
	// the referenced epoch.
	ErrCreatorIsNotRegistered = errors.New("funding: creator is not registered for epoch")
	// ErrInvalidFTTokenID signals a token identity absent from the relevant
	// price table or allowed-token set.
	ErrInvalidFTTokenID = errors.New("funding: invalid fungible token identity")
	// ErrUncoveredStorageCosts rejects registrations whose attached deposit
	// does not cover the registry storage cost.
	ErrUncoveredStorageCosts = errors.New("funding: attached deposit does not cover storage costs")
	// ErrInsufficientDeposit rejects pledges whose attached deposit is below
	// the minimum pledge deposit.
	ErrInsufficientDeposit = errors.New("funding: attached deposit below pledge minimum")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("funding: amount must be positive")
)

// Reconciliation defects. A suspended settlement observing one of these cannot
// safely continue; the coordinator aborts without ledger mutation and the node
// logs the full correlation context.
var (
	// ErrOutcomeCount signals that a dispatch completed with anything other
	// than exactly one delivered outcome.
	ErrOutcomeCount = errors.New("funding: settlement completed with unexpected outcome count")
	// ErrTransferFailed signals an outbound transfer that did not confirm
	// success. The pledge stays unsettled and a later Settle may retry it.
	ErrTransferFailed = errors.New("funding: outbound transfer did not succeed")
)

var errNilState = errors.New("funding: state not configured")

var errNoMover = errors.New("funding: token mover not configured")

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
