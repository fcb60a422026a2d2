package funding

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// TransferStatus is the terminal state reported for an outbound transfer.
type TransferStatus uint8

const (
	TransferFailed TransferStatus = iota
	TransferSuccess
)

func (s TransferStatus) String() string {
	switch s {
	case TransferSuccess:
		return "success"
	case TransferFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// TransferOutcome is delivered exactly once per dispatched transfer. Payload
// carries the collaborator's opaque success payload when present.
type TransferOutcome struct {
	Status  TransferStatus
	Payload []byte
}

// TransferRequest describes a dispatched outbound transfer. Pending carries
// the correlation record the mover must hand back with the outcome.
type TransferRequest struct {
	Token   string
	Payee   [20]byte
	Amount  *big.Int
	Pending *PendingSettlement
}

// TokenMover dispatches outbound token transfers. Implementations own the
// asynchronous completion and must deliver exactly one outcome per dispatch to
// their configured sink; they never retry a failed transfer on their own.
type TokenMover interface {
	Transfer(req TransferRequest)
}

// OutcomeSink receives the terminal outcome of a dispatched transfer together
// with its correlation record.
type OutcomeSink interface {
	DeliverTransferOutcome(pending *PendingSettlement, outcomes []TransferOutcome)
}

// Settle dispatches an outbound transfer of the supporter's pledged amount to
// the creator and registers the pending settlement consumed by Reconcile when
// the outcome arrives. No ledger row is touched in this phase; the initiating
// call returns as soon as the dispatch is handed to the token mover.
func (e *Engine) Settle(caller [20]byte, creator [20]byte, supporter [20]byte, token string, amount *big.Int) (*PendingSettlement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.mover == nil {
		return nil, errNoMover
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	canonical, err := NormalizeToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFTTokenID, err)
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	registered, err := e.state.FundingCreatorSetContains(status.Epoch, creator)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrCreatorIsNotRegistered
	}
	pending := &PendingSettlement{
		ID:           uuid.NewString(),
		Epoch:        status.Epoch,
		Creator:      creator,
		Supporter:    supporter,
		Token:        canonical,
		Amount:       new(big.Int).Set(amount),
		DispatchedAt: e.now(),
	}
	e.mover.Transfer(TransferRequest{
		Token:   canonical,
		Payee:   creator,
		Amount:  new(big.Int).Set(amount),
		Pending: pending.Clone(),
	})
	e.emit(SettlementDispatchedEvent(pending))
	return pending.Clone(), nil
}

// Reconcile applies a dispatched transfer's outcome to the ledger. It runs
// once per dispatch, asynchronously, after the transfer completes.
//
// Anything other than exactly one delivered outcome, or a missing receipt
// list for the correlation keys, is a defect: the correlation between
// dispatch and completion is corrupted and the workflow aborts without
// touching the ledger. A failed transfer also aborts without mutation; the
// pledge stays unsettled and an explicit later Settle may retry it with the
// same correlation keys.
func (e *Engine) Reconcile(pending *PendingSettlement, outcomes []TransferOutcome) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if pending == nil {
		return fmt.Errorf("%w: missing pending settlement", ErrOutcomeCount)
	}
	if len(outcomes) != 1 {
		return fmt.Errorf("%w: got %d", ErrOutcomeCount, len(outcomes))
	}
	if outcomes[0].Status != TransferSuccess {
		return fmt.Errorf("%w: settlement %s", ErrTransferFailed, pending.ID)
	}
	exists, err := e.state.FundingEpochExists(pending.Epoch)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: epoch %d", ErrInvalidCurrentEpoch, pending.Epoch)
	}
	rows, ok, err := e.state.FundingReceiptRowsGet(pending.Epoch, pending.Creator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: creator %s epoch %d", ErrCreatorIsNotRegistered, hexAddr(pending.Creator), pending.Epoch)
	}
	settled := 0
	for i := range rows {
		if rows[i].Supporter != pending.Supporter {
			continue
		}
		// Flipping an already-settled row is a same-value overwrite, so a
		// replayed reconciliation stays idempotent.
		rows[i].Settled = true
		settled++
	}
	if settled > 0 {
		if err := e.state.FundingReceiptRowsPut(pending.Epoch, pending.Creator, rows); err != nil {
			return err
		}
	}
	e.emit(SettlementReconciledEvent(pending, settled))
	return nil
}

// IsReconcileDefect reports whether the reconciliation error indicates a
// corrupted dispatch/completion correlation that must be surfaced rather than
// handled.
func IsReconcileDefect(err error) bool {
	return isAny(err, ErrOutcomeCount, ErrInvalidCurrentEpoch, ErrCreatorIsNotRegistered)
}
