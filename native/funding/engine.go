package funding

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/metastagejustin/MetaStage/core/events"
	"github.com/metastagejustin/MetaStage/core/types"
)

type engineState interface {
	FundingStatusGet() (*EpochStatus, bool, error)
	FundingStatusPut(status *EpochStatus) error
	FundingEpochInit(epoch uint64) error
	FundingEpochExists(epoch uint64) (bool, error)
	FundingRegistrationGet(epoch uint64, creator [20]byte) (*CreatorRegistration, bool, error)
	FundingRegistrationPut(epoch uint64, reg *CreatorRegistration) error
	FundingCreatorSetAdd(epoch uint64, creator [20]byte) error
	FundingCreatorSetContains(epoch uint64, creator [20]byte) (bool, error)
	FundingCreatorSetList(epoch uint64) ([][20]byte, error)
	FundingSupporterRowsGet(epoch uint64, supporter [20]byte) ([]FundedTokenAmount, error)
	FundingSupporterRowsPut(epoch uint64, supporter [20]byte, rows []FundedTokenAmount) error
	FundingReceiptRowsGet(epoch uint64, creator [20]byte) ([]ObtainedTokenAmount, bool, error)
	FundingReceiptRowsPut(epoch uint64, creator [20]byte, rows []ObtainedTokenAmount) error
	FundingAllowedTokensGet(epoch uint64) ([]string, bool, error)
	FundingAllowedTokensPut(epoch uint64, tokens []string) error
	FundingFeeTableGet(epoch uint64) (map[string]uint32, bool, error)
	FundingFeeTablePut(epoch uint64, fees map[string]uint32) error
}

// Engine wires the epoch-scoped funding ledger business logic with
// persistence, event emission and the outbound token-transfer collaborator.
type Engine struct {
	state   engineState
	emitter events.Emitter
	mover   TokenMover
	nowFn   func() int64

	admin                   [20]byte
	registrationStorageCost *big.Int
	pledgeDeposit           *big.Int
}

// NewEngine constructs a funding engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter:                 events.NoopEmitter{},
		nowFn:                   func() int64 { return time.Now().Unix() },
		registrationStorageCost: big.NewInt(0),
		pledgeDeposit:           big.NewInt(0),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTokenMover configures the outbound transfer collaborator.
func (e *Engine) SetTokenMover(mover TokenMover) { e.mover = mover }

// SetAdmin configures the administrator identity gating lifecycle calls.
func (e *Engine) SetAdmin(admin [20]byte) { e.admin = admin }

// SetRegistrationStorageCost configures the minimum deposit a creator must
// attach to cover the storage consumed by a registration.
func (e *Engine) SetRegistrationStorageCost(cost *big.Int) {
	if cost == nil {
		e.registrationStorageCost = big.NewInt(0)
		return
	}
	e.registrationStorageCost = new(big.Int).Set(cost)
}

// SetPledgeDeposit configures the minimum deposit a supporter must attach to a
// pledge.
func (e *Engine) SetPledgeDeposit(min *big.Int) {
	if min == nil {
		e.pledgeDeposit = big.NewInt(0)
		return
	}
	e.pledgeDeposit = new(big.Int).Set(min)
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	if caller != e.admin {
		return ErrInvalidAdminCall
	}
	return nil
}

// status loads the epoch status record, defaulting to the pre-genesis epoch 0
// in the inactive phase when nothing has been stored yet.
func (e *Engine) status() (*EpochStatus, error) {
	status, ok, err := e.state.FundingStatusGet()
	if err != nil {
		return nil, err
	}
	if !ok || status == nil {
		return &EpochStatus{Epoch: 0, Active: false, Phase: PhaseInactive}, nil
	}
	return status, nil
}

// Status returns the current epoch status without mutating state.
func (e *Engine) Status() (*EpochStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	return status.Clone(), nil
}

// OpenEpoch advances the epoch counter, allocates the new epoch's containers
// and marks the epoch on. When allowedTokens is empty the previous epoch's
// allowed-token set is copied forward by value.
func (e *Engine) OpenEpoch(caller [20]byte, allowedTokens []string, fees map[string]uint32) (*EpochStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	if status.Active {
		return nil, ErrUnableToCreateNewEpoch
	}

	var tokens []string
	if len(allowedTokens) > 0 {
		tokens = make([]string, 0, len(allowedTokens))
		seen := make(map[string]struct{}, len(allowedTokens))
		for _, token := range allowedTokens {
			canonical, err := NormalizeToken(token)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFTTokenID, err)
			}
			if _, dup := seen[canonical]; dup {
				continue
			}
			seen[canonical] = struct{}{}
			tokens = append(tokens, canonical)
		}
	} else {
		if status.Epoch == 0 {
			return nil, ErrInvalidInitializationOfEpoch
		}
		previous, ok, err := e.state.FundingAllowedTokensGet(status.Epoch)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidCurrentEpoch
		}
		tokens = append([]string(nil), previous...)
	}

	feeTable := make(map[string]uint32, len(fees))
	for token, bps := range fees {
		canonical, err := NormalizeToken(token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFTTokenID, err)
		}
		if bps > 10_000 {
			return nil, fmt.Errorf("funding: fee bps out of range for %s: %d", canonical, bps)
		}
		feeTable[canonical] = bps
	}
	if len(fees) == 0 && status.Epoch > 0 {
		if previous, ok, err := e.state.FundingFeeTableGet(status.Epoch); err != nil {
			return nil, err
		} else if ok {
			for token, bps := range previous {
				feeTable[token] = bps
			}
		}
	}

	next := status.Epoch + 1
	if err := e.state.FundingEpochInit(next); err != nil {
		return nil, err
	}
	if err := e.state.FundingAllowedTokensPut(next, tokens); err != nil {
		return nil, err
	}
	if err := e.state.FundingFeeTablePut(next, feeTable); err != nil {
		return nil, err
	}

	status.Epoch = next
	status.Active = true
	status.Phase = PhaseInactive
	if err := e.state.FundingStatusPut(status); err != nil {
		return nil, err
	}
	e.emit(EpochOpenedEvent(next, tokens))
	return status.Clone(), nil
}

// OpenRegistration moves the open epoch into the registration phase.
func (e *Engine) OpenRegistration(caller [20]byte) (*EpochStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	if !status.Active {
		return nil, ErrEpochIsOff
	}
	switch status.Phase {
	case PhaseFunding:
		return nil, ErrAlreadyInFunding
	case PhaseRegistration:
		return nil, ErrAlreadyInRegistration
	}
	status.Phase = PhaseRegistration
	if err := e.state.FundingStatusPut(status); err != nil {
		return nil, err
	}
	e.emit(RegistrationOpenedEvent(status.Epoch))
	return status.Clone(), nil
}

// OpenFunding moves the open epoch from registration into the funding phase.
func (e *Engine) OpenFunding(caller [20]byte) (*EpochStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	if !status.Active {
		return nil, ErrEpochIsOff
	}
	if status.Phase == PhaseFunding {
		return nil, ErrAlreadyInFunding
	}
	if status.Phase != PhaseRegistration {
		return nil, ErrNotInRegistrationPeriod
	}
	status.Phase = PhaseFunding
	if err := e.state.FundingStatusPut(status); err != nil {
		return nil, err
	}
	e.emit(FundingOpenedEvent(status.Epoch))
	return status.Clone(), nil
}

// CloseFunding explicitly exits the funding phase while leaving the epoch on,
// so settlements can run before the epoch is closed for good.
func (e *Engine) CloseFunding(caller [20]byte) (*EpochStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	if !status.Active {
		return nil, ErrEpochIsOff
	}
	if status.Phase != PhaseFunding {
		return nil, ErrNotInFundingPeriod
	}
	status.Phase = PhaseInactive
	if err := e.state.FundingStatusPut(status); err != nil {
		return nil, err
	}
	e.emit(FundingClosedEvent(status.Epoch))
	return status.Clone(), nil
}

// CloseEpoch marks the epoch off. Both sub-phases must have been explicitly
// exited first; this is a safety gate against closing an epoch mid-flight.
func (e *Engine) CloseEpoch(caller [20]byte) (*EpochStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	if !status.Active {
		return nil, ErrEpochIsOff
	}
	switch status.Phase {
	case PhaseRegistration:
		return nil, ErrAlreadyInRegistration
	case PhaseFunding:
		return nil, ErrAlreadyInFunding
	}
	status.Active = false
	status.Phase = PhaseInactive
	if err := e.state.FundingStatusPut(status); err != nil {
		return nil, err
	}
	e.emit(EpochClosedEvent(status.Epoch))
	return status.Clone(), nil
}

// AllowedTokens returns the allowed-token set for the current epoch.
func (e *Engine) AllowedTokens() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	tokens, ok, err := e.state.FundingAllowedTokensGet(status.Epoch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCurrentEpoch
	}
	return append([]string(nil), tokens...), nil
}

// FeeTable returns the protocol fee table (basis points per token) recorded
// for the current epoch.
func (e *Engine) FeeTable() (map[string]uint32, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	fees, ok, err := e.state.FundingFeeTableGet(status.Epoch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCurrentEpoch
	}
	out := make(map[string]uint32, len(fees))
	for token, bps := range fees {
		out[token] = bps
	}
	return out, nil
}

func (e *Engine) tokenAllowed(epoch uint64, token string) (bool, error) {
	tokens, ok, err := e.state.FundingAllowedTokensGet(epoch)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrInvalidCurrentEpoch
	}
	for _, candidate := range tokens {
		if candidate == token {
			return true, nil
		}
	}
	return false, nil
}
