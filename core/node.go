package core

import (
	"log/slog"
	"math/big"
	"sync"

	"github.com/metastagejustin/MetaStage/core/events"
	"github.com/metastagejustin/MetaStage/core/state"
	"github.com/metastagejustin/MetaStage/native/funding"
	"github.com/metastagejustin/MetaStage/observability"
	"github.com/metastagejustin/MetaStage/storage"
)

// NodeConfig carries the protocol parameters the node hands to the funding
// engine at construction.
type NodeConfig struct {
	Admin                   [20]byte
	RegistrationStorageCost *big.Int
	PledgeDeposit           *big.Int
	Emitter                 events.Emitter
	Logger                  *slog.Logger
}

// Node owns the database, the funding state and the funding engine, and
// serialises every operation behind a single mutex. Execution is therefore
// single-threaded and cooperative: an operation runs to completion, and the
// asynchronous settlement outcomes delivered by the token mover interleave as
// independent, later operations rather than preempting anything.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *state.FundingState
	engine *funding.Engine
	logger *slog.Logger
}

// NewNode assembles a node over the supplied database.
func NewNode(db storage.Database, cfg NodeConfig) (*Node, error) {
	fundingState, err := state.NewFundingState(db)
	if err != nil {
		return nil, err
	}
	engine := funding.NewEngine()
	engine.SetState(fundingState)
	engine.SetAdmin(cfg.Admin)
	engine.SetRegistrationStorageCost(cfg.RegistrationStorageCost)
	engine.SetPledgeDeposit(cfg.PledgeDeposit)
	if cfg.Emitter != nil {
		engine.SetEmitter(cfg.Emitter)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:     db,
		state:  fundingState,
		engine: engine,
		logger: logger,
	}, nil
}

// SetTokenMover wires the outbound transfer collaborator. Called after
// construction because the mover itself needs the node as its outcome sink.
func (n *Node) SetTokenMover(mover funding.TokenMover) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetTokenMover(mover)
}

// Engine exposes the underlying funding engine for tests.
func (n *Node) Engine() *funding.Engine { return n.engine }

// OpenEpoch advances to a fresh epoch with the supplied allowed tokens and
// protocol fees, carrying both forward from the previous epoch when omitted.
func (n *Node) OpenEpoch(caller [20]byte, allowedTokens []string, fees map[string]uint32) (*funding.EpochStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.OpenEpoch(caller, allowedTokens, fees)
}

// OpenRegistration starts the registration phase of the open epoch.
func (n *Node) OpenRegistration(caller [20]byte) (*funding.EpochStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.OpenRegistration(caller)
}

// OpenFunding starts the funding phase of the open epoch.
func (n *Node) OpenFunding(caller [20]byte) (*funding.EpochStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.OpenFunding(caller)
}

// CloseFunding explicitly exits the funding phase.
func (n *Node) CloseFunding(caller [20]byte) (*funding.EpochStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CloseFunding(caller)
}

// CloseEpoch marks the open epoch off once both sub-phases were exited.
func (n *Node) CloseEpoch(caller [20]byte) (*funding.EpochStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CloseEpoch(caller)
}

// RegisterCreator stores the caller's tiered reward registration.
func (n *Node) RegisterCreator(creator [20]byte, deposit *big.Int, tiers [funding.TierCount]funding.TierAssets) (*funding.CreatorRegistration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.RegisterCreator(creator, deposit, tiers)
}

// NotifyInboundTransfer processes an inbound payment notification carrying a
// "<creator>_<tier>" pledge tag, recording the pledge or refunding.
func (n *Node) NotifyInboundTransfer(supporter [20]byte, token string, amount, deposit *big.Int, tag string) (*funding.InboundReceipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	receipt, err := n.engine.HandleInboundTransfer(supporter, token, amount, deposit, tag)
	if err != nil {
		return nil, err
	}
	if receipt.Accepted {
		observability.Funding().Pledges.Inc()
	} else {
		observability.Funding().Refunds.Inc()
	}
	return receipt, nil
}

// Settle dispatches an outbound transfer forwarding a supporter's pledge to
// the creator. The call returns as soon as the dispatch is issued; the
// outcome arrives later through DeliverTransferOutcome.
func (n *Node) Settle(caller, creator, supporter [20]byte, token string, amount *big.Int) (*funding.PendingSettlement, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pending, err := n.engine.Settle(caller, creator, supporter, token, amount)
	if err != nil {
		return nil, err
	}
	observability.Funding().Dispatches.Inc()
	return pending, nil
}

// DeliverTransferOutcome implements funding.OutcomeSink. It reconciles a
// dispatched transfer's outcome into the ledger as its own serialised
// operation. Reconciliation defects are surfaced loudly with the full
// correlation context; they indicate a corrupted dispatch/completion pairing
// and never mutate the ledger.
func (n *Node) DeliverTransferOutcome(pending *funding.PendingSettlement, outcomes []funding.TransferOutcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.engine.Reconcile(pending, outcomes)
	if err == nil {
		observability.Funding().SettlementOutcomes.WithLabelValues("success").Inc()
		return
	}
	attrs := correlationAttrs(pending)
	switch {
	case funding.IsReconcileDefect(err):
		observability.Funding().SettlementOutcomes.WithLabelValues("defect").Inc()
		n.logger.Error("settlement reconciliation defect", append(attrs, slog.Any("error", err))...)
	default:
		observability.Funding().SettlementOutcomes.WithLabelValues("failed").Inc()
		n.logger.Warn("settlement transfer failed, pledge remains unsettled", append(attrs, slog.Any("error", err))...)
	}
}

func correlationAttrs(pending *funding.PendingSettlement) []any {
	if pending == nil {
		return []any{slog.String("settlement", "<nil>")}
	}
	amount := "0"
	if pending.Amount != nil {
		amount = pending.Amount.String()
	}
	return []any{
		slog.String("settlement", pending.ID),
		slog.Uint64("epoch", pending.Epoch),
		slog.String("creator", "0x"+hexBytes(pending.Creator)),
		slog.String("supporter", "0x"+hexBytes(pending.Supporter)),
		slog.String("token", pending.Token),
		slog.String("amount", amount),
	}
}

func hexBytes(addr [20]byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(addr)*2)
	for i, b := range addr {
		out[i*2] = digits[b>>4]
		out[i*2+1] = digits[b&0x0f]
	}
	return string(out)
}

// Status returns the current epoch status.
func (n *Node) Status() (*funding.EpochStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Status()
}

// PriceFor returns the tier price for a creator in the current epoch.
func (n *Node) PriceFor(creator [20]byte, tier funding.Tier, token string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PriceFor(creator, tier, token)
}

// TotalReceived sums a creator's receipts for the current epoch.
func (n *Node) TotalReceived(creator [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.TotalReceived(creator)
}

// TokenTotals breaks a creator's receipts down per token.
func (n *Node) TokenTotals(creator [20]byte) (map[string]*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.TokenTotals(creator)
}

// HasAnySettled reports whether any of the creator's receipts were settled.
func (n *Node) HasAnySettled(creator [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.HasAnySettled(creator)
}

// AllowedTokens returns the current epoch's allowed-token set.
func (n *Node) AllowedTokens() ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.AllowedTokens()
}

// FeeTable returns the current epoch's protocol fee table.
func (n *Node) FeeTable() (map[string]uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.FeeTable()
}

// Creators lists the creators registered for the current epoch.
func (n *Node) Creators() ([][20]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Creators()
}

// Registration returns a creator's registration for the current epoch.
func (n *Node) Registration(creator [20]byte) (*funding.CreatorRegistration, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Registration(creator)
}

// SupporterFunds returns a supporter's spend rows for the current epoch.
func (n *Node) SupporterFunds(supporter [20]byte) ([]funding.FundedTokenAmount, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SupporterFunds(supporter)
}

// CreatorReceipts returns a creator's receipt rows for the current epoch.
func (n *Node) CreatorReceipts(creator [20]byte) ([]funding.ObtainedTokenAmount, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CreatorReceipts(creator)
}
