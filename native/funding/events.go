package funding

import (
	"strconv"
	"strings"

	"github.com/metastagejustin/MetaStage/core/events"
	"github.com/metastagejustin/MetaStage/core/types"
)

const (
	// EventTypeEpochOpened is emitted when a new epoch is opened.
	EventTypeEpochOpened = "funding.epoch.opened"
	// EventTypeRegistrationOpened is emitted when the registration phase begins.
	EventTypeRegistrationOpened = "funding.epoch.registration_opened"
	// EventTypeFundingOpened is emitted when the funding phase begins.
	EventTypeFundingOpened = "funding.epoch.funding_opened"
	// EventTypeFundingClosed is emitted when the funding phase is exited.
	EventTypeFundingClosed = "funding.epoch.funding_closed"
	// EventTypeEpochClosed is emitted when the epoch is marked off.
	EventTypeEpochClosed = "funding.epoch.closed"
	// EventTypeCreatorRegistered is emitted when a creator registers reward tiers.
	EventTypeCreatorRegistered = "funding.creator.registered"
	// EventTypePledgeRecorded is emitted when both ledger rows of a pledge land.
	EventTypePledgeRecorded = "funding.pledge.recorded"
	// EventTypePledgeRefunded is emitted when an inbound payment is refunded.
	EventTypePledgeRefunded = "funding.pledge.refunded"
	// EventTypeSettlementDispatched is emitted when an outbound transfer is issued.
	EventTypeSettlementDispatched = "funding.settlement.dispatched"
	// EventTypeSettlementReconciled is emitted when a successful outcome is applied.
	EventTypeSettlementReconciled = "funding.settlement.reconciled"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// EpochOpenedEvent announces a freshly opened epoch and its allowed tokens.
func EpochOpenedEvent(epoch uint64, tokens []string) *types.Event {
	return &types.Event{
		Type: EventTypeEpochOpened,
		Attributes: map[string]string{
			"epoch":  strconv.FormatUint(epoch, 10),
			"tokens": strings.Join(tokens, ","),
		},
	}
}

// RegistrationOpenedEvent announces the start of the registration phase.
func RegistrationOpenedEvent(epoch uint64) *types.Event {
	return &types.Event{
		Type: EventTypeRegistrationOpened,
		Attributes: map[string]string{
			"epoch": strconv.FormatUint(epoch, 10),
		},
	}
}

// FundingOpenedEvent announces the start of the funding phase.
func FundingOpenedEvent(epoch uint64) *types.Event {
	return &types.Event{
		Type: EventTypeFundingOpened,
		Attributes: map[string]string{
			"epoch": strconv.FormatUint(epoch, 10),
		},
	}
}

// FundingClosedEvent announces the explicit exit of the funding phase.
func FundingClosedEvent(epoch uint64) *types.Event {
	return &types.Event{
		Type: EventTypeFundingClosed,
		Attributes: map[string]string{
			"epoch": strconv.FormatUint(epoch, 10),
		},
	}
}

// EpochClosedEvent announces that the epoch was marked off.
func EpochClosedEvent(epoch uint64) *types.Event {
	return &types.Event{
		Type: EventTypeEpochClosed,
		Attributes: map[string]string{
			"epoch": strconv.FormatUint(epoch, 10),
		},
	}
}

// CreatorRegisteredEvent announces a creator registration.
func CreatorRegisteredEvent(epoch uint64, creator string) *types.Event {
	return &types.Event{
		Type: EventTypeCreatorRegistered,
		Attributes: map[string]string{
			"epoch":   strconv.FormatUint(epoch, 10),
			"creator": creator,
		},
	}
}

// PledgeRecordedEvent announces a recorded pledge.
func PledgeRecordedEvent(epoch uint64, supporter, creator, token, amount, tier string) *types.Event {
	return &types.Event{
		Type: EventTypePledgeRecorded,
		Attributes: map[string]string{
			"epoch":     strconv.FormatUint(epoch, 10),
			"supporter": supporter,
			"creator":   creator,
			"token":     token,
			"amount":    amount,
			"tier":      tier,
		},
	}
}

// PledgeRefundedEvent announces a refunded inbound payment.
func PledgeRefundedEvent(epoch uint64, supporter, creator, token, amount string) *types.Event {
	return &types.Event{
		Type: EventTypePledgeRefunded,
		Attributes: map[string]string{
			"epoch":     strconv.FormatUint(epoch, 10),
			"supporter": supporter,
			"creator":   creator,
			"token":     token,
			"amount":    amount,
		},
	}
}

// SettlementDispatchedEvent announces an issued outbound transfer.
func SettlementDispatchedEvent(pending *PendingSettlement) *types.Event {
	return &types.Event{
		Type:       EventTypeSettlementDispatched,
		Attributes: settlementAttributes(pending),
	}
}

// SettlementReconciledEvent announces a successful outcome applied to the
// ledger, with the number of rows settled.
func SettlementReconciledEvent(pending *PendingSettlement, rows int) *types.Event {
	attrs := settlementAttributes(pending)
	attrs["rows"] = strconv.Itoa(rows)
	return &types.Event{
		Type:       EventTypeSettlementReconciled,
		Attributes: attrs,
	}
}

func settlementAttributes(pending *PendingSettlement) map[string]string {
	if pending == nil {
		return map[string]string{}
	}
	return map[string]string{
		"id":        pending.ID,
		"epoch":     strconv.FormatUint(pending.Epoch, 10),
		"creator":   hexAddr(pending.Creator),
		"supporter": hexAddr(pending.Supporter),
		"token":     pending.Token,
		"amount":    bigString(pending.Amount),
	}
}
