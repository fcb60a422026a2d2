package core

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/metastagejustin/MetaStage/native/funding"
	"github.com/metastagejustin/MetaStage/storage"
)

func addr(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

var admin = addr(0xAD)

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	node, err := NewNode(db, NodeConfig{
		Admin:  admin,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	return node
}

func nodeTiers() [funding.TierCount]funding.TierAssets {
	var tiers [funding.TierCount]funding.TierAssets
	prices := []int64{10, 100, 1000}
	for i := range tiers {
		tiers[i] = funding.TierAssets{
			Prices: funding.PriceTable{"usn": big.NewInt(prices[i])},
			Title:  funding.Tier(i).String(),
		}
	}
	return tiers
}

type recordingMover struct {
	requests []funding.TransferRequest
}

func (m *recordingMover) Transfer(req funding.TransferRequest) {
	m.requests = append(m.requests, req)
}

func runFundingEpoch(t *testing.T, node *Node, creator [20]byte) {
	t.Helper()
	if _, err := node.OpenEpoch(admin, []string{"usn"}, nil); err != nil {
		t.Fatalf("open epoch: %v", err)
	}
	if _, err := node.OpenRegistration(admin); err != nil {
		t.Fatalf("open registration: %v", err)
	}
	if _, err := node.RegisterCreator(creator, big.NewInt(0), nodeTiers()); err != nil {
		t.Fatalf("register creator: %v", err)
	}
	if _, err := node.OpenFunding(admin); err != nil {
		t.Fatalf("open funding: %v", err)
	}
}

func TestNodeLifecycleAndPledgeFlow(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	creator := addr(0x01)
	supporter := addr(0x02)
	runFundingEpoch(t, node, creator)

	tag := "0x0000000000000000000000000000000000000001_common"
	receipt, err := node.NotifyInboundTransfer(supporter, "usn", big.NewInt(10), big.NewInt(0), tag)
	if err != nil {
		t.Fatalf("inbound transfer: %v", err)
	}
	if !receipt.Accepted {
		t.Fatalf("pledge was refunded: %+v", receipt)
	}
	total, err := node.TotalReceived(creator)
	if err != nil {
		t.Fatalf("total received: %v", err)
	}
	if total.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected total: %s", total)
	}

	if _, err := node.CloseFunding(admin); err != nil {
		t.Fatalf("close funding: %v", err)
	}
	status, err := node.CloseEpoch(admin)
	if err != nil {
		t.Fatalf("close epoch: %v", err)
	}
	if status.Active {
		t.Fatalf("epoch should be off: %+v", status)
	}
}

func TestNodeSettlementRoundTrip(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	creator := addr(0x01)
	supporter := addr(0x02)
	runFundingEpoch(t, node, creator)

	mover := &recordingMover{}
	node.SetTokenMover(mover)

	tag := "0x0000000000000000000000000000000000000001_common"
	if _, err := node.NotifyInboundTransfer(supporter, "usn", big.NewInt(10), big.NewInt(0), tag); err != nil {
		t.Fatalf("inbound transfer: %v", err)
	}

	pending, err := node.Settle(admin, creator, supporter, "usn", big.NewInt(10))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(mover.requests) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(mover.requests))
	}

	node.DeliverTransferOutcome(pending, []funding.TransferOutcome{{Status: funding.TransferSuccess}})
	settled, err := node.HasAnySettled(creator)
	if err != nil {
		t.Fatalf("has any settled: %v", err)
	}
	if !settled {
		t.Fatalf("outcome was not applied")
	}
}

func TestNodeOutcomeDefectsDoNotMutate(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	creator := addr(0x01)
	supporter := addr(0x02)
	runFundingEpoch(t, node, creator)

	mover := &recordingMover{}
	node.SetTokenMover(mover)

	tag := "0x0000000000000000000000000000000000000001_common"
	if _, err := node.NotifyInboundTransfer(supporter, "usn", big.NewInt(10), big.NewInt(0), tag); err != nil {
		t.Fatalf("inbound transfer: %v", err)
	}
	pending, err := node.Settle(admin, creator, supporter, "usn", big.NewInt(10))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Corrupted completions and failed transfers are absorbed by the sink.
	node.DeliverTransferOutcome(nil, nil)
	node.DeliverTransferOutcome(pending, nil)
	node.DeliverTransferOutcome(pending, []funding.TransferOutcome{{Status: funding.TransferFailed}})

	settled, err := node.HasAnySettled(creator)
	if err != nil {
		t.Fatalf("has any settled: %v", err)
	}
	if settled {
		t.Fatalf("defective outcomes must not settle rows")
	}
}

func TestNodeStatePersistsAcrossRestart(t *testing.T) {
	db := storage.NewMemDB()
	node := newTestNode(t, db)
	creator := addr(0x01)
	supporter := addr(0x02)
	runFundingEpoch(t, node, creator)
	tag := "0x0000000000000000000000000000000000000001_common"
	if _, err := node.NotifyInboundTransfer(supporter, "usn", big.NewInt(10), big.NewInt(0), tag); err != nil {
		t.Fatalf("inbound transfer: %v", err)
	}

	restarted := newTestNode(t, db)
	status, err := restarted.Status()
	if err != nil {
		t.Fatalf("status after restart: %v", err)
	}
	if status.Epoch != 1 || !status.Active || status.Phase != funding.PhaseFunding {
		t.Fatalf("status did not persist: %+v", status)
	}
	total, err := restarted.TotalReceived(creator)
	if err != nil {
		t.Fatalf("total after restart: %v", err)
	}
	if total.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("ledger did not persist: %s", total)
	}
	if _, err := restarted.Registration(creator); err != nil {
		t.Fatalf("registration did not persist: %v", err)
	}
	if _, err := restarted.OpenEpoch(admin, []string{"usn"}, nil); !errors.Is(err, funding.ErrUnableToCreateNewEpoch) {
		t.Fatalf("expected open rejection while active, got %v", err)
	}
}
