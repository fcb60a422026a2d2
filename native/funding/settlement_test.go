package funding

import (
	"errors"
	"math/big"
	"testing"
)

type mockMover struct {
	requests []TransferRequest
}

func (m *mockMover) Transfer(req TransferRequest) {
	m.requests = append(m.requests, req)
}

func TestSettleDispatchesWithoutTouchingLedger(t *testing.T) {
	engine := newTestEngine(newMockState())
	mover := &mockMover{}
	engine.SetTokenMover(mover)
	creator := addr(0x01)
	supporter := addr(0x02)
	openFundingEpoch(t, engine, creator, "usn")
	if _, err := engine.RecordPledge(supporter, creator, TierCommon, "usn", big.NewInt(10), big.NewInt(0)); err != nil {
		t.Fatalf("record pledge: %v", err)
	}

	pending, err := engine.Settle(adminAddr, creator, supporter, "USN", big.NewInt(10))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if pending.ID == "" || pending.Epoch != 1 || pending.Token != "usn" {
		t.Fatalf("unexpected pending settlement: %+v", pending)
	}
	if len(mover.requests) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(mover.requests))
	}
	req := mover.requests[0]
	if req.Payee != creator || req.Token != "usn" || req.Amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected transfer request: %+v", req)
	}
	if req.Pending == nil || req.Pending.ID != pending.ID {
		t.Fatalf("dispatch lost its correlation record: %+v", req.Pending)
	}

	settled, err := engine.HasAnySettled(creator)
	if err != nil {
		t.Fatalf("has any settled: %v", err)
	}
	if settled {
		t.Fatalf("dispatch must not mutate the ledger")
	}
}

func TestSettleGuards(t *testing.T) {
	engine := newTestEngine(newMockState())
	creator := addr(0x01)
	supporter := addr(0x02)
	if _, err := engine.Settle(adminAddr, creator, supporter, "usn", big.NewInt(10)); err == nil {
		t.Fatalf("expected rejection without a token mover")
	}
	mover := &mockMover{}
	engine.SetTokenMover(mover)
	openFundingEpoch(t, engine, creator, "usn")

	if _, err := engine.Settle(addr(0x99), creator, supporter, "usn", big.NewInt(10)); !errors.Is(err, ErrInvalidAdminCall) {
		t.Fatalf("expected admin rejection, got %v", err)
	}
	if _, err := engine.Settle(adminAddr, creator, supporter, "usn", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected amount rejection, got %v", err)
	}
	if _, err := engine.Settle(adminAddr, addr(0x99), supporter, "usn", big.NewInt(10)); !errors.Is(err, ErrCreatorIsNotRegistered) {
		t.Fatalf("expected unregistered creator rejection, got %v", err)
	}
	if len(mover.requests) != 0 {
		t.Fatalf("rejected settlements must not dispatch, got %d", len(mover.requests))
	}
}

func TestReconcileMarksSupporterRowsSettled(t *testing.T) {
	engine := newTestEngine(newMockState())
	mover := &mockMover{}
	engine.SetTokenMover(mover)
	creator := addr(0x01)
	supporter := addr(0x02)
	other := addr(0x03)
	openFundingEpoch(t, engine, creator, "usn")
	if _, err := engine.RecordPledge(supporter, creator, TierCommon, "usn", big.NewInt(10), big.NewInt(0)); err != nil {
		t.Fatalf("first pledge: %v", err)
	}
	if _, err := engine.RecordPledge(supporter, creator, TierUncommon, "usn", big.NewInt(100), big.NewInt(0)); err != nil {
		t.Fatalf("second pledge: %v", err)
	}
	if _, err := engine.RecordPledge(other, creator, TierCommon, "usn", big.NewInt(10), big.NewInt(0)); err != nil {
		t.Fatalf("other pledge: %v", err)
	}

	pending, err := engine.Settle(adminAddr, creator, supporter, "usn", big.NewInt(110))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := engine.Reconcile(pending, []TransferOutcome{{Status: TransferSuccess}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	rows, err := engine.CreatorReceipts(creator)
	if err != nil {
		t.Fatalf("creator receipts: %v", err)
	}
	for _, row := range rows {
		want := row.Supporter == supporter
		if row.Settled != want {
			t.Fatalf("row %+v settled flag mismatch", row)
		}
	}

	// Replaying the same outcome is a no-op.
	if err := engine.Reconcile(pending, []TransferOutcome{{Status: TransferSuccess}}); err != nil {
		t.Fatalf("replayed reconcile: %v", err)
	}
	again, err := engine.CreatorReceipts(creator)
	if err != nil {
		t.Fatalf("creator receipts after replay: %v", err)
	}
	for i := range rows {
		if rows[i].Settled != again[i].Settled {
			t.Fatalf("replay changed row %d", i)
		}
	}
}

func TestReconcileFailedTransferLeavesLedgerUntouched(t *testing.T) {
	engine := newTestEngine(newMockState())
	mover := &mockMover{}
	engine.SetTokenMover(mover)
	creator := addr(0x01)
	supporter := addr(0x02)
	openFundingEpoch(t, engine, creator, "usn")
	if _, err := engine.RecordPledge(supporter, creator, TierCommon, "usn", big.NewInt(10), big.NewInt(0)); err != nil {
		t.Fatalf("record pledge: %v", err)
	}
	pending, err := engine.Settle(adminAddr, creator, supporter, "usn", big.NewInt(10))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	err = engine.Reconcile(pending, []TransferOutcome{{Status: TransferFailed}})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if IsReconcileDefect(err) {
		t.Fatalf("a failed transfer is not a correlation defect")
	}
	settled, err := engine.HasAnySettled(creator)
	if err != nil {
		t.Fatalf("has any settled: %v", err)
	}
	if settled {
		t.Fatalf("failed transfer must not settle any row")
	}

	// An explicit retry with the same correlation keys succeeds.
	retry, err := engine.Settle(adminAddr, creator, supporter, "usn", big.NewInt(10))
	if err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if retry.ID == pending.ID {
		t.Fatalf("retry must carry a fresh dispatch identity")
	}
	if err := engine.Reconcile(retry, []TransferOutcome{{Status: TransferSuccess}}); err != nil {
		t.Fatalf("retry reconcile: %v", err)
	}
	settled, err = engine.HasAnySettled(creator)
	if err != nil {
		t.Fatalf("has any settled after retry: %v", err)
	}
	if !settled {
		t.Fatalf("retry must settle the pledge")
	}
}

func TestReconcileDefects(t *testing.T) {
	engine := newTestEngine(newMockState())
	mover := &mockMover{}
	engine.SetTokenMover(mover)
	creator := addr(0x01)
	supporter := addr(0x02)
	openFundingEpoch(t, engine, creator, "usn")
	if _, err := engine.RecordPledge(supporter, creator, TierCommon, "usn", big.NewInt(10), big.NewInt(0)); err != nil {
		t.Fatalf("record pledge: %v", err)
	}
	pending, err := engine.Settle(adminAddr, creator, supporter, "usn", big.NewInt(10))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if err := engine.Reconcile(nil, []TransferOutcome{{Status: TransferSuccess}}); !errors.Is(err, ErrOutcomeCount) {
		t.Fatalf("expected defect for missing pending record, got %v", err)
	}
	if err := engine.Reconcile(pending, nil); !errors.Is(err, ErrOutcomeCount) {
		t.Fatalf("expected defect for zero outcomes, got %v", err)
	}
	two := []TransferOutcome{{Status: TransferSuccess}, {Status: TransferSuccess}}
	if err := engine.Reconcile(pending, two); !errors.Is(err, ErrOutcomeCount) {
		t.Fatalf("expected defect for two outcomes, got %v", err)
	}

	missingEpoch := pending.Clone()
	missingEpoch.Epoch = 42
	if err := engine.Reconcile(missingEpoch, []TransferOutcome{{Status: TransferSuccess}}); !errors.Is(err, ErrInvalidCurrentEpoch) {
		t.Fatalf("expected defect for missing epoch, got %v", err)
	}

	missingCreator := pending.Clone()
	missingCreator.Creator = addr(0x99)
	err = engine.Reconcile(missingCreator, []TransferOutcome{{Status: TransferSuccess}})
	if !errors.Is(err, ErrCreatorIsNotRegistered) {
		t.Fatalf("expected defect for missing receipt list, got %v", err)
	}
	if !IsReconcileDefect(err) {
		t.Fatalf("missing receipt list must classify as defect")
	}

	settled, err := engine.HasAnySettled(creator)
	if err != nil {
		t.Fatalf("has any settled: %v", err)
	}
	if settled {
		t.Fatalf("defective reconciliations must not mutate the ledger")
	}
}
