package funding

import (
	"errors"
	"math/big"
	"testing"
)

type mockState struct {
	status        *EpochStatus
	epochs        map[uint64]struct{}
	registrations map[uint64]map[[20]byte]*CreatorRegistration
	creatorSets   map[uint64][][20]byte
	supporterRows map[uint64]map[[20]byte][]FundedTokenAmount
	receiptRows   map[uint64]map[[20]byte][]ObtainedTokenAmount
	allowedTokens map[uint64][]string
	feeTables     map[uint64]map[string]uint32
}

func newMockState() *mockState {
	return &mockState{
		epochs:        make(map[uint64]struct{}),
		registrations: make(map[uint64]map[[20]byte]*CreatorRegistration),
		creatorSets:   make(map[uint64][][20]byte),
		supporterRows: make(map[uint64]map[[20]byte][]FundedTokenAmount),
		receiptRows:   make(map[uint64]map[[20]byte][]ObtainedTokenAmount),
		allowedTokens: make(map[uint64][]string),
		feeTables:     make(map[uint64]map[string]uint32),
	}
}

func (m *mockState) FundingStatusGet() (*EpochStatus, bool, error) {
	if m.status == nil {
		return nil, false, nil
	}
	return m.status.Clone(), true, nil
}

func (m *mockState) FundingStatusPut(status *EpochStatus) error {
	m.status = status.Clone()
	return nil
}

func (m *mockState) FundingEpochInit(epoch uint64) error {
	m.epochs[epoch] = struct{}{}
	return nil
}

func (m *mockState) FundingEpochExists(epoch uint64) (bool, error) {
	_, ok := m.epochs[epoch]
	return ok, nil
}

func (m *mockState) FundingRegistrationGet(epoch uint64, creator [20]byte) (*CreatorRegistration, bool, error) {
	reg, ok := m.registrations[epoch][creator]
	if !ok {
		return nil, false, nil
	}
	return reg.Clone(), true, nil
}

func (m *mockState) FundingRegistrationPut(epoch uint64, reg *CreatorRegistration) error {
	if m.registrations[epoch] == nil {
		m.registrations[epoch] = make(map[[20]byte]*CreatorRegistration)
	}
	m.registrations[epoch][reg.Creator] = reg.Clone()
	return nil
}

func (m *mockState) FundingCreatorSetAdd(epoch uint64, creator [20]byte) error {
	for _, existing := range m.creatorSets[epoch] {
		if existing == creator {
			return nil
		}
	}
	m.creatorSets[epoch] = append(m.creatorSets[epoch], creator)
	return nil
}

func (m *mockState) FundingCreatorSetContains(epoch uint64, creator [20]byte) (bool, error) {
	for _, existing := range m.creatorSets[epoch] {
		if existing == creator {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockState) FundingCreatorSetList(epoch uint64) ([][20]byte, error) {
	return append([][20]byte(nil), m.creatorSets[epoch]...), nil
}

func (m *mockState) FundingSupporterRowsGet(epoch uint64, supporter [20]byte) ([]FundedTokenAmount, error) {
	return cloneSupporterRows(m.supporterRows[epoch][supporter]), nil
}

func (m *mockState) FundingSupporterRowsPut(epoch uint64, supporter [20]byte, rows []FundedTokenAmount) error {
	if m.supporterRows[epoch] == nil {
		m.supporterRows[epoch] = make(map[[20]byte][]FundedTokenAmount)
	}
	m.supporterRows[epoch][supporter] = cloneSupporterRows(rows)
	return nil
}

func (m *mockState) FundingReceiptRowsGet(epoch uint64, creator [20]byte) ([]ObtainedTokenAmount, bool, error) {
	rows, ok := m.receiptRows[epoch][creator]
	if !ok {
		return nil, false, nil
	}
	return cloneReceiptRows(rows), true, nil
}

func (m *mockState) FundingReceiptRowsPut(epoch uint64, creator [20]byte, rows []ObtainedTokenAmount) error {
	if m.receiptRows[epoch] == nil {
		m.receiptRows[epoch] = make(map[[20]byte][]ObtainedTokenAmount)
	}
	if rows == nil {
		rows = []ObtainedTokenAmount{}
	}
	m.receiptRows[epoch][creator] = cloneReceiptRows(rows)
	return nil
}

func (m *mockState) FundingAllowedTokensGet(epoch uint64) ([]string, bool, error) {
	tokens, ok := m.allowedTokens[epoch]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), tokens...), true, nil
}

func (m *mockState) FundingAllowedTokensPut(epoch uint64, tokens []string) error {
	m.allowedTokens[epoch] = append([]string(nil), tokens...)
	return nil
}

func (m *mockState) FundingFeeTableGet(epoch uint64) (map[string]uint32, bool, error) {
	fees, ok := m.feeTables[epoch]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]uint32, len(fees))
	for token, bps := range fees {
		out[token] = bps
	}
	return out, true, nil
}

func (m *mockState) FundingFeeTablePut(epoch uint64, fees map[string]uint32) error {
	out := make(map[string]uint32, len(fees))
	for token, bps := range fees {
		out[token] = bps
	}
	m.feeTables[epoch] = out
	return nil
}

func addr(last byte) [20]byte {
	var out [20]byte
	out[19] = last
	return out
}

var adminAddr = addr(0xAD)

func newTestEngine(state *mockState) *Engine {
	engine := NewEngine()
	engine.SetState(state)
	engine.SetAdmin(adminAddr)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine
}

func testTiers(token string) [TierCount]TierAssets {
	var tiers [TierCount]TierAssets
	prices := []int64{10, 100, 1000}
	labels := []string{"Common", "Uncommon", "Rare"}
	for i := range tiers {
		tiers[i] = TierAssets{
			Prices:      PriceTable{token: big.NewInt(prices[i])},
			Title:       labels[i],
			Description: labels[i] + " reward",
			Copies:      100,
		}
	}
	return tiers
}

// openFundingEpoch drives the engine to an open epoch in the funding phase
// with one registered creator.
func openFundingEpoch(t *testing.T, engine *Engine, creator [20]byte, token string) {
	t.Helper()
	if _, err := engine.OpenEpoch(adminAddr, []string{token}, nil); err != nil {
		t.Fatalf("open epoch: %v", err)
	}
	if _, err := engine.OpenRegistration(adminAddr); err != nil {
		t.Fatalf("open registration: %v", err)
	}
	if _, err := engine.RegisterCreator(creator, big.NewInt(0), testTiers(token)); err != nil {
		t.Fatalf("register creator: %v", err)
	}
	if _, err := engine.OpenFunding(adminAddr); err != nil {
		t.Fatalf("open funding: %v", err)
	}
}

func TestOpenEpochRequiresAdmin(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.OpenEpoch(addr(0x01), []string{"usn"}, nil); !errors.Is(err, ErrInvalidAdminCall) {
		t.Fatalf("expected admin rejection, got %v", err)
	}
}

func TestOpenEpochRejectsWhileActive(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.OpenEpoch(adminAddr, []string{"usn"}, nil); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if _, err := engine.OpenEpoch(adminAddr, []string{"usn"}, nil); !errors.Is(err, ErrUnableToCreateNewEpoch) {
		t.Fatalf("expected rejection while active, got %v", err)
	}
}

func TestOpenEpochNormalizesAndDeduplicatesTokens(t *testing.T) {
	engine := newTestEngine(newMockState())
	status, err := engine.OpenEpoch(adminAddr, []string{" Wrap.NEAR ", "usn", "wrap.near"}, nil)
	if err != nil {
		t.Fatalf("open epoch failed: %v", err)
	}
	if status.Epoch != 1 || !status.Active || status.Phase != PhaseInactive {
		t.Fatalf("unexpected status after open: %+v", status)
	}
	tokens, err := engine.AllowedTokens()
	if err != nil {
		t.Fatalf("allowed tokens: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "wrap.near" || tokens[1] != "usn" {
		t.Fatalf("unexpected token set: %v", tokens)
	}
}

func TestOpenEpochCarryForwardNeedsPreviousEpoch(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.OpenEpoch(adminAddr, nil, nil); !errors.Is(err, ErrInvalidInitializationOfEpoch) {
		t.Fatalf("expected carry-forward rejection, got %v", err)
	}
}

func TestOpenEpochCarriesTokensAndFeesForward(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.OpenEpoch(adminAddr, []string{"usn"}, map[string]uint32{"usn": 250}); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if _, err := engine.CloseEpoch(adminAddr); err != nil {
		t.Fatalf("close epoch failed: %v", err)
	}
	status, err := engine.OpenEpoch(adminAddr, nil, nil)
	if err != nil {
		t.Fatalf("carry-forward open failed: %v", err)
	}
	if status.Epoch != 2 {
		t.Fatalf("expected epoch 2, got %d", status.Epoch)
	}
	tokens, err := engine.AllowedTokens()
	if err != nil {
		t.Fatalf("allowed tokens: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != "usn" {
		t.Fatalf("token set was not carried forward: %v", tokens)
	}
	fees, err := engine.FeeTable()
	if err != nil {
		t.Fatalf("fee table: %v", err)
	}
	if fees["usn"] != 250 {
		t.Fatalf("fee table was not carried forward: %v", fees)
	}
}

func TestOpenEpochRejectsExcessiveFee(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.OpenEpoch(adminAddr, []string{"usn"}, map[string]uint32{"usn": 10_001}); err == nil {
		t.Fatalf("expected fee bps rejection")
	}
}

func TestEpochLifecycleSequence(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.OpenEpoch(adminAddr, []string{"usn"}, nil); err != nil {
		t.Fatalf("open epoch: %v", err)
	}
	if _, err := engine.OpenRegistration(adminAddr); err != nil {
		t.Fatalf("open registration: %v", err)
	}
	if _, err := engine.CloseEpoch(adminAddr); !errors.Is(err, ErrAlreadyInRegistration) {
		t.Fatalf("expected close rejection during registration, got %v", err)
	}
	if _, err := engine.OpenFunding(adminAddr); err != nil {
		t.Fatalf("open funding: %v", err)
	}
	if _, err := engine.CloseEpoch(adminAddr); !errors.Is(err, ErrAlreadyInFunding) {
		t.Fatalf("expected close rejection during funding, got %v", err)
	}
	if _, err := engine.CloseFunding(adminAddr); err != nil {
		t.Fatalf("close funding: %v", err)
	}
	status, err := engine.CloseEpoch(adminAddr)
	if err != nil {
		t.Fatalf("close epoch: %v", err)
	}
	if status.Active || status.Phase != PhaseInactive {
		t.Fatalf("unexpected status after close: %+v", status)
	}
}

func TestPhaseTransitionGuards(t *testing.T) {
	engine := newTestEngine(newMockState())
	if _, err := engine.OpenRegistration(adminAddr); !errors.Is(err, ErrEpochIsOff) {
		t.Fatalf("expected epoch-off rejection, got %v", err)
	}
	if _, err := engine.OpenEpoch(adminAddr, []string{"usn"}, nil); err != nil {
		t.Fatalf("open epoch: %v", err)
	}
	if _, err := engine.OpenFunding(adminAddr); !errors.Is(err, ErrNotInRegistrationPeriod) {
		t.Fatalf("expected registration-first rejection, got %v", err)
	}
	if _, err := engine.CloseFunding(adminAddr); !errors.Is(err, ErrNotInFundingPeriod) {
		t.Fatalf("expected not-in-funding rejection, got %v", err)
	}
	if _, err := engine.OpenRegistration(adminAddr); err != nil {
		t.Fatalf("open registration: %v", err)
	}
	if _, err := engine.OpenRegistration(adminAddr); !errors.Is(err, ErrAlreadyInRegistration) {
		t.Fatalf("expected re-entry rejection, got %v", err)
	}
	if _, err := engine.OpenFunding(adminAddr); err != nil {
		t.Fatalf("open funding: %v", err)
	}
	if _, err := engine.OpenFunding(adminAddr); !errors.Is(err, ErrAlreadyInFunding) {
		t.Fatalf("expected funding re-entry rejection, got %v", err)
	}
	if _, err := engine.OpenRegistration(adminAddr); !errors.Is(err, ErrAlreadyInFunding) {
		t.Fatalf("expected registration-during-funding rejection, got %v", err)
	}
}

func TestStatusDefaultsToPreGenesis(t *testing.T) {
	engine := newTestEngine(newMockState())
	status, err := engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Epoch != 0 || status.Active || status.Phase != PhaseInactive {
		t.Fatalf("unexpected default status: %+v", status)
	}
}
