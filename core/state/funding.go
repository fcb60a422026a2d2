package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/metastagejustin/MetaStage/native/funding"
	"github.com/metastagejustin/MetaStage/storage"
)

var (
	statusKeyPrefix     = []byte("funding/status")
	epochMarkerPrefix   = []byte("funding/epoch")
	registrationPrefix  = []byte("funding/registration")
	creatorSetPrefix    = []byte("funding/creators")
	supporterRowsPrefix = []byte("funding/supporter-rows")
	receiptRowsPrefix   = []byte("funding/receipt-rows")
	allowedTokensPrefix = []byte("funding/allowed-tokens")
	feeTablePrefix      = []byte("funding/fee-table")

	errNilFundingStateDB   = errors.New("state: nil database")
	errNilFundingStateArgs = errors.New("state: nil record")
)

// FundingState persists the funding engine's per-epoch containers in a
// key-value store. Keys are keccak256 digests of a prefix, the big-endian
// epoch and, where applicable, the account address.
type FundingState struct {
	db storage.Database
}

// NewFundingState wraps the supplied database.
func NewFundingState(db storage.Database) (*FundingState, error) {
	if db == nil {
		return nil, errNilFundingStateDB
	}
	return &FundingState{db: db}, nil
}

func epochKey(prefix []byte, epoch uint64) []byte {
	buf := make([]byte, len(prefix)+8)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], epoch)
	return ethcrypto.Keccak256(buf)
}

func epochAddrKey(prefix []byte, epoch uint64, addr [20]byte) []byte {
	buf := make([]byte, len(prefix)+8+len(addr))
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], epoch)
	copy(buf[len(prefix)+8:], addr[:])
	return ethcrypto.Keccak256(buf)
}

func (s *FundingState) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode funding record: %w", err)
	}
	return true, nil
}

func (s *FundingState) put(key []byte, record interface{}) error {
	raw, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("state: encode funding record: %w", err)
	}
	return s.db.Put(key, raw)
}

type storedStatus struct {
	Epoch  uint64
	Active bool
	Phase  uint8
}

// FundingStatusGet loads the epoch status record.
func (s *FundingState) FundingStatusGet() (*funding.EpochStatus, bool, error) {
	var stored storedStatus
	ok, err := s.get(ethcrypto.Keccak256(statusKeyPrefix), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &funding.EpochStatus{
		Epoch:  stored.Epoch,
		Active: stored.Active,
		Phase:  funding.Phase(stored.Phase),
	}, true, nil
}

// FundingStatusPut stores the epoch status record.
func (s *FundingState) FundingStatusPut(status *funding.EpochStatus) error {
	if status == nil {
		return errNilFundingStateArgs
	}
	return s.put(ethcrypto.Keccak256(statusKeyPrefix), &storedStatus{
		Epoch:  status.Epoch,
		Active: status.Active,
		Phase:  uint8(status.Phase),
	})
}

// FundingEpochInit allocates the marker for a freshly opened epoch.
func (s *FundingState) FundingEpochInit(epoch uint64) error {
	return s.db.Put(epochKey(epochMarkerPrefix, epoch), []byte{1})
}

// FundingEpochExists reports whether the epoch's containers were allocated.
func (s *FundingState) FundingEpochExists(epoch uint64) (bool, error) {
	return s.db.Has(epochKey(epochMarkerPrefix, epoch))
}

type storedPrice struct {
	Token  string
	Amount *big.Int
}

type storedTierAssets struct {
	Prices      []storedPrice
	Title       string
	Description string
	Media       string
	Copies      uint64
	Extra       string
	Reference   string
}

type storedRegistration struct {
	Creator      [20]byte
	Tiers        []storedTierAssets
	RegisteredAt uint64
}

func newStoredTierAssets(assets funding.TierAssets) storedTierAssets {
	prices := make([]storedPrice, 0, len(assets.Prices))
	for token, amount := range assets.Prices {
		stored := storedPrice{Token: token, Amount: big.NewInt(0)}
		if amount != nil {
			stored.Amount = new(big.Int).Set(amount)
		}
		prices = append(prices, stored)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Token < prices[j].Token })
	return storedTierAssets{
		Prices:      prices,
		Title:       assets.Title,
		Description: assets.Description,
		Media:       assets.Media,
		Copies:      assets.Copies,
		Extra:       assets.Extra,
		Reference:   assets.Reference,
	}
}

func (t storedTierAssets) toTierAssets() funding.TierAssets {
	prices := make(funding.PriceTable, len(t.Prices))
	for _, price := range t.Prices {
		amount := big.NewInt(0)
		if price.Amount != nil {
			amount = new(big.Int).Set(price.Amount)
		}
		prices[price.Token] = amount
	}
	return funding.TierAssets{
		Prices:      prices,
		Title:       t.Title,
		Description: t.Description,
		Media:       t.Media,
		Copies:      t.Copies,
		Extra:       t.Extra,
		Reference:   t.Reference,
	}
}

// FundingRegistrationGet loads a creator registration for the epoch.
func (s *FundingState) FundingRegistrationGet(epoch uint64, creator [20]byte) (*funding.CreatorRegistration, bool, error) {
	var stored storedRegistration
	ok, err := s.get(epochAddrKey(registrationPrefix, epoch, creator), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(stored.Tiers) != funding.TierCount {
		return nil, false, fmt.Errorf("state: registration for %x has %d tiers", creator, len(stored.Tiers))
	}
	reg := &funding.CreatorRegistration{
		Creator:      stored.Creator,
		RegisteredAt: int64(stored.RegisteredAt),
	}
	for i := range stored.Tiers {
		reg.Tiers[i] = stored.Tiers[i].toTierAssets()
	}
	return reg, true, nil
}

// FundingRegistrationPut stores a creator registration for the epoch.
func (s *FundingState) FundingRegistrationPut(epoch uint64, reg *funding.CreatorRegistration) error {
	if reg == nil {
		return errNilFundingStateArgs
	}
	stored := storedRegistration{
		Creator:      reg.Creator,
		Tiers:        make([]storedTierAssets, 0, funding.TierCount),
		RegisteredAt: uint64(reg.RegisteredAt),
	}
	for i := range reg.Tiers {
		stored.Tiers = append(stored.Tiers, newStoredTierAssets(reg.Tiers[i]))
	}
	return s.put(epochAddrKey(registrationPrefix, epoch, reg.Creator), &stored)
}

type storedCreatorSet struct {
	Creators [][20]byte
}

// FundingCreatorSetAdd inserts the creator into the epoch's creator set.
func (s *FundingState) FundingCreatorSetAdd(epoch uint64, creator [20]byte) error {
	key := epochKey(creatorSetPrefix, epoch)
	var set storedCreatorSet
	if _, err := s.get(key, &set); err != nil {
		return err
	}
	for _, existing := range set.Creators {
		if existing == creator {
			return nil
		}
	}
	set.Creators = append(set.Creators, creator)
	return s.put(key, &set)
}

// FundingCreatorSetContains reports membership in the epoch's creator set.
func (s *FundingState) FundingCreatorSetContains(epoch uint64, creator [20]byte) (bool, error) {
	var set storedCreatorSet
	if _, err := s.get(epochKey(creatorSetPrefix, epoch), &set); err != nil {
		return false, err
	}
	for _, existing := range set.Creators {
		if existing == creator {
			return true, nil
		}
	}
	return false, nil
}

// FundingCreatorSetList returns the epoch's creator set in insertion order.
func (s *FundingState) FundingCreatorSetList(epoch uint64) ([][20]byte, error) {
	var set storedCreatorSet
	if _, err := s.get(epochKey(creatorSetPrefix, epoch), &set); err != nil {
		return nil, err
	}
	out := make([][20]byte, len(set.Creators))
	copy(out, set.Creators)
	return out, nil
}

type storedSupporterRow struct {
	Creator [20]byte
	Token   string
	Amount  *big.Int
}

type storedSupporterRows struct {
	Rows []storedSupporterRow
}

// FundingSupporterRowsGet loads the supporter's spend rows for the epoch. A
// supporter without rows yields an empty slice.
func (s *FundingState) FundingSupporterRowsGet(epoch uint64, supporter [20]byte) ([]funding.FundedTokenAmount, error) {
	var stored storedSupporterRows
	if _, err := s.get(epochAddrKey(supporterRowsPrefix, epoch, supporter), &stored); err != nil {
		return nil, err
	}
	rows := make([]funding.FundedTokenAmount, 0, len(stored.Rows))
	for _, row := range stored.Rows {
		amount := big.NewInt(0)
		if row.Amount != nil {
			amount = new(big.Int).Set(row.Amount)
		}
		rows = append(rows, funding.FundedTokenAmount{Creator: row.Creator, Token: row.Token, Amount: amount})
	}
	return rows, nil
}

// FundingSupporterRowsPut stores the supporter's spend rows for the epoch.
func (s *FundingState) FundingSupporterRowsPut(epoch uint64, supporter [20]byte, rows []funding.FundedTokenAmount) error {
	stored := storedSupporterRows{Rows: make([]storedSupporterRow, 0, len(rows))}
	for _, row := range rows {
		amount := big.NewInt(0)
		if row.Amount != nil {
			amount = new(big.Int).Set(row.Amount)
		}
		stored.Rows = append(stored.Rows, storedSupporterRow{Creator: row.Creator, Token: row.Token, Amount: amount})
	}
	return s.put(epochAddrKey(supporterRowsPrefix, epoch, supporter), &stored)
}

type storedReceiptRow struct {
	Supporter [20]byte
	Token     string
	Amount    *big.Int
	Tier      uint8
	Settled   bool
}

type storedReceiptRows struct {
	Rows []storedReceiptRow
}

// FundingReceiptRowsGet loads the creator's receipt rows for the epoch. The
// boolean distinguishes a registered creator with an empty list from a missing
// list entirely.
func (s *FundingState) FundingReceiptRowsGet(epoch uint64, creator [20]byte) ([]funding.ObtainedTokenAmount, bool, error) {
	var stored storedReceiptRows
	ok, err := s.get(epochAddrKey(receiptRowsPrefix, epoch, creator), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	rows := make([]funding.ObtainedTokenAmount, 0, len(stored.Rows))
	for _, row := range stored.Rows {
		amount := big.NewInt(0)
		if row.Amount != nil {
			amount = new(big.Int).Set(row.Amount)
		}
		rows = append(rows, funding.ObtainedTokenAmount{
			Supporter: row.Supporter,
			Token:     row.Token,
			Amount:    amount,
			Tier:      funding.Tier(row.Tier),
			Settled:   row.Settled,
		})
	}
	return rows, true, nil
}

// FundingReceiptRowsPut stores the creator's receipt rows for the epoch.
func (s *FundingState) FundingReceiptRowsPut(epoch uint64, creator [20]byte, rows []funding.ObtainedTokenAmount) error {
	stored := storedReceiptRows{Rows: make([]storedReceiptRow, 0, len(rows))}
	for _, row := range rows {
		amount := big.NewInt(0)
		if row.Amount != nil {
			amount = new(big.Int).Set(row.Amount)
		}
		stored.Rows = append(stored.Rows, storedReceiptRow{
			Supporter: row.Supporter,
			Token:     row.Token,
			Amount:    amount,
			Tier:      uint8(row.Tier),
			Settled:   row.Settled,
		})
	}
	return s.put(epochAddrKey(receiptRowsPrefix, epoch, creator), &stored)
}

type storedTokenSet struct {
	Tokens []string
}

// FundingAllowedTokensGet loads the epoch's allowed-token set.
func (s *FundingState) FundingAllowedTokensGet(epoch uint64) ([]string, bool, error) {
	var stored storedTokenSet
	ok, err := s.get(epochKey(allowedTokensPrefix, epoch), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return append([]string(nil), stored.Tokens...), true, nil
}

// FundingAllowedTokensPut stores the epoch's allowed-token set.
func (s *FundingState) FundingAllowedTokensPut(epoch uint64, tokens []string) error {
	return s.put(epochKey(allowedTokensPrefix, epoch), &storedTokenSet{Tokens: tokens})
}

type storedFee struct {
	Token string
	Bps   uint32
}

type storedFeeTable struct {
	Fees []storedFee
}

// FundingFeeTableGet loads the epoch's protocol fee table.
func (s *FundingState) FundingFeeTableGet(epoch uint64) (map[string]uint32, bool, error) {
	var stored storedFeeTable
	ok, err := s.get(epochKey(feeTablePrefix, epoch), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	fees := make(map[string]uint32, len(stored.Fees))
	for _, fee := range stored.Fees {
		fees[fee.Token] = fee.Bps
	}
	return fees, true, nil
}

// FundingFeeTablePut stores the epoch's protocol fee table.
func (s *FundingState) FundingFeeTablePut(epoch uint64, fees map[string]uint32) error {
	stored := storedFeeTable{Fees: make([]storedFee, 0, len(fees))}
	for token, bps := range fees {
		stored.Fees = append(stored.Fees, storedFee{Token: token, Bps: bps})
	}
	sort.Slice(stored.Fees, func(i, j int) bool { return stored.Fees[i].Token < stored.Fees[j].Token })
	return s.put(epochKey(feeTablePrefix, epoch), &stored)
}
