package funding

import (
	"fmt"
	"math/big"
	"strings"
)

// Phase enumerates the lifecycle stages an epoch moves through. Exactly one
// epoch may sit in a phase other than PhaseInactive at any time.
type Phase uint8

const (
	PhaseInactive Phase = iota
	PhaseRegistration
	PhaseFunding
)

// Valid reports whether the phase value is within the supported range.
func (p Phase) Valid() bool {
	switch p {
	case PhaseInactive, PhaseRegistration, PhaseFunding:
		return true
	default:
		return false
	}
}

func (p Phase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseRegistration:
		return "registration"
	case PhaseFunding:
		return "funding"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Tier identifies one of the three fixed reward ranks a supporter can pledge
// for. The numeric value doubles as the index into tier-keyed arrays.
type Tier uint8

const (
	TierCommon Tier = iota
	TierUncommon
	TierRare

	// TierCount fixes the cardinality of every tier-indexed collection.
	TierCount = 3
)

// Valid reports whether the tier value addresses a real rank.
func (t Tier) Valid() bool { return t < TierCount }

func (t Tier) String() string {
	switch t {
	case TierCommon:
		return "common"
	case TierUncommon:
		return "uncommon"
	case TierRare:
		return "rare"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// ParseTier maps the lowercase wire label of a reward rank onto its Tier
// value. Unrecognised labels are reported so callers can refund the payment.
func ParseTier(label string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "common":
		return TierCommon, true
	case "uncommon":
		return TierUncommon, true
	case "rare":
		return TierRare, true
	default:
		return 0, false
	}
}

// NormalizeToken canonicalises a fungible token identity. Token identities are
// lowercase, trimmed and non-empty ("wrap.near", "usn", ...).
func NormalizeToken(token string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(token))
	if trimmed == "" {
		return "", fmt.Errorf("funding: empty token identity")
	}
	return trimmed, nil
}

// PriceTable maps an accepted token identity onto the amount required to claim
// a reward tier when paying with that token.
type PriceTable map[string]*big.Int

// Clone returns a deep copy of the price table.
func (p PriceTable) Clone() PriceTable {
	if p == nil {
		return nil
	}
	clone := make(PriceTable, len(p))
	for token, amount := range p {
		if amount != nil {
			clone[token] = new(big.Int).Set(amount)
		} else {
			clone[token] = big.NewInt(0)
		}
	}
	return clone
}

// TierAssets holds the price table and descriptive reward metadata for a
// single tier of a creator registration.
type TierAssets struct {
	Prices      PriceTable `json:"prices"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Media       string     `json:"media,omitempty"`
	Copies      uint64     `json:"copies"`
	Extra       string     `json:"extra,omitempty"`
	Reference   string     `json:"reference,omitempty"`
}

// Clone returns a deep copy of the tier assets.
func (t TierAssets) Clone() TierAssets {
	clone := t
	clone.Prices = t.Prices.Clone()
	return clone
}

// CreatorRegistration is the write-once-per-epoch record a creator submits
// during the registration phase. The tier array is fixed at three entries in
// rank order so out-of-range tier access cannot survive compilation against a
// dynamic length.
type CreatorRegistration struct {
	Creator      [20]byte              `json:"creator"`
	Tiers        [TierCount]TierAssets `json:"tiers"`
	RegisteredAt int64                 `json:"registeredAt"`
}

// Clone returns a deep copy of the registration.
func (r *CreatorRegistration) Clone() *CreatorRegistration {
	if r == nil {
		return nil
	}
	clone := *r
	for i := range r.Tiers {
		clone.Tiers[i] = r.Tiers[i].Clone()
	}
	return &clone
}

// Tier returns the assets registered for the supplied rank.
func (r *CreatorRegistration) Tier(t Tier) TierAssets {
	return r.Tiers[t]
}

// SanitizeRegistration validates and normalises a registration, returning a
// cloned instance with canonical token identities and non-nil price amounts.
// The original value is not mutated.
func SanitizeRegistration(r *CreatorRegistration) (*CreatorRegistration, error) {
	if r == nil {
		return nil, fmt.Errorf("funding: nil registration")
	}
	clone := r.Clone()
	for i := range clone.Tiers {
		if len(clone.Tiers[i].Prices) == 0 {
			return nil, fmt.Errorf("funding: tier %s has no price table", Tier(i))
		}
		normalized := make(PriceTable, len(clone.Tiers[i].Prices))
		for token, amount := range clone.Tiers[i].Prices {
			canonical, err := NormalizeToken(token)
			if err != nil {
				return nil, err
			}
			if amount == nil || amount.Sign() <= 0 {
				return nil, fmt.Errorf("funding: tier %s price for %s must be positive", Tier(i), canonical)
			}
			normalized[canonical] = new(big.Int).Set(amount)
		}
		clone.Tiers[i].Prices = normalized
	}
	return clone, nil
}

// FundedTokenAmount is the supporter-side ledger row recorded for a pledge.
type FundedTokenAmount struct {
	Creator [20]byte `json:"creator"`
	Token   string   `json:"token"`
	Amount  *big.Int `json:"amount"`
}

// Clone returns a deep copy of the row.
func (f FundedTokenAmount) Clone() FundedTokenAmount {
	clone := f
	if f.Amount != nil {
		clone.Amount = new(big.Int).Set(f.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return clone
}

// ObtainedTokenAmount is the creator-side ledger row recorded for a pledge.
// Settled starts false and flips to true exactly once, by reconciliation of a
// confirmed outbound transfer.
type ObtainedTokenAmount struct {
	Supporter [20]byte `json:"supporter"`
	Token     string   `json:"token"`
	Amount    *big.Int `json:"amount"`
	Tier      Tier     `json:"tier"`
	Settled   bool     `json:"settled"`
}

// Clone returns a deep copy of the row.
func (o ObtainedTokenAmount) Clone() ObtainedTokenAmount {
	clone := o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return clone
}

func cloneSupporterRows(rows []FundedTokenAmount) []FundedTokenAmount {
	if rows == nil {
		return nil
	}
	out := make([]FundedTokenAmount, len(rows))
	for i := range rows {
		out[i] = rows[i].Clone()
	}
	return out
}

func cloneReceiptRows(rows []ObtainedTokenAmount) []ObtainedTokenAmount {
	if rows == nil {
		return nil
	}
	out := make([]ObtainedTokenAmount, len(rows))
	for i := range rows {
		out[i] = rows[i].Clone()
	}
	return out
}

// EpochStatus is the single mutable record driving the epoch state machine.
// Epoch is the monotonically increasing accounting period counter; Active
// reports whether that epoch is currently open; Phase is only meaningful while
// Active is true.
type EpochStatus struct {
	Epoch  uint64 `json:"epoch"`
	Active bool   `json:"active"`
	Phase  Phase  `json:"phase"`
}

// Clone returns a copy of the status record.
func (s *EpochStatus) Clone() *EpochStatus {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// PendingSettlement is the two-phase task record created when an outbound
// transfer is dispatched and consumed exactly once when its outcome arrives.
type PendingSettlement struct {
	ID           string   `json:"id"`
	Epoch        uint64   `json:"epoch"`
	Creator      [20]byte `json:"creator"`
	Supporter    [20]byte `json:"supporter"`
	Token        string   `json:"token"`
	Amount       *big.Int `json:"amount"`
	DispatchedAt int64    `json:"dispatchedAt"`
}

// Clone returns a deep copy of the pending settlement.
func (p *PendingSettlement) Clone() *PendingSettlement {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Amount != nil {
		clone.Amount = new(big.Int).Set(p.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}
