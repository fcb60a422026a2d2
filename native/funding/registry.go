package funding

import (
	"fmt"
	"math/big"
)

// RegisterCreator stores a tiered reward registration for the caller in the
// current epoch. The registration, the creator-set entry and the empty receipt
// row list are inserted together; re-registration within the same epoch is an
// idempotent upsert of the metadata.
func (e *Engine) RegisterCreator(creator [20]byte, deposit *big.Int, tiers [TierCount]TierAssets) (*CreatorRegistration, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if deposit == nil || deposit.Cmp(e.registrationStorageCost) < 0 {
		return nil, ErrUncoveredStorageCosts
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	if !status.Active {
		return nil, ErrEpochIsOff
	}
	if status.Phase != PhaseRegistration {
		return nil, ErrNotInRegistrationPeriod
	}
	exists, err := e.state.FundingEpochExists(status.Epoch)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrInvalidCurrentEpoch
	}
	reg, err := SanitizeRegistration(&CreatorRegistration{
		Creator:      creator,
		Tiers:        tiers,
		RegisteredAt: e.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := e.state.FundingRegistrationPut(status.Epoch, reg); err != nil {
		return nil, err
	}
	if err := e.state.FundingCreatorSetAdd(status.Epoch, creator); err != nil {
		return nil, err
	}
	// Seed the receipt list only when absent so a re-registration cannot wipe
	// rows recorded for the creator.
	if _, ok, err := e.state.FundingReceiptRowsGet(status.Epoch, creator); err != nil {
		return nil, err
	} else if !ok {
		if err := e.state.FundingReceiptRowsPut(status.Epoch, creator, []ObtainedTokenAmount{}); err != nil {
			return nil, err
		}
	}
	e.emit(CreatorRegisteredEvent(status.Epoch, hexAddr(creator)))
	return reg.Clone(), nil
}

// Registration returns the creator's registration for the current epoch.
func (e *Engine) Registration(creator [20]byte) (*CreatorRegistration, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	reg, ok, err := e.state.FundingRegistrationGet(status.Epoch, creator)
	if err != nil {
		return nil, err
	}
	if !ok || reg == nil {
		return nil, ErrCreatorIsNotRegistered
	}
	return reg, nil
}

// PriceFor returns the amount of the supplied token required to claim the
// creator's reward at the given tier in the current epoch.
func (e *Engine) PriceFor(creator [20]byte, tier Tier, token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("funding: tier out of range: %d", uint8(tier))
	}
	canonical, err := NormalizeToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFTTokenID, err)
	}
	reg, err := e.Registration(creator)
	if err != nil {
		return nil, err
	}
	amount, ok := reg.Tier(tier).Prices[canonical]
	if !ok {
		return nil, ErrInvalidFTTokenID
	}
	return new(big.Int).Set(amount), nil
}

// Creators lists the creators registered for the current epoch.
func (e *Engine) Creators() ([][20]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	return e.state.FundingCreatorSetList(status.Epoch)
}
