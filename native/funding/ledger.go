package funding

import (
	"fmt"
	"math/big"
)

// RecordPledge appends the supporter-side and creator-side ledger rows for a
// pledge under the current epoch. Both appends form a single logical step: all
// validation and reads happen before either list is written back.
func (e *Engine) RecordPledge(supporter [20]byte, creator [20]byte, tier Tier, token string, amount *big.Int, deposit *big.Int) (*ObtainedTokenAmount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if deposit == nil || deposit.Cmp(e.pledgeDeposit) < 0 {
		return nil, ErrInsufficientDeposit
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("funding: tier out of range: %d", uint8(tier))
	}
	canonical, err := NormalizeToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFTTokenID, err)
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
	registered, err := e.state.FundingCreatorSetContains(status.Epoch, creator)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrCreatorIsNotRegistered
	}
	allowed, err := e.tokenAllowed(status.Epoch, canonical)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrInvalidFTTokenID
	}
	exists, err := e.state.FundingEpochExists(status.Epoch)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrInvalidCurrentEpoch
	}

	supporterRows, err := e.state.FundingSupporterRowsGet(status.Epoch, supporter)
	if err != nil {
		return nil, err
	}
	receiptRows, ok, err := e.state.FundingReceiptRowsGet(status.Epoch, creator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCurrentEpoch
	}

	funded := FundedTokenAmount{
		Creator: creator,
		Token:   canonical,
		Amount:  new(big.Int).Set(amount),
	}
	obtained := ObtainedTokenAmount{
		Supporter: supporter,
		Token:     canonical,
		Amount:    new(big.Int).Set(amount),
		Tier:      tier,
		Settled:   false,
	}
	if err := e.state.FundingSupporterRowsPut(status.Epoch, supporter, append(supporterRows, funded)); err != nil {
		return nil, err
	}
	if err := e.state.FundingReceiptRowsPut(status.Epoch, creator, append(receiptRows, obtained)); err != nil {
		return nil, err
	}
	e.emit(PledgeRecordedEvent(status.Epoch, hexAddr(supporter), hexAddr(creator), canonical, amount.String(), tier.String()))
	clone := obtained.Clone()
	return &clone, nil
}

// TotalReceived sums the amounts across all of the creator's receipt rows for
// the current epoch. A creator without rows yields zero, not an error.
func (e *Engine) TotalReceived(creator [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	rows, ok, err := e.state.FundingReceiptRowsGet(status.Epoch, creator)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	if !ok {
		return total, nil
	}
	for _, row := range rows {
		if row.Amount != nil {
			total.Add(total, row.Amount)
		}
	}
	return total, nil
}

// TokenTotals breaks the creator's receipts for the current epoch down per
// token identity.
func (e *Engine) TokenTotals(creator [20]byte) (map[string]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	rows, _, err := e.state.FundingReceiptRowsGet(status.Epoch, creator)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]*big.Int)
	for _, row := range rows {
		if row.Amount == nil {
			continue
		}
		if existing, ok := totals[row.Token]; ok {
			existing.Add(existing, row.Amount)
		} else {
			totals[row.Token] = new(big.Int).Set(row.Amount)
		}
	}
	return totals, nil
}

// HasAnySettled reports whether at least one of the creator's receipt rows for
// the current epoch has been settled.
func (e *Engine) HasAnySettled(creator [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	status, err := e.status()
	if err != nil {
		return false, err
	}
	rows, _, err := e.state.FundingReceiptRowsGet(status.Epoch, creator)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if row.Settled {
			return true, nil
		}
	}
	return false, nil
}

// SupporterFunds returns the supporter's spend rows for the current epoch.
func (e *Engine) SupporterFunds(supporter [20]byte) ([]FundedTokenAmount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	return e.state.FundingSupporterRowsGet(status.Epoch, supporter)
}

// CreatorReceipts returns the creator's receipt rows for the current epoch.
func (e *Engine) CreatorReceipts(creator [20]byte) ([]ObtainedTokenAmount, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	status, err := e.status()
	if err != nil {
		return nil, err
	}
	rows, _, err := e.state.FundingReceiptRowsGet(status.Epoch, creator)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
