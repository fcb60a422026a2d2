package funding

import (
	"encoding/hex"
	"math/big"
	"strings"
)

// InboundReceipt is the result of processing an inbound payment notification.
// When Accepted is false the full amount is refunded and Reason explains why;
// soft rejects (unrecognised tag, underpayment) are refunds, not errors.
type InboundReceipt struct {
	Accepted bool
	Refund   *big.Int
	Reason   string
	Row      *ObtainedTokenAmount
}

func refundReceipt(amount *big.Int, reason string) *InboundReceipt {
	refund := big.NewInt(0)
	if amount != nil {
		refund = new(big.Int).Set(amount)
	}
	return &InboundReceipt{Accepted: false, Refund: refund, Reason: reason}
}

// parsePledgeTag splits a "<creator>_<tier>" transfer tag into the creator
// address and reward tier. The creator part is a 0x-prefixed hex address; the
// tier label is split off at the last underscore.
func parsePledgeTag(tag string) (creator [20]byte, tier Tier, ok bool) {
	idx := strings.LastIndex(tag, "_")
	if idx <= 0 || idx == len(tag)-1 {
		return creator, 0, false
	}
	addrPart := strings.TrimSpace(tag[:idx])
	tier, ok = ParseTier(tag[idx+1:])
	if !ok {
		return creator, 0, false
	}
	addrPart = strings.TrimPrefix(strings.ToLower(addrPart), "0x")
	raw, err := hex.DecodeString(addrPart)
	if err != nil || len(raw) != len(creator) {
		return creator, 0, false
	}
	copy(creator[:], raw)
	return creator, tier, true
}

// HandleInboundTransfer processes an inbound payment notification from the
// token collaborator: it parses the "<creator>_<tier>" tag, checks the tier
// price, and records the pledge. Unrecognised tags and underpayments come back
// as full refunds; phase and referential-integrity violations surface as
// errors so the caller can abort (and thereby refund) the transfer.
func (e *Engine) HandleInboundTransfer(supporter [20]byte, token string, amount *big.Int, deposit *big.Int, tag string) (*InboundReceipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
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
	creator, tier, ok := parsePledgeTag(tag)
	if !ok {
		return refundReceipt(amount, "unrecognized pledge tag"), nil
	}
	price, err := e.PriceFor(creator, tier, token)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Cmp(price) < 0 {
		e.emit(PledgeRefundedEvent(status.Epoch, hexAddr(supporter), hexAddr(creator), token, bigString(amount)))
		return refundReceipt(amount, "pledged amount below tier price"), nil
	}
	row, err := e.RecordPledge(supporter, creator, tier, token, amount, deposit)
	if err != nil {
		return nil, err
	}
	return &InboundReceipt{Accepted: true, Refund: big.NewInt(0), Row: row}, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
