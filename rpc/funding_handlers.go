package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/metastagejustin/MetaStage/native/funding"
)

type openEpochParams struct {
	Caller        string            `json:"caller"`
	AllowedTokens []string          `json:"allowedTokens,omitempty"`
	Fees          map[string]uint32 `json:"fees,omitempty"`
}

type lifecycleParams struct {
	Caller string `json:"caller"`
}

type tierAssetsParams struct {
	Prices      map[string]string `json:"prices"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Media       string            `json:"media,omitempty"`
	Copies      uint64            `json:"copies"`
	Extra       string            `json:"extra,omitempty"`
	Reference   string            `json:"reference,omitempty"`
}

type registerCreatorParams struct {
	Creator string                              `json:"creator"`
	Deposit string                              `json:"deposit"`
	Tiers   [funding.TierCount]tierAssetsParams `json:"tiers"`
}

type notifyTransferParams struct {
	Supporter string `json:"supporter"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Deposit   string `json:"deposit,omitempty"`
	Tag       string `json:"tag"`
}

type settleParams struct {
	Caller    string `json:"caller"`
	Creator   string `json:"creator"`
	Supporter string `json:"supporter"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
}

type priceParams struct {
	Creator string `json:"creator"`
	Tier    string `json:"tier"`
	Token   string `json:"token"`
}

type creatorParams struct {
	Creator string `json:"creator"`
}

type supporterParams struct {
	Supporter string `json:"supporter"`
}

type epochStatusResult struct {
	Epoch  uint64 `json:"epoch"`
	Active bool   `json:"active"`
	Phase  string `json:"phase"`
}

type tierAssetsResult struct {
	Prices      map[string]string `json:"prices"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Media       string            `json:"media,omitempty"`
	Copies      uint64            `json:"copies"`
	Extra       string            `json:"extra,omitempty"`
	Reference   string            `json:"reference,omitempty"`
}

type registrationResult struct {
	Creator      string                              `json:"creator"`
	Tiers        [funding.TierCount]tierAssetsResult `json:"tiers"`
	RegisteredAt int64                               `json:"registeredAt"`
}

type inboundReceiptResult struct {
	Accepted bool               `json:"accepted"`
	Refund   string             `json:"refund"`
	Reason   string             `json:"reason,omitempty"`
	Row      *receiptRowResult  `json:"row,omitempty"`
}

type receiptRowResult struct {
	Supporter string `json:"supporter"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Tier      string `json:"tier"`
	Settled   bool   `json:"settled"`
}

type supporterRowResult struct {
	Creator string `json:"creator"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type settlementResult struct {
	ID           string `json:"id"`
	Epoch        uint64 `json:"epoch"`
	Creator      string `json:"creator"`
	Supporter    string `json:"supporter"`
	Token        string `json:"token"`
	Amount       string `json:"amount"`
	DispatchedAt int64  `json:"dispatchedAt"`
}

func decodeHexAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return out, fmt.Errorf("not a hex address: %q", value)
	}
	return [20]byte(common.HexToAddress(trimmed)), nil
}

func formatAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", value)
	}
	return amount, nil
}

func parseOptionalAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return big.NewInt(0), nil
	}
	return parseAmount(value)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatStatus(status *funding.EpochStatus) epochStatusResult {
	return epochStatusResult{Epoch: status.Epoch, Active: status.Active, Phase: status.Phase.String()}
}

func formatRegistration(reg *funding.CreatorRegistration) registrationResult {
	result := registrationResult{
		Creator:      formatAddress(reg.Creator),
		RegisteredAt: reg.RegisteredAt,
	}
	for i := range reg.Tiers {
		prices := make(map[string]string, len(reg.Tiers[i].Prices))
		for token, amount := range reg.Tiers[i].Prices {
			prices[token] = bigString(amount)
		}
		result.Tiers[i] = tierAssetsResult{
			Prices:      prices,
			Title:       reg.Tiers[i].Title,
			Description: reg.Tiers[i].Description,
			Media:       reg.Tiers[i].Media,
			Copies:      reg.Tiers[i].Copies,
			Extra:       reg.Tiers[i].Extra,
			Reference:   reg.Tiers[i].Reference,
		}
	}
	return result
}

func formatReceiptRow(row *funding.ObtainedTokenAmount) *receiptRowResult {
	if row == nil {
		return nil
	}
	return &receiptRowResult{
		Supporter: formatAddress(row.Supporter),
		Token:     row.Token,
		Amount:    bigString(row.Amount),
		Tier:      row.Tier.String(),
		Settled:   row.Settled,
	}
}

// writeEngineError maps domain failures onto wire codes: authorization errors
// surface as unauthorized, validation and state-machine violations as invalid
// params, everything else as a server error.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, funding.ErrInvalidAdminCall):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, "caller is not authorized", err.Error())
	case errors.Is(err, funding.ErrUnableToCreateNewEpoch),
		errors.Is(err, funding.ErrInvalidInitializationOfEpoch),
		errors.Is(err, funding.ErrEpochIsOff),
		errors.Is(err, funding.ErrAlreadyInRegistration),
		errors.Is(err, funding.ErrAlreadyInFunding),
		errors.Is(err, funding.ErrNotInRegistrationPeriod),
		errors.Is(err, funding.ErrNotInFundingPeriod),
		errors.Is(err, funding.ErrCreatorIsNotRegistered),
		errors.Is(err, funding.ErrInvalidFTTokenID),
		errors.Is(err, funding.ErrUncoveredStorageCosts),
		errors.Is(err, funding.ErrInsufficientDeposit),
		errors.Is(err, funding.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", err.Error())
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one parameter object expected"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func (s *Server) handleOpenEpoch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params openEpochParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, err := decodeHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	status, err := s.node.OpenEpoch(caller, params.AllowedTokens, params.Fees)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatStatus(status))
}

func (s *Server) lifecycle(w http.ResponseWriter, req *RPCRequest, op func([20]byte) (*funding.EpochStatus, error)) {
	var params lifecycleParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, err := decodeHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	status, err := op(caller)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatStatus(status))
}

func (s *Server) handleOpenRegistration(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.lifecycle(w, req, s.node.OpenRegistration)
}

func (s *Server) handleOpenFunding(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.lifecycle(w, req, s.node.OpenFunding)
}

func (s *Server) handleCloseFunding(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.lifecycle(w, req, s.node.CloseFunding)
}

func (s *Server) handleCloseEpoch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.lifecycle(w, req, s.node.CloseEpoch)
}

func (s *Server) handleRegisterCreator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registerCreatorParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	deposit, err := parseOptionalAmount(params.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var tiers [funding.TierCount]funding.TierAssets
	for i := range params.Tiers {
		prices := make(funding.PriceTable, len(params.Tiers[i].Prices))
		for token, raw := range params.Tiers[i].Prices {
			amount, err := parseAmount(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid price for %s", token), err.Error())
				return
			}
			prices[token] = amount
		}
		tiers[i] = funding.TierAssets{
			Prices:      prices,
			Title:       params.Tiers[i].Title,
			Description: params.Tiers[i].Description,
			Media:       params.Tiers[i].Media,
			Copies:      params.Tiers[i].Copies,
			Extra:       params.Tiers[i].Extra,
			Reference:   params.Tiers[i].Reference,
		}
	}
	reg, err := s.node.RegisterCreator(creator, deposit, tiers)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRegistration(reg))
}

func (s *Server) handleNotifyTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params notifyTransferParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	supporter, err := decodeHexAddress(params.Supporter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid supporter address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deposit, err := parseOptionalAmount(params.Deposit)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, err := s.node.NotifyInboundTransfer(supporter, params.Token, amount, deposit, params.Tag)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, inboundReceiptResult{
		Accepted: receipt.Accepted,
		Refund:   bigString(receipt.Refund),
		Reason:   receipt.Reason,
		Row:      formatReceiptRow(receipt.Row),
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params settleParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, err := decodeHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	supporter, err := decodeHexAddress(params.Supporter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid supporter address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pending, err := s.node.Settle(caller, creator, supporter, params.Token, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settlementResult{
		ID:           pending.ID,
		Epoch:        pending.Epoch,
		Creator:      formatAddress(pending.Creator),
		Supporter:    formatAddress(pending.Supporter),
		Token:        pending.Token,
		Amount:       bigString(pending.Amount),
		DispatchedAt: pending.DispatchedAt,
	})
}

func (s *Server) handleEpochStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	status, err := s.node.Status()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatStatus(status))
}

func (s *Server) handlePrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params priceParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	tier, ok := funding.ParseTier(params.Tier)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("unknown tier %q", params.Tier), nil)
		return
	}
	price, err := s.node.PriceFor(creator, tier, params.Token)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"price": bigString(price)})
}

func (s *Server) handleTotalReceived(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creatorParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	total, err := s.node.TotalReceived(creator)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"total": bigString(total)})
}

func (s *Server) handleTokenTotals(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creatorParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	totals, err := s.node.TokenTotals(creator)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := make(map[string]string, len(totals))
	for token, amount := range totals {
		result[token] = bigString(amount)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleHasSettled(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creatorParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	settled, err := s.node.HasAnySettled(creator)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"settled": settled})
}

func (s *Server) handleAllowedTokens(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	tokens, err := s.node.AllowedTokens()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tokens)
}

func (s *Server) handleFeeTable(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	fees, err := s.node.FeeTable()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, fees)
}

func (s *Server) handleCreators(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	creators, err := s.node.Creators()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := make([]string, 0, len(creators))
	for _, creator := range creators {
		result = append(result, formatAddress(creator))
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRegistration(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creatorParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	reg, err := s.node.Registration(creator)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRegistration(reg))
}

func (s *Server) handleSupporterFunds(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params supporterParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	supporter, err := decodeHexAddress(params.Supporter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid supporter address", err.Error())
		return
	}
	rows, err := s.node.SupporterFunds(supporter)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := make([]supporterRowResult, 0, len(rows))
	for _, row := range rows {
		result = append(result, supporterRowResult{
			Creator: formatAddress(row.Creator),
			Token:   row.Token,
			Amount:  bigString(row.Amount),
		})
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleCreatorReceipts(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params creatorParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	creator, err := decodeHexAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator address", err.Error())
		return
	}
	rows, err := s.node.CreatorReceipts(creator)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	result := make([]receiptRowResult, 0, len(rows))
	for _, row := range rows {
		result = append(result, *formatReceiptRow(&row))
	}
	writeResult(w, req.ID, result)
}
