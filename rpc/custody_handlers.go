package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"calibervault/crypto"
	"calibervault/native/custody"
)

const (
	codeCustodyInvalidParams = -32021
	codeCustodyNotFound      = -32022
	codeCustodyForbidden     = -32023
	codeCustodyConflict      = -32024
	codeCustodyInternal      = -32025
)

type initializeVaultParams struct {
	Admin     string   `json:"admin"`
	Operators []string `json:"operators,omitempty"`
}

type operatorParams struct {
	Caller   string `json:"caller"`
	Operator string `json:"operator"`
}

type depositParams struct {
	User        string   `json:"user"`
	Salt        uint64   `json:"salt"`
	Amount      string   `json:"amount"`
	Asset       string   `json:"asset,omitempty"`
	AllowedList []string `json:"allowedList,omitempty"`
}

type operatorTransferParams struct {
	Operator  string `json:"operator"`
	DepositID string `json:"depositId"`
	Receiver  string `json:"receiver"`
	Asset     string `json:"asset,omitempty"`
	Amount    string `json:"amount"`
}

type userWithdrawParams struct {
	User      string `json:"user"`
	DepositID string `json:"depositId"`
}

type depositIDParams struct {
	DepositID string `json:"depositId"`
}

type fundParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount"`
}

type balanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

type vaultJSON struct {
	Admin     string   `json:"admin"`
	Operators []string `json:"operators"`
}

type depositJSON struct {
	ID                string   `json:"id"`
	User              string   `json:"user"`
	Amount            string   `json:"amount"`
	TransferredAmount string   `json:"transferredAmount"`
	WithdrawAmount    string   `json:"withdrawAmount"`
	DepositedAt       int64    `json:"depositedAt"`
	Salt              uint64   `json:"salt"`
	Asset             string   `json:"asset"`
	AllowedList       []string `json:"allowedList,omitempty"`
}

type withdrawResult struct {
	DepositID string `json:"depositId"`
	Amount    string `json:"amount"`
}

type balanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (s *Server) handleInitializeVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params initializeVaultParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	admin, err := parseBech32Address(params.Admin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	operators, err := parseAddressList(params.Operators)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	vault, err := s.node.CustodyInitializeVault(admin, operators)
	s.metrics.ObserveOperation("custody_initializeVault", err)
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	s.metrics.SetOperatorCount(len(vault.Operators))
	writeResult(w, req.ID, vaultToJSON(vault))
}

func (s *Server) handleAddOperator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleOperatorChange(w, req, "custody_addOperator", s.node.CustodyAddOperator)
}

func (s *Server) handleRemoveOperator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleOperatorChange(w, req, "custody_removeOperator", s.node.CustodyRemoveOperator)
}

func (s *Server) handleOperatorChange(w http.ResponseWriter, req *RPCRequest, method string, apply func([20]byte, [20]byte) error) {
	var params operatorParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	operator, err := parseBech32Address(params.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	applyErr := apply(caller, operator)
	s.metrics.ObserveOperation(method, applyErr)
	if applyErr != nil {
		writeCustodyError(w, req.ID, applyErr)
		return
	}
	vault, err := s.node.CustodyGetVault()
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	s.metrics.SetOperatorCount(len(vault.Operators))
	writeResult(w, req.ID, vaultToJSON(vault))
}

func (s *Server) handleDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params depositParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	user, err := parseBech32Address(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	allowed, err := parseAddressList(params.AllowedList)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	deposit, err := s.node.CustodyDeposit(user, params.Salt, amount, parseAsset(params.Asset), allowed)
	s.metrics.ObserveOperation("custody_deposit", err)
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositToJSON(deposit))
}

func (s *Server) handleOperatorTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params operatorTransferParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	operator, err := parseBech32Address(params.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDepositID(params.DepositID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	receiver, err := parseBech32Address(params.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	transferErr := s.node.CustodyOperatorTransfer(operator, id, receiver, parseAsset(params.Asset), amount)
	s.metrics.ObserveOperation("custody_operatorTransfer", transferErr)
	if transferErr != nil {
		writeCustodyError(w, req.ID, transferErr)
		return
	}
	deposit, err := s.node.CustodyGetDeposit(id)
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositToJSON(deposit))
}

func (s *Server) handleUserWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params userWithdrawParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	user, err := parseBech32Address(params.User)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseDepositID(params.DepositID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	moved, withdrawErr := s.node.CustodyUserWithdraw(user, id)
	s.metrics.ObserveOperation("custody_userWithdraw", withdrawErr)
	if withdrawErr != nil {
		writeCustodyError(w, req.ID, withdrawErr)
		return
	}
	writeResult(w, req.ID, withdrawResult{DepositID: params.DepositID, Amount: moved.String()})
}

// handleFund mints balance on development networks. Any other environment
// refuses the method outright.
func (s *Server) handleFund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.env != "dev" {
		writeError(w, http.StatusForbidden, req.ID, codeCustodyForbidden, "forbidden", "custody_fund is only available on dev networks")
		return
	}
	var params fundParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := parseAsset(params.Asset)
	if fundErr := s.node.CustodyCreditAccount(addr, asset, amount); fundErr != nil {
		writeCustodyError(w, req.ID, fundErr)
		return
	}
	balance, err := s.node.CustodyBalance(addr, asset)
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Address: params.Address, Asset: asset.String(), Amount: balance.String()})
}

func (s *Server) handleGetVault(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	vault, err := s.node.CustodyGetVault()
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vaultToJSON(vault))
}

func (s *Server) handleGetDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params depositIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseDepositID(params.DepositID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	deposit, err := s.node.CustodyGetDeposit(id)
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositToJSON(deposit))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params balanceParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return
	}
	asset := parseAsset(params.Asset)
	balance, err := s.node.CustodyBalance(addr, asset)
	if err != nil {
		writeCustodyError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceResult{Address: params.Address, Asset: asset.String(), Amount: balance.String()})
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeCustodyInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Bytes(), nil
}

func parseAddressList(addrs []string) ([][20]byte, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	out := make([][20]byte, 0, len(addrs))
	for _, addr := range addrs {
		decoded, err := parseBech32Address(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseAsset(value string) custody.Asset {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" || trimmed == "NATIVE" {
		return custody.NativeAsset()
	}
	return custody.TokenAsset(trimmed)
}

func parseDepositID(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return out, fmt.Errorf("deposit id required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("deposit id must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func vaultToJSON(v *custody.Vault) vaultJSON {
	out := vaultJSON{Operators: []string{}}
	if v == nil {
		return out
	}
	out.Admin = crypto.NewAddress(v.Admin).String()
	for _, operator := range v.Operators {
		out.Operators = append(out.Operators, crypto.NewAddress(operator).String())
	}
	return out
}

func depositToJSON(d *custody.Deposit) depositJSON {
	if d == nil {
		return depositJSON{}
	}
	out := depositJSON{
		ID:                "0x" + hex.EncodeToString(d.ID[:]),
		User:              crypto.NewAddress(d.User).String(),
		Amount:            d.Amount.String(),
		TransferredAmount: d.TransferredAmount.String(),
		WithdrawAmount:    d.WithdrawAmount.String(),
		DepositedAt:       d.DepositedAt,
		Salt:              d.Salt,
		Asset:             d.Asset.String(),
	}
	for _, receiver := range d.AllowedList {
		out.AllowedList = append(out.AllowedList, crypto.NewAddress(receiver).String())
	}
	return out
}

func writeCustodyError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeCustodyInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, custody.ErrVaultNotInitialized),
		errors.Is(err, custody.ErrDepositNotFound),
		errors.Is(err, custody.ErrOperatorNotFound):
		status = http.StatusNotFound
		code = codeCustodyNotFound
		message = "not_found"
	case errors.Is(err, custody.ErrInvalidAdmin),
		errors.Is(err, custody.ErrInvalidOperator),
		errors.Is(err, custody.ErrInvalidUser),
		errors.Is(err, custody.ErrInvalidReceiver):
		status = http.StatusForbidden
		code = codeCustodyForbidden
		message = "forbidden"
	case errors.Is(err, custody.ErrVaultExists),
		errors.Is(err, custody.ErrDepositExists),
		errors.Is(err, custody.ErrOperatorExists),
		errors.Is(err, custody.ErrOperatorLimit),
		errors.Is(err, custody.ErrAllowedListLimit),
		errors.Is(err, custody.ErrInvalidAsset),
		errors.Is(err, custody.ErrTransferWindowClosed),
		errors.Is(err, custody.ErrTransferWindowOpen),
		errors.Is(err, custody.ErrAmountExceedsDeposit),
		errors.Is(err, custody.ErrNoWithdrawAmount):
		status = http.StatusConflict
		code = codeCustodyConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, data)
}
