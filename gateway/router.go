package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"calibervault/core"
	"calibervault/crypto"
	"calibervault/gateway/middleware"
	"calibervault/native/custody"
)

// Config wires the read-only HTTP surface over the node. Mutations stay on
// the JSON-RPC endpoint; the gateway only exposes lookups and health.
type Config struct {
	Node          *core.Node
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
}

type vaultResponse struct {
	Admin     string   `json:"admin"`
	Operators []string `json:"operators"`
}

type depositResponse struct {
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

type balanceResponse struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, fmt.Errorf("gateway: node required")
	}
	h := &handlers{node: cfg.Node}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("custody"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/vault", h.getVault)
	r.Get("/v1/deposits/{id}", h.getDeposit)
	r.Get("/v1/balances/{address}", h.getBalance)

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	return otelhttp.NewHandler(r, "vault-gateway"), nil
}

type handlers struct {
	node *core.Node
}

func (h *handlers) getVault(w http.ResponseWriter, r *http.Request) {
	vault, err := h.node.CustodyGetVault()
	if err != nil {
		writeJSONError(w, err)
		return
	}
	resp := vaultResponse{Admin: crypto.NewAddress(vault.Admin).String(), Operators: []string{}}
	for _, operator := range vault.Operators {
		resp.Operators = append(resp.Operators, crypto.NewAddress(operator).String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := parseDepositID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	deposit, err := h.node.CustodyGetDeposit(id)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	resp := depositResponse{
		ID:                "0x" + hex.EncodeToString(deposit.ID[:]),
		User:              crypto.NewAddress(deposit.User).String(),
		Amount:            deposit.Amount.String(),
		TransferredAmount: deposit.TransferredAmount.String(),
		WithdrawAmount:    deposit.WithdrawAmount.String(),
		DepositedAt:       deposit.DepositedAt,
		Salt:              deposit.Salt,
		Asset:             deposit.Asset.String(),
	}
	for _, receiver := range deposit.AllowedList {
		resp.AllowedList = append(resp.AllowedList, crypto.NewAddress(receiver).String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	decoded, err := crypto.DecodeAddress(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	asset := custody.NativeAsset()
	if symbol := strings.TrimSpace(r.URL.Query().Get("asset")); symbol != "" && !strings.EqualFold(symbol, "native") {
		asset = custody.TokenAsset(symbol)
	}
	balance, err := h.node.CustodyBalance(decoded.Bytes(), asset)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: raw, Asset: asset.String(), Amount: balance.String()})
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

func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, custody.ErrVaultNotInitialized), errors.Is(err, custody.ErrDepositNotFound):
		status = http.StatusNotFound
	case errors.Is(err, custody.ErrInvalidAsset):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
