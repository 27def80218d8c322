package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"calibervault/core"
	"calibervault/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxMutPerWindow = 32
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

type Server struct {
	node *core.Node
	env  string

	mu           sync.Mutex
	rateLimiters map[string]*rateLimiter
	authToken    string
	metrics      *metrics.CustodyMetrics
}

// NewServer builds the JSON-RPC server over the node. The bearer token
// protecting mutating methods is read from VAULT_RPC_TOKEN.
func NewServer(node *core.Node, env string) *Server {
	token := strings.TrimSpace(os.Getenv("VAULT_RPC_TOKEN"))
	return &Server{
		node:         node,
		env:          strings.ToLower(strings.TrimSpace(env)),
		rateLimiters: make(map[string]*rateLimiter),
		authToken:    token,
		metrics:      metrics.Custody(),
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// ServeHTTP is the main request handler that routes to specific handlers.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "custody_initializeVault":
		if !s.admitMutation(w, r, req) {
			return
		}
		s.handleInitializeVault(w, r, req)
	case "custody_addOperator":
		if !s.admitMutation(w, r, req) {
			return
		}
		s.handleAddOperator(w, r, req)
	case "custody_removeOperator":
		if !s.admitMutation(w, r, req) {
			return
		}
		s.handleRemoveOperator(w, r, req)
	case "custody_deposit":
		if !s.admitMutation(w, r, req) {
			return
		}
		s.handleDeposit(w, r, req)
	case "custody_operatorTransfer":
		if !s.admitMutation(w, r, req) {
			return
		}
		s.handleOperatorTransfer(w, r, req)
	case "custody_userWithdraw":
		if !s.admitMutation(w, r, req) {
			return
		}
		s.handleUserWithdraw(w, r, req)
	case "custody_fund":
		if !s.admitMutation(w, r, req) {
			return
		}
		s.handleFund(w, r, req)
	case "custody_getVault":
		s.handleGetVault(w, r, req)
	case "custody_getDeposit":
		s.handleGetDeposit(w, r, req)
	case "custody_getBalance":
		s.handleGetBalance(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// admitMutation applies the auth and rate-limit gates shared by every
// state-changing method. It writes the error response itself and reports
// whether the request may proceed.
func (s *Server) admitMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	if !s.allowSource(clientIP(r), time.Now()) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", nil)
		return false
	}
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxMutPerWindow {
		return false
	}
	limiter.count++
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
