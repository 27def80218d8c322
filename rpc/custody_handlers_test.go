package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"calibervault/core"
	"calibervault/crypto"
	"calibervault/native/custody"
	"calibervault/storage"
)

const testAuthToken = "rpc-test-token"

type testEnv struct {
	node   *core.Node
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("VAULT_RPC_TOKEN", testAuthToken)
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	node := core.NewNode(db, 24*time.Hour)
	return &testEnv{node: node, server: NewServer(node, "dev")}
}

func (env *testEnv) newRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	return req
}

func testAddrString(fill byte) string {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw).String()
}

func testAddrBytes(fill byte) [20]byte {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return raw
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return resp.Result, resp.Error
}

func (env *testEnv) initVault(t *testing.T, admin string, operators []string) {
	t.Helper()
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, initializeVaultParams{Admin: admin, Operators: operators})}}
	recorder := httptest.NewRecorder()
	env.server.handleInitializeVault(recorder, env.newRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr != nil {
		t.Fatalf("initialize vault: %+v", rpcErr)
	}
}

func (env *testEnv) fund(t *testing.T, addr, asset, amount string) {
	t.Helper()
	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, fundParams{Address: addr, Asset: asset, Amount: amount})}}
	recorder := httptest.NewRecorder()
	env.server.handleFund(recorder, env.newRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr != nil {
		t.Fatalf("fund: %+v", rpcErr)
	}
}

func TestHandleInitializeVault(t *testing.T) {
	env := newTestEnv(t)
	admin := testAddrString(0x01)
	operator := testAddrString(0x02)

	env.initVault(t, admin, []string{operator})

	recorder := httptest.NewRecorder()
	env.server.handleGetVault(recorder, env.newRequest(), &RPCRequest{ID: 2})
	raw, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("get vault: %+v", rpcErr)
	}
	var resp vaultJSON
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Admin != admin {
		t.Fatalf("admin mismatch: %s != %s", resp.Admin, admin)
	}
	if len(resp.Operators) != 1 || resp.Operators[0] != operator {
		t.Fatalf("unexpected operators %v", resp.Operators)
	}

	// A second initialization must conflict.
	req := &RPCRequest{ID: 3, Params: []json.RawMessage{marshalParam(t, initializeVaultParams{Admin: admin})}}
	recorder = httptest.NewRecorder()
	env.server.handleInitializeVault(recorder, env.newRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr == nil || rpcErr.Code != codeCustodyConflict {
		t.Fatalf("expected conflict, got %+v", rpcErr)
	}
}

func TestHandleGetVaultNotFound(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.server.handleGetVault(recorder, env.newRequest(), &RPCRequest{ID: 1})
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr == nil || rpcErr.Code != codeCustodyNotFound {
		t.Fatalf("expected not_found, got %+v", rpcErr)
	}
}

func TestHandleDepositAndTransfer(t *testing.T) {
	env := newTestEnv(t)
	admin := testAddrString(0x01)
	operator := testAddrString(0x02)
	user := testAddrString(0x03)
	receiver := testAddrString(0x04)

	env.initVault(t, admin, []string{operator})
	env.fund(t, user, "", "500")

	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, depositParams{
		User:        user,
		Salt:        7,
		Amount:      "100",
		AllowedList: []string{receiver},
	})}}
	recorder := httptest.NewRecorder()
	env.server.handleDeposit(recorder, env.newRequest(), req)
	raw, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("deposit: %+v", rpcErr)
	}
	var dep depositJSON
	if err := json.Unmarshal(raw, &dep); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if dep.Amount != "100" || dep.Asset != "NATIVE" {
		t.Fatalf("unexpected deposit %+v", dep)
	}

	transfer := operatorTransferParams{Operator: operator, DepositID: dep.ID, Receiver: receiver, Amount: "40"}
	req = &RPCRequest{ID: 2, Params: []json.RawMessage{marshalParam(t, transfer)}}
	recorder = httptest.NewRecorder()
	env.server.handleOperatorTransfer(recorder, env.newRequest(), req)
	raw, rpcErr = decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("transfer: %+v", rpcErr)
	}
	if err := json.Unmarshal(raw, &dep); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if dep.TransferredAmount != "40" {
		t.Fatalf("transferredAmount = %s, want 40", dep.TransferredAmount)
	}

	// A transfer by a stranger is forbidden.
	transfer.Operator = testAddrString(0x09)
	req = &RPCRequest{ID: 3, Params: []json.RawMessage{marshalParam(t, transfer)}}
	recorder = httptest.NewRecorder()
	env.server.handleOperatorTransfer(recorder, env.newRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr == nil || rpcErr.Code != codeCustodyForbidden {
		t.Fatalf("expected forbidden, got %+v", rpcErr)
	}

	// Withdrawing while the window is open conflicts.
	req = &RPCRequest{ID: 4, Params: []json.RawMessage{marshalParam(t, userWithdrawParams{User: user, DepositID: dep.ID})}}
	recorder = httptest.NewRecorder()
	env.server.handleUserWithdraw(recorder, env.newRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr == nil || rpcErr.Code != codeCustodyConflict {
		t.Fatalf("expected conflict, got %+v", rpcErr)
	}
}

func TestHandleGetDeposit(t *testing.T) {
	env := newTestEnv(t)
	admin := testAddrString(0x01)
	user := testAddrString(0x03)
	env.initVault(t, admin, nil)
	env.fund(t, user, "USDX", "250")

	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, depositParams{User: user, Salt: 1, Amount: "250", Asset: "usdx"})}}
	recorder := httptest.NewRecorder()
	env.server.handleDeposit(recorder, env.newRequest(), req)
	raw, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("deposit: %+v", rpcErr)
	}
	var dep depositJSON
	if err := json.Unmarshal(raw, &dep); err != nil {
		t.Fatalf("decode deposit: %v", err)
	}
	if dep.Asset != "USDX" {
		t.Fatalf("asset not normalized: %s", dep.Asset)
	}

	req = &RPCRequest{ID: 2, Params: []json.RawMessage{marshalParam(t, depositIDParams{DepositID: dep.ID})}}
	recorder = httptest.NewRecorder()
	env.server.handleGetDeposit(recorder, env.newRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr != nil {
		t.Fatalf("get deposit: %+v", rpcErr)
	}

	id := custody.DepositID(testAddrBytes(0x03), 999)
	req = &RPCRequest{ID: 3, Params: []json.RawMessage{marshalParam(t, depositIDParams{DepositID: "0x" + hex.EncodeToString(id[:])})}}
	recorder = httptest.NewRecorder()
	env.server.handleGetDeposit(recorder, env.newRequest(), req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr == nil || rpcErr.Code != codeCustodyNotFound {
		t.Fatalf("expected not_found, got %+v", rpcErr)
	}
}

func TestHandleFundGatedToDev(t *testing.T) {
	t.Setenv("VAULT_RPC_TOKEN", testAuthToken)
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	node := core.NewNode(db, 24*time.Hour)
	server := NewServer(node, "prod")

	req := &RPCRequest{ID: 1, Params: []json.RawMessage{marshalParam(t, fundParams{Address: testAddrString(0x03), Amount: "100"})}}
	recorder := httptest.NewRecorder()
	httpReq := httptest.NewRequest(http.MethodPost, "/", nil)
	httpReq.Header.Set("Authorization", "Bearer "+testAuthToken)
	server.handleFund(recorder, httpReq, req)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr == nil || rpcErr.Code != codeCustodyForbidden {
		t.Fatalf("expected forbidden, got %+v", rpcErr)
	}
}

func TestServeHTTPRequiresAuthForMutations(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "custody_initializeVault",
		"params":  []interface{}{initializeVaultParams{Admin: testAddrString(0x01)}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	env.server.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testAuthToken)
	recorder = httptest.NewRecorder()
	env.server.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestServeHTTPUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"custody_bogus"}`)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	recorder := httptest.NewRecorder()
	env.server.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}
