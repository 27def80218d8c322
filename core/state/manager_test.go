package state

import (
	"bytes"
	"math/big"
	"testing"

	"calibervault/core/types"
	"calibervault/native/custody"
	"calibervault/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db)
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestManagerVaultRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	if _, ok := mgr.VaultGet(); ok {
		t.Fatalf("vault must not exist before put")
	}
	vault := &custody.Vault{
		Admin:     testAddr(0x01),
		Operators: [][20]byte{testAddr(0x10), testAddr(0x11)},
	}
	if err := mgr.VaultPut(vault); err != nil {
		t.Fatalf("VaultPut: %v", err)
	}
	stored, ok := mgr.VaultGet()
	if !ok {
		t.Fatalf("VaultGet: expected vault to exist")
	}
	if stored.Admin != vault.Admin || len(stored.Operators) != 2 || !stored.HasOperator(testAddr(0x11)) {
		t.Fatalf("unexpected vault: %+v", stored)
	}
}

func TestManagerVaultPutValidates(t *testing.T) {
	mgr := newTestManager(t)
	vault := &custody.Vault{Admin: testAddr(0x01)}
	for i := 0; i <= custody.MaxOperators; i++ {
		vault.Operators = append(vault.Operators, testAddr(byte(0x10+i)))
	}
	if err := mgr.VaultPut(vault); err == nil {
		t.Fatalf("oversized operator set must be rejected")
	}
}

func TestManagerDepositRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	user := testAddr(0x02)
	id := custody.DepositID(user, 7)

	deposit := &custody.Deposit{
		ID:                id,
		User:              user,
		Amount:            big.NewInt(1_000_000),
		TransferredAmount: big.NewInt(250),
		WithdrawAmount:    big.NewInt(0),
		DepositedAt:       1_695_000_000,
		Salt:              7,
		Asset:             custody.TokenAsset("usdx"),
		AllowedList:       [][20]byte{testAddr(0x30), testAddr(0x31)},
	}
	if err := mgr.DepositPut(deposit); err != nil {
		t.Fatalf("DepositPut: %v", err)
	}

	stored, ok := mgr.DepositGet(id)
	if !ok {
		t.Fatalf("DepositGet: expected deposit to exist")
	}
	if stored.User != user || stored.Salt != 7 || stored.DepositedAt != 1_695_000_000 {
		t.Fatalf("unexpected deposit: %+v", stored)
	}
	if stored.Amount.Cmp(big.NewInt(1_000_000)) != 0 || stored.TransferredAmount.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("amounts not preserved: %s / %s", stored.Amount, stored.TransferredAmount)
	}
	if stored.Asset.Token != "USDX" {
		t.Fatalf("asset symbol not canonical: %q", stored.Asset.Token)
	}
	if len(stored.AllowedList) != 2 || !stored.AllowsReceiver(testAddr(0x31)) {
		t.Fatalf("allow-list not preserved: %+v", stored.AllowedList)
	}

	if _, ok := mgr.DepositGet(custody.DepositID(user, 8)); ok {
		t.Fatalf("unknown salt must not resolve")
	}
}

func TestManagerDepositPutRejectsInvariantViolation(t *testing.T) {
	mgr := newTestManager(t)
	user := testAddr(0x02)
	deposit := &custody.Deposit{
		ID:                custody.DepositID(user, 1),
		User:              user,
		Amount:            big.NewInt(100),
		TransferredAmount: big.NewInt(80),
		WithdrawAmount:    big.NewInt(30),
		DepositedAt:       1,
		Salt:              1,
		Asset:             custody.NativeAsset(),
	}
	if err := mgr.DepositPut(deposit); err == nil {
		t.Fatalf("conservation violation must be rejected at the storage boundary")
	}
}

func TestManagerAccounts(t *testing.T) {
	mgr := newTestManager(t)
	addr := testAddr(0x05)

	acc, err := mgr.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.BalanceNative.Sign() != 0 {
		t.Fatalf("fresh account must read zero")
	}

	acc.BalanceNative = big.NewInt(1_234)
	acc.Nonce = 9
	if err := mgr.PutAccount(addr[:], acc); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}
	stored, err := mgr.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if stored.Nonce != 9 || stored.BalanceNative.Cmp(big.NewInt(1_234)) != 0 {
		t.Fatalf("unexpected account: %+v", stored)
	}

	neg := &types.Account{BalanceNative: big.NewInt(-1)}
	if err := mgr.PutAccount(addr[:], neg); err == nil {
		t.Fatalf("negative balance must be rejected")
	}
}

func TestManagerTokenBalances(t *testing.T) {
	mgr := newTestManager(t)
	addr := testAddr(0x06)

	bal, err := mgr.TokenBalance(addr, "USDX")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Fatalf("unknown balance must read zero")
	}

	if err := mgr.SetTokenBalance(addr, "USDX", big.NewInt(77)); err != nil {
		t.Fatalf("SetTokenBalance: %v", err)
	}
	bal, err = mgr.TokenBalance(addr, "USDX")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if bal.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("balance = %s, want 77", bal)
	}

	other, err := mgr.TokenBalance(addr, "OTHER")
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if other.Sign() != 0 {
		t.Fatalf("symbols must not share balances")
	}

	if err := mgr.SetTokenBalance(addr, "USDX", big.NewInt(-1)); err == nil {
		t.Fatalf("negative token balance must be rejected")
	}
}
