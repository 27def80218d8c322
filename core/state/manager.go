package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"calibervault/core/types"
	"calibervault/native/custody"
	"calibervault/storage"
)

// schemaVersion is written in front of every persisted record so future
// releases can migrate decode paths explicitly.
const schemaVersion uint8 = 1

var (
	vaultKey      = ethcrypto.Keccak256([]byte("custody/vault"))
	depositPrefix = []byte("custody/deposit:")
	accountPrefix = []byte("account:")
	balancePrefix = []byte("balance:")
)

// Manager reads and writes custody records through a key-value store. Keys
// are keccak256 hashes of a namespaced preimage; payloads are RLP encoded.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func depositKey(id [32]byte) []byte {
	buf := make([]byte, len(depositPrefix)+len(id))
	copy(buf, depositPrefix)
	copy(buf[len(depositPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return ethcrypto.Keccak256(buf)
}

type storedVault struct {
	Version   uint8
	Admin     [20]byte
	Operators [][20]byte
}

type storedDeposit struct {
	Version           uint8
	User              [20]byte
	Amount            *big.Int
	TransferredAmount *big.Int
	WithdrawAmount    *big.Int
	DepositedAt       uint64
	Salt              uint64
	AssetKind         uint8
	AssetToken        string
	AllowedList       [][20]byte
}

type storedAccount struct {
	Version       uint8
	Nonce         uint64
	BalanceNative *big.Int
}

// VaultPut persists the vault registry after validating its invariants.
func (m *Manager) VaultPut(v *custody.Vault) error {
	sanitized, err := custody.SanitizeVault(v)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedVault{
		Version:   schemaVersion,
		Admin:     sanitized.Admin,
		Operators: sanitized.Operators,
	})
	if err != nil {
		return err
	}
	return m.db.Put(vaultKey, encoded)
}

// VaultGet loads the vault registry. The second return reports whether a
// registry has been initialised.
func (m *Manager) VaultGet() (*custody.Vault, bool) {
	data, err := m.db.Get(vaultKey)
	if err != nil {
		return nil, false
	}
	stored := new(storedVault)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	if stored.Version != schemaVersion {
		return nil, false
	}
	return &custody.Vault{Admin: stored.Admin, Operators: stored.Operators}, true
}

// DepositPut persists a deposit ledger record after validating it.
func (m *Manager) DepositPut(d *custody.Deposit) error {
	sanitized, err := custody.SanitizeDeposit(d)
	if err != nil {
		return err
	}
	if sanitized.DepositedAt < 0 {
		return fmt.Errorf("state: negative deposit timestamp")
	}
	encoded, err := rlp.EncodeToBytes(&storedDeposit{
		Version:           schemaVersion,
		User:              sanitized.User,
		Amount:            sanitized.Amount,
		TransferredAmount: sanitized.TransferredAmount,
		WithdrawAmount:    sanitized.WithdrawAmount,
		DepositedAt:       uint64(sanitized.DepositedAt),
		Salt:              sanitized.Salt,
		AssetKind:         uint8(sanitized.Asset.Kind),
		AssetToken:        sanitized.Asset.Token,
		AllowedList:       sanitized.AllowedList,
	})
	if err != nil {
		return err
	}
	return m.db.Put(depositKey(sanitized.ID), encoded)
}

// DepositGet loads the deposit record stored under the derived identifier.
func (m *Manager) DepositGet(id [32]byte) (*custody.Deposit, bool) {
	data, err := m.db.Get(depositKey(id))
	if err != nil {
		return nil, false
	}
	stored := new(storedDeposit)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	if stored.Version != schemaVersion {
		return nil, false
	}
	return &custody.Deposit{
		ID:                id,
		User:              stored.User,
		Amount:            stored.Amount,
		TransferredAmount: stored.TransferredAmount,
		WithdrawAmount:    stored.WithdrawAmount,
		DepositedAt:       int64(stored.DepositedAt),
		Salt:              stored.Salt,
		Asset:             custody.Asset{Kind: custody.AssetKind(stored.AssetKind), Token: stored.AssetToken},
		AllowedList:       stored.AllowedList,
	}, true
}

// GetAccount loads an identity's account record, returning a zeroed account
// when none is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.EnsureAccount(nil), nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedAccount)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, err
	}
	if stored.Version != schemaVersion {
		return nil, fmt.Errorf("state: unsupported account schema %d", stored.Version)
	}
	return types.EnsureAccount(&types.Account{Nonce: stored.Nonce, BalanceNative: stored.BalanceNative}), nil
}

// PutAccount persists an identity's account record.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	if account.BalanceNative.Sign() < 0 {
		return fmt.Errorf("state: negative native balance")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Version:       schemaVersion,
		Nonce:         account.Nonce,
		BalanceNative: account.BalanceNative,
	})
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// TokenBalance loads the fungible token balance held by addr for symbol.
// Unknown pairs read as zero.
func (m *Manager) TokenBalance(addr [20]byte, symbol string) (*big.Int, error) {
	data, err := m.db.Get(balanceKey(addr, symbol))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// SetTokenBalance persists the fungible token balance for (addr, symbol).
func (m *Manager) SetTokenBalance(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: token balance must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(addr, symbol), encoded)
}
