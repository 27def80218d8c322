package core

import (
	"math/big"
	"sync"
	"time"

	"calibervault/core/events"
	"calibervault/core/state"
	"calibervault/native/custody"
	"calibervault/storage"
)

// Node owns the custody state and serializes every operation against it.
// Each exported method is one atomic unit: the mutex is held for the full
// validate-mutate-transfer sequence, so no two operations ever observe the
// same record concurrently, and a precondition failure leaves state untouched
// because the engine validates before mutating.
type Node struct {
	db      storage.Database
	manager *state.Manager
	stateMu sync.Mutex

	emitter events.Emitter
	window  time.Duration
}

// NewNode creates a node over the provided database. A non-positive window
// selects the production transfer window.
func NewNode(db storage.Database, window time.Duration) *Node {
	return &Node{
		db:      db,
		manager: state.NewManager(db),
		emitter: events.NoopEmitter{},
		window:  window,
	}
}

// SetEmitter configures where custody events are published. Passing nil
// resets to a no-op emitter.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// TransferWindow reports the configured operator transfer window.
func (n *Node) TransferWindow() time.Duration {
	engine := n.newCustodyEngine()
	return engine.TransferWindow()
}

func (n *Node) newCustodyEngine() *custody.Engine {
	engine := custody.NewEngine()
	engine.SetState(n.manager)
	engine.SetEmitter(n.emitter)
	engine.SetTransferWindow(n.window)
	return engine
}

// CustodyInitializeVault creates the vault registry with the given admin and
// initial operator set.
func (n *Node) CustodyInitializeVault(admin [20]byte, operators [][20]byte) (*custody.Vault, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.newCustodyEngine().InitializeVault(admin, operators)
}

// CustodyAddOperator registers a new operator on behalf of the admin.
func (n *Node) CustodyAddOperator(caller, operator [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.newCustodyEngine().AddOperator(caller, operator)
}

// CustodyRemoveOperator revokes an operator on behalf of the admin.
func (n *Node) CustodyRemoveOperator(caller, operator [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.newCustodyEngine().RemoveOperator(caller, operator)
}

// CustodyDeposit escrows amount of asset for user under the given salt.
func (n *Node) CustodyDeposit(user [20]byte, salt uint64, amount *big.Int, asset custody.Asset, allowedList [][20]byte) (*custody.Deposit, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.newCustodyEngine().Deposit(user, salt, amount, asset, allowedList)
}

// CustodyOperatorTransfer moves part of a deposit to an allow-listed receiver.
func (n *Node) CustodyOperatorTransfer(operator [20]byte, id [32]byte, receiver [20]byte, asset custody.Asset, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.newCustodyEngine().OperatorTransfer(operator, id, receiver, asset, amount)
}

// CustodyUserWithdraw releases the remaining balance of a deposit back to its
// user after the window closes. It returns the amount moved.
func (n *Node) CustodyUserWithdraw(user [20]byte, id [32]byte) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	return n.newCustodyEngine().UserWithdraw(user, id)
}

// CustodyGetVault returns a copy of the vault registry.
func (n *Node) CustodyGetVault() (*custody.Vault, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	vault, ok := n.manager.VaultGet()
	if !ok {
		return nil, custody.ErrVaultNotInitialized
	}
	return vault, nil
}

// CustodyGetDeposit returns a copy of the deposit record for the identifier.
func (n *Node) CustodyGetDeposit(id [32]byte) (*custody.Deposit, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	deposit, ok := n.manager.DepositGet(id)
	if !ok {
		return nil, custody.ErrDepositNotFound
	}
	return deposit, nil
}

// CustodyCreditAccount mints balance into an account. It exists for
// development networks so depositors can be funded without an external
// settlement rail; the RPC layer refuses to expose it outside dev.
func (n *Node) CustodyCreditAccount(addr [20]byte, asset custody.Asset, amount *big.Int) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	switch normalized.Kind {
	case custody.AssetToken:
		balance, err := n.manager.TokenBalance(addr, normalized.Token)
		if err != nil {
			return err
		}
		return n.manager.SetTokenBalance(addr, normalized.Token, new(big.Int).Add(balance, amount))
	default:
		account, err := n.manager.GetAccount(addr[:])
		if err != nil {
			return err
		}
		account.BalanceNative = new(big.Int).Add(account.BalanceNative, amount)
		return n.manager.PutAccount(addr[:], account)
	}
}

// CustodyBalance reports an identity's holdings of the given asset.
func (n *Node) CustodyBalance(addr [20]byte, asset custody.Asset) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	normalized, err := custody.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	switch normalized.Kind {
	case custody.AssetToken:
		return n.manager.TokenBalance(addr, normalized.Token)
	default:
		account, err := n.manager.GetAccount(addr[:])
		if err != nil {
			return nil, err
		}
		return account.BalanceNative, nil
	}
}
