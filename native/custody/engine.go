package custody

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"calibervault/core/events"
	"calibervault/core/types"
)

var errNilState = errors.New("custody engine: state not configured")

// engineState is the persistence surface the engine depends on. The engine
// never talks to storage directly; callers inject a state manager (or a mock
// in tests) that resolves records and account balances.
type engineState interface {
	VaultPut(*Vault) error
	VaultGet() (*Vault, bool)
	DepositPut(*Deposit) error
	DepositGet(id [32]byte) (*Deposit, bool)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	TokenBalance(addr [20]byte, symbol string) (*big.Int, error)
	SetTokenBalance(addr [20]byte, symbol string, amount *big.Int) error
}

type custodyEvent struct {
	evt *types.Event
}

func (e custodyEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e custodyEvent) Event() *types.Event { return e.evt }

// PoolAddress is the fixed custody address holding every deposit's assets.
// It is derived from a static seed so all components agree on it without a
// registry lookup.
func PoolAddress() [20]byte {
	hash := ethcrypto.Keccak256([]byte("calibervault/custody-pool"))
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// Engine wires the custody business logic with external state and event
// emitters. Every operation validates all preconditions before touching
// state, so a failed call leaves no partial mutation behind.
type Engine struct {
	state   engineState
	emitter events.Emitter
	window  time.Duration
	nowFn   func() int64
}

// NewEngine creates a custody engine with a no-op emitter and the production
// transfer window. Callers can override both via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		window:  DefaultTransferWindow,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTransferWindow overrides the operator transfer window. Non-positive
// values reset it to the production default.
func (e *Engine) SetTransferWindow(window time.Duration) {
	if window <= 0 {
		e.window = DefaultTransferWindow
		return
	}
	e.window = window
}

// TransferWindow returns the currently configured window length.
func (e *Engine) TransferWindow() time.Duration { return e.window }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(custodyEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadVault() (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	vault, ok := e.state.VaultGet()
	if !ok {
		return nil, ErrVaultNotInitialized
	}
	return vault, nil
}

func (e *Engine) loadDeposit(id [32]byte) (*Deposit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	deposit, ok := e.state.DepositGet(id)
	if !ok {
		return nil, ErrDepositNotFound
	}
	return deposit, nil
}

// transferAsset moves value between two identities. It is the single funnel
// through which custody debits and credits flow; the asset switch is
// exhaustive so new variants cannot silently skip it.
//
// The debit, credit and the caller's follow-up record put are separate KV
// writes: a fatal storage failure in between strands moved value without the
// matching ledger update.
// TODO: batch the balance and record writes once storage exposes a write
// batch.
func (e *Engine) transferAsset(from, to [20]byte, asset Asset, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("custody: transfer amount must be positive")
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	switch normalized.Kind {
	case AssetNative:
		fromAcc, err := e.state.GetAccount(from[:])
		if err != nil {
			return err
		}
		toAcc, err := e.state.GetAccount(to[:])
		if err != nil {
			return err
		}
		fromAcc = types.EnsureAccount(fromAcc)
		toAcc = types.EnsureAccount(toAcc)
		if fromAcc.BalanceNative.Cmp(amt) < 0 {
			return fmt.Errorf("custody: insufficient balance")
		}
		if from == to {
			// Debit and credit would land on independent copies of the same
			// account, so the later write must not overwrite the earlier one.
			// A self-transfer leaves the balance untouched.
			return nil
		}
		fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amt)
		toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amt)
		if err := e.state.PutAccount(from[:], fromAcc); err != nil {
			return err
		}
		return e.state.PutAccount(to[:], toAcc)
	case AssetToken:
		fromBal, err := e.state.TokenBalance(from, normalized.Token)
		if err != nil {
			return err
		}
		if fromBal.Cmp(amt) < 0 {
			return fmt.Errorf("custody: insufficient balance")
		}
		if from == to {
			return nil
		}
		toBal, err := e.state.TokenBalance(to, normalized.Token)
		if err != nil {
			return err
		}
		if err := e.state.SetTokenBalance(from, normalized.Token, new(big.Int).Sub(fromBal, amt)); err != nil {
			return err
		}
		return e.state.SetTokenBalance(to, normalized.Token, new(big.Int).Add(toBal, amt))
	default:
		return fmt.Errorf("%w: unknown asset kind %d", ErrInvalidAsset, normalized.Kind)
	}
}

// InitializeVault persists a new vault registry with a fixed admin and the
// initial operator set. It can only run once.
func (e *Engine) InitializeVault(admin [20]byte, operators [][20]byte) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, exists := e.state.VaultGet(); exists {
		return nil, ErrVaultExists
	}
	if len(operators) > MaxOperators {
		return nil, fmt.Errorf("%w: %d operators", ErrOperatorLimit, len(operators))
	}
	vault := &Vault{Admin: admin}
	for _, operator := range operators {
		if vault.HasOperator(operator) {
			return nil, fmt.Errorf("%w: duplicate in initial set", ErrOperatorExists)
		}
		vault.Operators = append(vault.Operators, operator)
	}
	if err := e.state.VaultPut(vault); err != nil {
		return nil, err
	}
	e.emit(NewVaultInitializedEvent(vault))
	return vault.Clone(), nil
}

// AddOperator registers a new operator. Only the admin may call it.
func (e *Engine) AddOperator(caller, operator [20]byte) error {
	vault, err := e.loadVault()
	if err != nil {
		return err
	}
	if vault.Admin != caller {
		return ErrInvalidAdmin
	}
	if vault.HasOperator(operator) {
		return ErrOperatorExists
	}
	if len(vault.Operators) >= MaxOperators {
		return ErrOperatorLimit
	}
	vault.Operators = append(vault.Operators, operator)
	if err := e.state.VaultPut(vault); err != nil {
		return err
	}
	e.emit(NewOperatorAddedEvent(vault, operator))
	return nil
}

// RemoveOperator revokes an operator's membership. Removal has no retroactive
// effect: transfers that already committed under the old membership stand,
// and eligibility is re-checked on every future transfer.
func (e *Engine) RemoveOperator(caller, operator [20]byte) error {
	vault, err := e.loadVault()
	if err != nil {
		return err
	}
	if vault.Admin != caller {
		return ErrInvalidAdmin
	}
	if !vault.HasOperator(operator) {
		return ErrOperatorNotFound
	}
	kept := vault.Operators[:0]
	for _, op := range vault.Operators {
		if op != operator {
			kept = append(kept, op)
		}
	}
	vault.Operators = kept
	if err := e.state.VaultPut(vault); err != nil {
		return err
	}
	e.emit(NewOperatorRemovedEvent(vault, operator))
	return nil
}

// Deposit moves amount of asset from the user into pooled custody and
// persists the ledger record. The asset transfer and record creation are
// atomic: if the transfer fails no record is created.
func (e *Engine) Deposit(user [20]byte, salt uint64, amount *big.Int, asset Asset, allowedList [][20]byte) (*Deposit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if len(allowedList) > MaxAllowedList {
		return nil, fmt.Errorf("%w: %d receivers", ErrAllowedListLimit, len(allowedList))
	}
	id := DepositID(user, salt)
	if _, exists := e.state.DepositGet(id); exists {
		return nil, fmt.Errorf("%w: user %x salt %d", ErrDepositExists, user, salt)
	}
	amt := cloneBigInt(amount)
	if err := e.transferAsset(user, PoolAddress(), normalized, amt); err != nil {
		return nil, err
	}
	deposit := &Deposit{
		ID:                id,
		User:              user,
		Amount:            amt,
		TransferredAmount: big.NewInt(0),
		WithdrawAmount:    big.NewInt(0),
		DepositedAt:       e.now(),
		Salt:              salt,
		Asset:             normalized,
	}
	if len(allowedList) > 0 {
		deposit.AllowedList = make([][20]byte, len(allowedList))
		copy(deposit.AllowedList, allowedList)
	}
	if err := e.state.DepositPut(deposit); err != nil {
		return nil, err
	}
	e.emit(NewDepositCreatedEvent(deposit))
	return deposit.Clone(), nil
}

// OperatorTransfer moves amount from the deposit's custody balance to an
// allow-listed receiver. The preconditions run in a fixed order so callers
// observe a deterministic first failure: operator membership, receiver and
// asset checks, transfer window, then the conservation bound. Partial draws
// are allowed; each call re-validates against the cumulative total.
func (e *Engine) OperatorTransfer(operator [20]byte, id [32]byte, receiver [20]byte, asset Asset, amount *big.Int) error {
	vault, err := e.loadVault()
	if err != nil {
		return err
	}
	if !vault.HasOperator(operator) {
		return ErrInvalidOperator
	}
	deposit, err := e.loadDeposit(id)
	if err != nil {
		return err
	}
	if !deposit.AllowsReceiver(receiver) {
		return ErrInvalidReceiver
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if !deposit.Asset.Equal(normalized) {
		return ErrInvalidAsset
	}
	if !InTransferWindow(deposit.DepositedAt, e.now(), e.window) {
		return ErrTransferWindowClosed
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("custody: transfer amount must be positive")
	}
	cumulative := new(big.Int).Add(deposit.TransferredAmount, amt)
	if cumulative.Cmp(deposit.Amount) > 0 {
		return ErrAmountExceedsDeposit
	}
	if err := e.transferAsset(PoolAddress(), receiver, normalized, amt); err != nil {
		return err
	}
	deposit.TransferredAmount = cumulative
	if err := e.state.DepositPut(deposit); err != nil {
		return err
	}
	e.emit(NewOperatorTransferEvent(deposit, operator, receiver, amt.String()))
	return nil
}

// UserWithdraw releases the remaining balance of a deposit back to its user
// once the transfer window has closed. The native pathway treats a drained
// deposit as a harmless no-op that moves nothing; the token pathway rejects
// it with ErrNoWithdrawAmount. The returned amount is what actually moved.
func (e *Engine) UserWithdraw(user [20]byte, id [32]byte) (*big.Int, error) {
	deposit, err := e.loadDeposit(id)
	if err != nil {
		return nil, err
	}
	if deposit.User != user {
		return nil, ErrInvalidUser
	}
	if InTransferWindow(deposit.DepositedAt, e.now(), e.window) {
		return nil, ErrTransferWindowOpen
	}
	remaining := deposit.Remaining()
	switch deposit.Asset.Kind {
	case AssetNative:
		if remaining.Sign() == 0 {
			return big.NewInt(0), nil
		}
	case AssetToken:
		if remaining.Sign() == 0 {
			return nil, ErrNoWithdrawAmount
		}
	default:
		return nil, fmt.Errorf("%w: unknown asset kind %d", ErrInvalidAsset, deposit.Asset.Kind)
	}
	if err := e.transferAsset(PoolAddress(), user, deposit.Asset, remaining); err != nil {
		return nil, err
	}
	deposit.WithdrawAmount = new(big.Int).Add(deposit.WithdrawAmount, remaining)
	if err := e.state.DepositPut(deposit); err != nil {
		return nil, err
	}
	e.emit(NewDepositWithdrawnEvent(deposit, remaining.String()))
	return remaining, nil
}
