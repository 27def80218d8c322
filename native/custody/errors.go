package custody

import "errors"

var (
	// ErrInvalidAdmin rejects registry mutations from anyone but the vault admin.
	ErrInvalidAdmin = errors.New("custody: invalid admin")
	// ErrOperatorExists rejects adding an operator that is already registered.
	ErrOperatorExists = errors.New("custody: operator already exists")
	// ErrOperatorNotFound rejects removing an operator that is not registered.
	ErrOperatorNotFound = errors.New("custody: operator not exists")
	// ErrOperatorLimit rejects growing the operator set beyond MaxOperators.
	ErrOperatorLimit = errors.New("custody: exceed operators limit")
	// ErrAllowedListLimit rejects deposits whose receiver allow-list exceeds
	// MaxAllowedList entries.
	ErrAllowedListLimit = errors.New("custody: exceed allowed list limit")
	// ErrInvalidOperator rejects outbound transfers initiated by a caller that
	// is not a current operator.
	ErrInvalidOperator = errors.New("custody: invalid operator")
	// ErrInvalidReceiver rejects outbound transfers to a receiver missing from
	// the deposit's allow-list.
	ErrInvalidReceiver = errors.New("custody: invalid allowed receiver")
	// ErrInvalidAsset rejects transfers whose asset does not match the deposit.
	ErrInvalidAsset = errors.New("custody: invalid asset")
	// ErrTransferWindowClosed rejects operator transfers after the transfer
	// window has elapsed.
	ErrTransferWindowClosed = errors.New("custody: expired transfer time")
	// ErrTransferWindowOpen rejects user withdrawals while the transfer window
	// is still running.
	ErrTransferWindowOpen = errors.New("custody: in transfer time")
	// ErrAmountExceedsDeposit rejects transfers that would push the cumulative
	// transferred amount past the deposited amount.
	ErrAmountExceedsDeposit = errors.New("custody: exceed transfer amount")
	// ErrInvalidUser rejects withdrawals requested by anyone but the depositor.
	ErrInvalidUser = errors.New("custody: invalid user")
	// ErrNoWithdrawAmount rejects token withdrawals once the deposit is drained.
	ErrNoWithdrawAmount = errors.New("custody: no withdraw amount")
	// ErrVaultNotInitialized is returned when an operation requires the vault
	// registry before InitializeVault has run.
	ErrVaultNotInitialized = errors.New("custody: vault not initialised")
	// ErrVaultExists is returned when InitializeVault runs twice.
	ErrVaultExists = errors.New("custody: vault already initialised")
	// ErrDepositNotFound is returned when a deposit reference resolves to no
	// stored record.
	ErrDepositNotFound = errors.New("custody: deposit not found")
	// ErrDepositExists is returned when a (user, salt) pair collides with an
	// existing deposit record.
	ErrDepositExists = errors.New("custody: deposit already exists")
)
