package custody

import (
	"encoding/hex"
	"strconv"
	"strings"

	"calibervault/core/types"
)

const (
	EventTypeVaultInitialized = "custody.vault.initialized"
	EventTypeOperatorAdded    = "custody.vault.operator_added"
	EventTypeOperatorRemoved  = "custody.vault.operator_removed"
	EventTypeDepositCreated   = "custody.deposit.created"
	EventTypeOperatorTransfer = "custody.deposit.operator_transfer"
	EventTypeDepositWithdrawn = "custody.deposit.withdrawn"
)

// NewVaultInitializedEvent returns the canonical payload emitted when the
// vault registry is created.
func NewVaultInitializedEvent(v *Vault) *types.Event {
	attrs := make(map[string]string)
	if v != nil {
		attrs["admin"] = hex.EncodeToString(v.Admin[:])
		attrs["operators"] = joinAddresses(v.Operators)
		attrs["operatorCount"] = strconv.Itoa(len(v.Operators))
	}
	return &types.Event{Type: EventTypeVaultInitialized, Attributes: attrs}
}

// NewOperatorAddedEvent returns the payload emitted when the admin registers
// a new operator.
func NewOperatorAddedEvent(v *Vault, operator [20]byte) *types.Event {
	return newOperatorEvent(EventTypeOperatorAdded, v, operator)
}

// NewOperatorRemovedEvent returns the payload emitted when the admin revokes
// an operator.
func NewOperatorRemovedEvent(v *Vault, operator [20]byte) *types.Event {
	return newOperatorEvent(EventTypeOperatorRemoved, v, operator)
}

// NewDepositCreatedEvent returns the payload emitted when a user deposit is
// accepted into custody.
func NewDepositCreatedEvent(d *Deposit) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: EventTypeDepositCreated, Attributes: attrs}
	}
	sanitized, err := SanitizeDeposit(d)
	if err != nil {
		return &types.Event{Type: EventTypeDepositCreated, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["user"] = hex.EncodeToString(sanitized.User[:])
	attrs["amount"] = sanitized.Amount.String()
	attrs["asset"] = sanitized.Asset.String()
	attrs["salt"] = strconv.FormatUint(sanitized.Salt, 10)
	attrs["depositedAt"] = strconv.FormatInt(sanitized.DepositedAt, 10)
	if len(sanitized.AllowedList) > 0 {
		attrs["allowedList"] = joinAddresses(sanitized.AllowedList)
	}
	return &types.Event{Type: EventTypeDepositCreated, Attributes: attrs}
}

// NewOperatorTransferEvent returns the payload emitted when an operator moves
// part of a deposit to an allow-listed receiver.
func NewOperatorTransferEvent(d *Deposit, operator, receiver [20]byte, amount string) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		attrs["id"] = hex.EncodeToString(d.ID[:])
		attrs["operator"] = hex.EncodeToString(operator[:])
		attrs["receiver"] = hex.EncodeToString(receiver[:])
		attrs["amount"] = amount
		if d.TransferredAmount != nil {
			attrs["transferredAmount"] = d.TransferredAmount.String()
		}
	}
	return &types.Event{Type: EventTypeOperatorTransfer, Attributes: attrs}
}

// NewDepositWithdrawnEvent returns the payload emitted when the user reclaims
// the remaining balance after the window closes.
func NewDepositWithdrawnEvent(d *Deposit, amount string) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		attrs["id"] = hex.EncodeToString(d.ID[:])
		attrs["user"] = hex.EncodeToString(d.User[:])
		attrs["amount"] = amount
		if d.WithdrawAmount != nil {
			attrs["withdrawAmount"] = d.WithdrawAmount.String()
		}
	}
	return &types.Event{Type: EventTypeDepositWithdrawn, Attributes: attrs}
}

func newOperatorEvent(eventType string, v *Vault, operator [20]byte) *types.Event {
	attrs := map[string]string{
		"operator": hex.EncodeToString(operator[:]),
	}
	if v != nil {
		attrs["admin"] = hex.EncodeToString(v.Admin[:])
		attrs["operatorCount"] = strconv.Itoa(len(v.Operators))
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func joinAddresses(addrs [][20]byte) string {
	encoded := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		encoded = append(encoded, hex.EncodeToString(addr[:]))
	}
	return strings.Join(encoded, ",")
}
