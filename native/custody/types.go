package custody

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxOperators bounds the vault registry so its storage layout stays
	// fixed-size.
	MaxOperators = 5
	// MaxAllowedList bounds the per-deposit receiver allow-list.
	MaxAllowedList = 5
)

// AssetKind discriminates the closed set of asset variants a deposit can hold.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
)

// Asset identifies what a deposit holds: the native coin, or a fungible token
// addressed by its canonical uppercase symbol. The type is a closed sum; every
// site that moves value switches exhaustively on Kind so a new variant is a
// compile-time exercise.
type Asset struct {
	Kind  AssetKind
	Token string
}

// NativeAsset returns the native-coin asset variant.
func NativeAsset() Asset { return Asset{Kind: AssetNative} }

// TokenAsset returns the token variant for the provided symbol. The symbol is
// normalised by NormalizeAsset before use.
func TokenAsset(symbol string) Asset { return Asset{Kind: AssetToken, Token: symbol} }

// Equal reports whether two assets identify the same underlying value class.
func (a Asset) Equal(other Asset) bool {
	return a.Kind == other.Kind && a.Token == other.Token
}

// Valid reports whether the asset kind is within the supported range.
func (a Asset) Valid() bool {
	switch a.Kind {
	case AssetNative, AssetToken:
		return true
	default:
		return false
	}
}

func (a Asset) String() string {
	switch a.Kind {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token:" + a.Token
	default:
		return fmt.Sprintf("asset(%d)", a.Kind)
	}
}

// NormalizeAsset canonicalises an asset value: the native variant carries no
// symbol and token symbols are trimmed and upper-cased. Unknown kinds and
// empty token symbols are rejected.
func NormalizeAsset(a Asset) (Asset, error) {
	switch a.Kind {
	case AssetNative:
		if strings.TrimSpace(a.Token) != "" {
			return Asset{}, fmt.Errorf("%w: native asset must not carry a token symbol", ErrInvalidAsset)
		}
		return NativeAsset(), nil
	case AssetToken:
		symbol := strings.ToUpper(strings.TrimSpace(a.Token))
		if symbol == "" {
			return Asset{}, fmt.Errorf("%w: token symbol required", ErrInvalidAsset)
		}
		return Asset{Kind: AssetToken, Token: symbol}, nil
	default:
		return Asset{}, fmt.Errorf("%w: unknown asset kind %d", ErrInvalidAsset, a.Kind)
	}
}

// Vault holds the administrator identity and the bounded operator set. The
// admin is fixed at initialisation; membership is the only semantic the
// operator list carries.
type Vault struct {
	Admin     [20]byte
	Operators [][20]byte
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := &Vault{Admin: v.Admin}
	if len(v.Operators) > 0 {
		clone.Operators = make([][20]byte, len(v.Operators))
		copy(clone.Operators, v.Operators)
	}
	return clone
}

// HasOperator reports whether the identity is a current member of the
// operator set.
func (v *Vault) HasOperator(operator [20]byte) bool {
	if v == nil {
		return false
	}
	for _, op := range v.Operators {
		if op == operator {
			return true
		}
	}
	return false
}

// SanitizeVault validates the registry invariants: bounded, duplicate-free
// operator membership. It returns a clone and never mutates the input.
func SanitizeVault(v *Vault) (*Vault, error) {
	if v == nil {
		return nil, fmt.Errorf("custody: nil vault")
	}
	if len(v.Operators) > MaxOperators {
		return nil, fmt.Errorf("%w: %d operators", ErrOperatorLimit, len(v.Operators))
	}
	seen := make(map[[20]byte]struct{}, len(v.Operators))
	for _, op := range v.Operators {
		if _, dup := seen[op]; dup {
			return nil, fmt.Errorf("%w: duplicate operator", ErrOperatorExists)
		}
		seen[op] = struct{}{}
	}
	return v.Clone(), nil
}

// Deposit is one user's escrowed amount of a single asset. Amount, asset,
// timestamp, salt and allow-list are fixed at creation; only the two outbound
// counters move afterwards. Records are never deleted so a drained deposit
// remains as an audit trail.
type Deposit struct {
	ID                [32]byte
	User              [20]byte
	Amount            *big.Int
	TransferredAmount *big.Int
	WithdrawAmount    *big.Int
	DepositedAt       int64
	Salt              uint64
	Asset             Asset
	AllowedList       [][20]byte
}

// DepositID derives the record identifier for a (user, salt) pair. A user may
// hold multiple concurrent deposits distinguished by the caller-supplied salt.
func DepositID(user [20]byte, salt uint64) [32]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], salt)
	return ethcrypto.Keccak256Hash(user[:], buf[:])
}

// Clone returns a deep copy of the deposit record.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Amount = cloneBigInt(d.Amount)
	clone.TransferredAmount = cloneBigInt(d.TransferredAmount)
	clone.WithdrawAmount = cloneBigInt(d.WithdrawAmount)
	if len(d.AllowedList) > 0 {
		clone.AllowedList = make([][20]byte, len(d.AllowedList))
		copy(clone.AllowedList, d.AllowedList)
	} else {
		clone.AllowedList = nil
	}
	return &clone
}

// Remaining computes the balance still held in custody for this deposit:
// amount minus everything moved out by operators and by the user.
func (d *Deposit) Remaining() *big.Int {
	remaining := cloneBigInt(d.Amount)
	remaining.Sub(remaining, cloneBigInt(d.TransferredAmount))
	remaining.Sub(remaining, cloneBigInt(d.WithdrawAmount))
	return remaining
}

// AllowsReceiver reports whether the identity is on the deposit's allow-list.
func (d *Deposit) AllowsReceiver(receiver [20]byte) bool {
	if d == nil {
		return false
	}
	for _, allowed := range d.AllowedList {
		if allowed == receiver {
			return true
		}
	}
	return false
}

// SanitizeDeposit validates and normalises a deposit record: non-nil,
// non-negative counters, bounded allow-list, canonical asset, and the
// conservation invariant transferred + withdrawn <= amount. It returns a
// clone and never mutates the input.
func SanitizeDeposit(d *Deposit) (*Deposit, error) {
	if d == nil {
		return nil, fmt.Errorf("custody: nil deposit")
	}
	clone := d.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("custody: deposit amount must be positive")
	}
	if clone.TransferredAmount.Sign() < 0 || clone.WithdrawAmount.Sign() < 0 {
		return nil, fmt.Errorf("custody: outbound counters must be non-negative")
	}
	if len(clone.AllowedList) > MaxAllowedList {
		return nil, fmt.Errorf("%w: %d receivers", ErrAllowedListLimit, len(clone.AllowedList))
	}
	outbound := new(big.Int).Add(clone.TransferredAmount, clone.WithdrawAmount)
	if outbound.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("custody: outbound amounts exceed deposit")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
