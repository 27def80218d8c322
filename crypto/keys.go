package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// CalPrefix is the human-readable part of every calibervault address.
const CalPrefix = "cal"

// Address represents a 20-byte identity rendered as a bech32 string.
type Address struct {
	bytes [20]byte
}

// NewAddress builds an address from a raw 20-byte value.
func NewAddress(b [20]byte) Address {
	return Address{bytes: b}
}

// AddressFromBytes builds an address from a byte slice, rejecting any length
// other than 20.
func AddressFromBytes(b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("crypto: address must be 20 bytes, got %d", len(b))
	}
	var raw [20]byte
	copy(raw[:], b)
	return Address{bytes: raw}, nil
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(CalPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns the raw 20-byte value.
func (a Address) Bytes() [20]byte {
	return a.bytes
}

// DecodeAddress parses a bech32 string and enforces the calibervault prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != CalPrefix {
		return Address{}, fmt.Errorf("crypto: unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return AddressFromBytes(conv)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey)
	var raw [20]byte
	copy(raw[:], addrBytes.Bytes())
	return NewAddress(raw)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
