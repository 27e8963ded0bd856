package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of every market address.
const AddressPrefix = "slot"

// FormatAddress renders a 20-byte account as a bech32 string.
func FormatAddress(addr [20]byte) string {
	conv, err := bech32.ConvertBits(addr[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// ParseAddress decodes a bech32 market address. Only the slot prefix is
// accepted.
func ParseAddress(raw string) ([20]byte, error) {
	var out [20]byte
	hrp, data, err := bech32.Decode(strings.TrimSpace(raw))
	if err != nil {
		return out, fmt.Errorf("invalid bech32 address: %w", err)
	}
	if hrp != AddressPrefix {
		return out, fmt.Errorf("invalid bech32 address: unsupported prefix %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("invalid bech32 address: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("invalid bech32 address: length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(raw string) [20]byte {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

// PrivateKey is a secp256k1 identity key. Its address is the Ethereum-style
// account derived from the public key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Address returns the account controlled by the key.
func (k *PrivateKey) Address() [20]byte {
	return crypto.PubkeyToAddress(k.PublicKey)
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}
