package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// FunderPath is the derivation path of the funding account for mnemonic wallets
const FunderPath = "m/44'/60'/0'/0/0"

var ErrNoCredentials = errors.New("either private key or mnemonic is required")

// GenerateBenchKeys derives n deterministic signing keys for the given prefix.
// Key i is keccak256("//bench-<prefix>:<i>") read as a secp256k1 scalar.
func GenerateBenchKeys(prefix string, n int) ([]*ecdsa.PrivateKey, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative key count %d", n)
	}

	keys := make([]*ecdsa.PrivateKey, n)
	for i := 0; i < n; i++ {
		key, err := BenchKey(prefix, i)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
}

// BenchKey derives the single key at index for the given prefix
func BenchKey(prefix string, index int) (*ecdsa.PrivateKey, error) {
	seed := crypto.Keccak256([]byte(fmt.Sprintf("//bench-%s:%d", prefix, index)))
	key, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key %s:%d: %w", prefix, index, err)
	}
	return key, nil
}

// Addresses returns the address of every key, in order
func Addresses(keys []*ecdsa.PrivateKey) []common.Address {
	addresses := make([]common.Address, len(keys))
	for i, key := range keys {
		addresses[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return addresses
}

// Funder is the privileged account that tops up benchmark senders
type Funder struct {
	key         *ecdsa.PrivateKey
	useMnemonic bool
}

// NewFunder creates the funder from a hex private key or, when that is empty, a BIP39 mnemonic
func NewFunder(privateKeyHex, mnemonic string) (*Funder, error) {
	switch {
	case privateKeyHex != "":
		return NewFunderFromPrivateKey(privateKeyHex)
	case mnemonic != "":
		return NewFunderFromMnemonic(mnemonic)
	default:
		return nil, ErrNoCredentials
	}
}

// NewFunderFromPrivateKey creates the funder from a private key hex string
func NewFunderFromPrivateKey(privateKeyHex string) (*Funder, error) {
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}

	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Funder{key: key}, nil
}

// NewFunderFromMnemonic creates the funder from the first account of a BIP39 mnemonic
func NewFunderFromMnemonic(mnemonic string) (*Funder, error) {
	hd, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	account, err := hd.Derive(hdwallet.MustParseDerivationPath(FunderPath), false)
	if err != nil {
		return nil, fmt.Errorf("failed to derive funder account: %w", err)
	}

	key, err := hd.PrivateKey(account)
	if err != nil {
		return nil, fmt.Errorf("failed to get funder private key: %w", err)
	}
	return &Funder{key: key, useMnemonic: true}, nil
}

// Key returns the funder private key
func (f *Funder) Key() *ecdsa.PrivateKey {
	return f.key
}

// Address returns the funder address
func (f *Funder) Address() common.Address {
	return crypto.PubkeyToAddress(f.key.PublicKey)
}

// FromMnemonic reports whether the funder was derived from a mnemonic
func (f *Funder) FromMnemonic() bool {
	return f.useMnemonic
}
