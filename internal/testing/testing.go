// Package testing provides test utilities, fixtures and an in-memory chain for tpsbench tests.
package testing

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// TestPrivateKey is the funder key of test configs (DO NOT use in production)
const TestPrivateKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// TestChainID is the chain ID of StubChain and test batches
var TestChainID = big.NewInt(1337)

// GenerateTestKey generates a random sender key
func GenerateTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

// GenerateTestKeys generates count random sender keys
func GenerateTestKeys(t *testing.T, count int) []*ecdsa.PrivateKey {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, count)
	for i := range keys {
		keys[i] = GenerateTestKey(t)
	}
	return keys
}

// MustParseKey parses a hex private key, with or without 0x, or fails the test
func MustParseKey(t *testing.T, hexKey string) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.HexToECDSA(strip0x(hexKey))
	if err != nil {
		t.Fatalf("failed to parse private key: %v", err)
	}
	return key
}

func strip0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// AddressFromKey returns the address for a private key
func AddressFromKey(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// FunderAddress is the address of TestPrivateKey
func FunderAddress(t *testing.T) common.Address {
	t.Helper()
	return AddressFromKey(MustParseKey(t, TestPrivateKey))
}

// StartStubChain starts a StubChain that is stopped when the test ends
func StartStubChain(t *testing.T, opts ...StubOption) *StubChain {
	t.Helper()
	chain := NewStubChain(opts...)
	chain.Start()
	t.Cleanup(chain.Stop)
	return chain
}

// Ether converts ether to wei
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.Ether))
}

// Gwei converts gwei to wei
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}
