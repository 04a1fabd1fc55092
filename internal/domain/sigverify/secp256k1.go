package sigverify

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Secp256k1 recovers Ethereum-style ECDSA signatures. V may be 0/1 or 27/28.
// High-s signatures are rejected so a signature has a single valid encoding.
type Secp256k1 struct{}

// Scheme implements Verifier.
func (Secp256k1) Scheme() string { return SchemeSecp256k1 }

// Recover implements Verifier.
func (Secp256k1) Recover(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[crypto.RecoveryIDOffset], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: invalid r, s or v", ErrMalformedSignature)
	}

	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Secp256k1Signer signs with an ECDSA key and emits V as 27/28.
type Secp256k1Signer struct {
	key *ecdsa.PrivateKey
}

// NewSecp256k1Signer wraps key.
func NewSecp256k1Signer(key *ecdsa.PrivateKey) *Secp256k1Signer {
	return &Secp256k1Signer{key: key}
}

// GenerateSecp256k1 creates a signer with a fresh random key.
func GenerateSecp256k1() (*Secp256k1Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewSecp256k1Signer(key), nil
}

// Secp256k1FromHex loads a hex private key, with or without 0x.
func Secp256k1FromHex(hexKey string) (*Secp256k1Signer, error) {
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 key: %w", err)
	}
	return NewSecp256k1Signer(key), nil
}

// Scheme implements Signer.
func (s *Secp256k1Signer) Scheme() string { return SchemeSecp256k1 }

// Address implements Signer.
func (s *Secp256k1Signer) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

// PrivateKeyHex returns the key as 0x-prefixed hex.
func (s *Secp256k1Signer) PrivateKeyHex() string {
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(s.key))
}

// Sign implements Signer.
func (s *Secp256k1Signer) Sign(hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
