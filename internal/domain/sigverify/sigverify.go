// Package sigverify turns (signing hash, signature) pairs into signer identities.
//
// Two schemes are supported. Secp256k1 recovers the address from a 65-byte
// r||s||v ECDSA signature. BLS carries the public key alongside the signature
// (pubkey48||sig96) and derives the identity from it.
package sigverify

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Scheme names.
const (
	SchemeSecp256k1 = "secp256k1"
	SchemeBLS       = "bls"
)

// ErrMalformedSignature reports a signature that cannot be parsed or recovered.
var ErrMalformedSignature = errors.New("malformed signature")

// Verifier recovers the identity that produced sig over hash.
type Verifier interface {
	Scheme() string
	Recover(hash common.Hash, sig []byte) (common.Address, error)
}

// Signer produces signatures its matching Verifier recovers to Address.
type Signer interface {
	Scheme() string
	Address() common.Address
	Sign(hash common.Hash) ([]byte, error)
}

// NewVerifier returns the verifier for scheme.
func NewVerifier(scheme string) (Verifier, error) {
	switch scheme {
	case SchemeSecp256k1, "":
		return Secp256k1{}, nil
	case SchemeBLS:
		return BLS{}, nil
	default:
		return nil, errors.New("unknown signature scheme: " + scheme)
	}
}
