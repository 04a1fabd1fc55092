package sigverify

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	blst "github.com/supranational/blst/bindings/go"
)

const (
	// BLSPublicKeySize is the size of a compressed G1 public key.
	BLSPublicKeySize = 48
	// BLSSignatureSize is the size of a compressed G2 signature.
	BLSSignatureSize = 96
	// BLSEnvelopeSize is pubkey || signature.
	BLSEnvelopeSize = BLSPublicKeySize + BLSSignatureSize
)

var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLS verifies pubkey||signature envelopes. The identity is the last 20 bytes
// of keccak256(pubkey), the same derivation Ethereum uses for ECDSA keys.
type BLS struct{}

// Scheme implements Verifier.
func (BLS) Scheme() string { return SchemeBLS }

// Recover implements Verifier.
func (BLS) Recover(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != BLSEnvelopeSize {
		return common.Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, BLSEnvelopeSize, len(sig))
	}
	pubBytes, sigBytes := sig[:BLSPublicKeySize], sig[BLSPublicKeySize:]

	pk := new(blst.P1Affine).Uncompress(pubBytes)
	if pk == nil {
		return common.Address{}, fmt.Errorf("%w: bad public key", ErrMalformedSignature)
	}
	s := new(blst.P2Affine).Uncompress(sigBytes)
	if s == nil {
		return common.Address{}, fmt.Errorf("%w: bad signature point", ErrMalformedSignature)
	}
	if !s.Verify(true, pk, true, hash.Bytes(), blsDST) {
		return common.Address{}, fmt.Errorf("%w: verification failed", ErrMalformedSignature)
	}
	return BLSIdentity(pubBytes), nil
}

// BLSIdentity derives the address of a compressed BLS public key.
func BLSIdentity(pub []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub)[12:])
}

// BLSSigner signs with a BLS12-381 secret key.
type BLSSigner struct {
	secret *blst.SecretKey
	public []byte
}

// GenerateBLS creates a signer from a random seed.
func GenerateBLS() (*BLSSigner, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed: %w", err)
	}
	return BLSFromSeed(ikm[:])
}

// BLSFromSeed derives a signer from a seed of at least 32 bytes.
func BLSFromSeed(seed []byte) (*BLSSigner, error) {
	if len(seed) < 32 {
		return nil, errors.New("seed must be at least 32 bytes")
	}
	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, errors.New("failed to generate BLS key")
	}
	return &BLSSigner{secret: secret, public: new(blst.P1Affine).From(secret).Compress()}, nil
}

// Scheme implements Signer.
func (s *BLSSigner) Scheme() string { return SchemeBLS }

// Address implements Signer.
func (s *BLSSigner) Address() common.Address { return BLSIdentity(s.public) }

// PublicKey returns the compressed public key.
func (s *BLSSigner) PublicKey() []byte { return append([]byte(nil), s.public...) }

// Sign implements Signer, returning the pubkey||signature envelope.
func (s *BLSSigner) Sign(hash common.Hash) ([]byte, error) {
	sig := new(blst.P2Affine).Sign(s.secret, hash.Bytes(), blsDST).Compress()
	out := make([]byte, 0, BLSEnvelopeSize)
	out = append(out, s.public...)
	return append(out, sig...), nil
}
