package authorizer

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nikhlu07/Credo/internal/domain/model"
)

const wordSize = 32

var (
	singleTag = []byte("ScoreUpdate")
	batchTag  = []byte("BatchScoreUpdate")
)

// word encodes v as a 32-byte big-endian word.
func word(v uint64) []byte {
	w := make([]byte, wordSize)
	binary.BigEndian.PutUint64(w[wordSize-8:], v)
	return w
}

// encodeAddressArray is the ABI encoding of a single address[] argument.
func encodeAddressArray(addrs []common.Address) []byte {
	out := make([]byte, 0, wordSize*(2+len(addrs)))
	out = append(out, word(wordSize)...)
	out = append(out, word(uint64(len(addrs)))...)
	for _, a := range addrs {
		out = append(out, common.LeftPadBytes(a.Bytes(), wordSize)...)
	}
	return out
}

// encodeUintArray is the ABI encoding of a single uint256[] argument.
func encodeUintArray(vs []uint64) []byte {
	out := make([]byte, 0, wordSize*(2+len(vs)))
	out = append(out, word(wordSize)...)
	out = append(out, word(uint64(len(vs)))...)
	for _, v := range vs {
		out = append(out, word(v)...)
	}
	return out
}

// ScoreUpdateDigest is keccak256 of the tightly packed single update.
func ScoreUpdateDigest(u model.ScoreUpdate) common.Hash {
	return crypto.Keccak256Hash(
		singleTag,
		u.Subject.Bytes(),
		word(u.Score),
		word(u.Version),
		word(u.Nonce),
		word(u.Deadline),
	)
}

// BatchUpdateDigest hashes each array on its own, then packs both hashes with
// the scalar fields.
func BatchUpdateDigest(b model.BatchScoreUpdate) common.Hash {
	subjectsHash := crypto.Keccak256(encodeAddressArray(b.Subjects))
	scoresHash := crypto.Keccak256(encodeUintArray(b.Scores))
	return crypto.Keccak256Hash(
		batchTag,
		subjectsHash,
		scoresHash,
		word(b.Version),
		word(b.Nonce),
		word(b.Deadline),
	)
}

// SigningHash applies the personal-message wrapping signers sign over:
// keccak256("\x19Ethereum Signed Message:\n32" || digest).
func SigningHash(digest common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(digest.Bytes()))
}

// ScoreUpdateHash is the hash a signer signs for u.
func ScoreUpdateHash(u model.ScoreUpdate) common.Hash {
	return SigningHash(ScoreUpdateDigest(u))
}

// BatchUpdateHash is the hash a signer signs for b.
func BatchUpdateHash(b model.BatchScoreUpdate) common.Hash {
	return SigningHash(BatchUpdateDigest(b))
}
