package repository

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nikhlu07/Credo/internal/domain/model"
)

// storedRecord is the RLP shape of model.ScoreRecord.
type storedRecord struct {
	Score       uint64
	Version     uint64
	LastUpdated uint64
	Active      bool
	UpdatedBy   common.Address
}

func encodeRecord(r model.ScoreRecord) ([]byte, error) {
	b, err := rlp.EncodeToBytes(storedRecord{
		Score:       r.Score,
		Version:     r.Version,
		LastUpdated: uint64(r.LastUpdated.Unix()),
		Active:      r.Active,
		UpdatedBy:   r.UpdatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

func decodeRecord(b []byte) (model.ScoreRecord, error) {
	var s storedRecord
	if err := rlp.DecodeBytes(b, &s); err != nil {
		return model.ScoreRecord{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return model.ScoreRecord{
		Score:       s.Score,
		Version:     s.Version,
		LastUpdated: time.Unix(int64(s.LastUpdated), 0).UTC(),
		Active:      s.Active,
		UpdatedBy:   s.UpdatedBy,
	}, nil
}

func encodeUint(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeUint(b []byte) (uint64, error) {
	if b == nil {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: counter of %d bytes", ErrCorrupt, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
