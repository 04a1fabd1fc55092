package repository

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/internal/domain/model"
)

// Key layout under a namespace ns:
//
//	ns/rec/<addr>            current record
//	ns/hist/<addr><seq>      prior records, seq is big-endian uint64
//	ns/hlen/<addr>           history length
//	ns/user/<seq>            enumerable user list
//	ns/meta/users            user list length
//	ns/flag/<table>/<addr>   authorization tables, present means true
//	ns/ctr/<table>/<addr>    counters (nonces)
//	ns/mark/<table>/<hash>   consumed digests
//	ns/ptr/<name>            single address pointers (owner, primary signer)
const (
	segRecord  = "rec/"
	segHistory = "hist/"
	segHistLen = "hlen/"
	segUser    = "user/"
	segUsers   = "meta/users"
	segFlag    = "flag/"
	segCounter = "ctr/"
	segMark    = "mark/"
	segPointer = "ptr/"
)

var present = []byte{1}

// State is a typed view of one component's keys on a shared KV.
type State struct {
	kv KV
	ns []byte
}

// NewState scopes kv to namespace.
func NewState(kv KV, namespace string) *State {
	return &State{kv: kv, ns: []byte(namespace + "/")}
}

func (s *State) key(parts ...[]byte) []byte {
	k := append([]byte(nil), s.ns...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// Record returns the current record and whether one exists.
func (s *State) Record(ctx context.Context, subject common.Address) (model.ScoreRecord, bool, error) {
	return s.Begin().Record(ctx, subject)
}

// History returns prior records of subject, oldest first.
func (s *State) History(ctx context.Context, subject common.Address) ([]model.ScoreRecord, error) {
	var out []model.ScoreRecord
	err := s.kv.IteratePrefix(ctx, s.key([]byte(segHistory), subject.Bytes()), func(_, value []byte) error {
		r, err := decodeRecord(value)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

// UserCount returns the number of subjects ever scored.
func (s *State) UserCount(ctx context.Context) (uint64, error) {
	return s.Begin().UserCount(ctx)
}

// UserAt returns the index-th registered subject.
func (s *State) UserAt(ctx context.Context, index uint64) (common.Address, bool, error) {
	b, err := s.kv.Get(ctx, s.key([]byte(segUser), encodeUint(index)))
	if err != nil || b == nil {
		return common.Address{}, false, err
	}
	return common.BytesToAddress(b), true, nil
}

// Users returns every registered subject in registration order.
func (s *State) Users(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	err := s.kv.IteratePrefix(ctx, s.key([]byte(segUser)), func(_, value []byte) error {
		out = append(out, common.BytesToAddress(value))
		return nil
	})
	return out, err
}

// Flag reports whether account is set in table.
func (s *State) Flag(ctx context.Context, table string, account common.Address) (bool, error) {
	return s.Begin().Flag(ctx, table, account)
}

// Flagged lists the accounts set in table.
func (s *State) Flagged(ctx context.Context, table string) ([]common.Address, error) {
	prefix := s.key([]byte(segFlag + table + "/"))
	var out []common.Address
	err := s.kv.IteratePrefix(ctx, prefix, func(key, _ []byte) error {
		out = append(out, common.BytesToAddress(key[len(prefix):]))
		return nil
	})
	return out, err
}

// Counter returns the counter of account in table, zero when unset.
func (s *State) Counter(ctx context.Context, table string, account common.Address) (uint64, error) {
	return s.Begin().Counter(ctx, table, account)
}

// Marked reports whether hash is recorded in table.
func (s *State) Marked(ctx context.Context, table string, hash common.Hash) (bool, error) {
	return s.Begin().Marked(ctx, table, hash)
}

// Pointer returns the address stored under name.
func (s *State) Pointer(ctx context.Context, name string) (common.Address, bool, error) {
	return s.Begin().Pointer(ctx, name)
}

// Begin starts a write transaction. Reads through the Tx see its own pending writes.
// A Tx is not safe for concurrent use; callers serialize with their own lock.
func (s *State) Begin() *Tx {
	return &Tx{s: s, pending: make(map[string][]byte)}
}

// Tx buffers writes and commits them in one atomic batch.
type Tx struct {
	s       *State
	pending map[string][]byte
	order   []string
}

func (t *Tx) get(ctx context.Context, key []byte) ([]byte, error) {
	if v, ok := t.pending[string(key)]; ok {
		return v, nil
	}
	return t.s.kv.Get(ctx, key)
}

func (t *Tx) put(key, value []byte) {
	k := string(key)
	if _, ok := t.pending[k]; !ok {
		t.order = append(t.order, k)
	}
	t.pending[k] = value
}

// Record reads the current record of subject.
func (t *Tx) Record(ctx context.Context, subject common.Address) (model.ScoreRecord, bool, error) {
	b, err := t.get(ctx, t.s.key([]byte(segRecord), subject.Bytes()))
	if err != nil || b == nil {
		return model.ScoreRecord{}, false, err
	}
	r, err := decodeRecord(b)
	if err != nil {
		return model.ScoreRecord{}, false, err
	}
	return r, true, nil
}

// PutRecord replaces the current record of subject.
func (t *Tx) PutRecord(subject common.Address, r model.ScoreRecord) error {
	b, err := encodeRecord(r)
	if err != nil {
		return err
	}
	t.put(t.s.key([]byte(segRecord), subject.Bytes()), b)
	return nil
}

// AppendHistory pushes r onto subject's history log.
func (t *Tx) AppendHistory(ctx context.Context, subject common.Address, r model.ScoreRecord) error {
	lenKey := t.s.key([]byte(segHistLen), subject.Bytes())
	b, err := t.get(ctx, lenKey)
	if err != nil {
		return err
	}
	n, err := decodeUint(b)
	if err != nil {
		return err
	}
	enc, err := encodeRecord(r)
	if err != nil {
		return err
	}
	t.put(t.s.key([]byte(segHistory), subject.Bytes(), encodeUint(n)), enc)
	t.put(lenKey, encodeUint(n+1))
	return nil
}

// UserCount reads the user list length.
func (t *Tx) UserCount(ctx context.Context) (uint64, error) {
	b, err := t.get(ctx, t.s.key([]byte(segUsers)))
	if err != nil {
		return 0, err
	}
	return decodeUint(b)
}

// AppendUser adds subject to the user list.
func (t *Tx) AppendUser(ctx context.Context, subject common.Address) error {
	n, err := t.UserCount(ctx)
	if err != nil {
		return err
	}
	t.put(t.s.key([]byte(segUser), encodeUint(n)), subject.Bytes())
	t.put(t.s.key([]byte(segUsers)), encodeUint(n+1))
	return nil
}

// Flag reads an authorization table entry.
func (t *Tx) Flag(ctx context.Context, table string, account common.Address) (bool, error) {
	b, err := t.get(ctx, t.s.key([]byte(segFlag + table + "/"), account.Bytes()))
	if err != nil {
		return false, err
	}
	return bytes.Equal(b, present), nil
}

// SetFlag writes an authorization table entry. false deletes the key.
func (t *Tx) SetFlag(table string, account common.Address, enabled bool) {
	var v []byte
	if enabled {
		v = present
	}
	t.put(t.s.key([]byte(segFlag + table + "/"), account.Bytes()), v)
}

// Counter reads a counter.
func (t *Tx) Counter(ctx context.Context, table string, account common.Address) (uint64, error) {
	b, err := t.get(ctx, t.s.key([]byte(segCounter+table+"/"), account.Bytes()))
	if err != nil {
		return 0, err
	}
	return decodeUint(b)
}

// SetCounter writes a counter.
func (t *Tx) SetCounter(table string, account common.Address, v uint64) {
	t.put(t.s.key([]byte(segCounter+table+"/"), account.Bytes()), encodeUint(v))
}

// Marked reads a consumed-digest entry.
func (t *Tx) Marked(ctx context.Context, table string, hash common.Hash) (bool, error) {
	b, err := t.get(ctx, t.s.key([]byte(segMark+table+"/"), hash.Bytes()))
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// Mark records hash in table.
func (t *Tx) Mark(table string, hash common.Hash) {
	t.put(t.s.key([]byte(segMark+table+"/"), hash.Bytes()), present)
}

// Pointer reads a named address.
func (t *Tx) Pointer(ctx context.Context, name string) (common.Address, bool, error) {
	b, err := t.get(ctx, t.s.key([]byte(segPointer+name)))
	if err != nil || b == nil {
		return common.Address{}, false, err
	}
	return common.BytesToAddress(b), true, nil
}

// SetPointer writes a named address.
func (t *Tx) SetPointer(name string, addr common.Address) {
	t.put(t.s.key([]byte(segPointer+name)), addr.Bytes())
}

// Len returns the number of buffered writes.
func (t *Tx) Len() int { return len(t.order) }

// Commit applies every buffered write atomically. An empty Tx is a no-op.
func (t *Tx) Commit(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}
	writes := make([]Write, len(t.order))
	for i, k := range t.order {
		writes[i] = Write{Key: []byte(k), Value: t.pending[k]}
	}
	if err := t.s.kv.Apply(ctx, writes); err != nil {
		return fmt.Errorf("commit %d writes: %w", len(writes), err)
	}
	return nil
}
