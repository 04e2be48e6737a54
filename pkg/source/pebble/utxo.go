// Package pebble reads the node's UTXO set out of a consensus store kept in Pebble.
package pebble

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"

	"github.com/canopy-network/utxo-exporter/pkg/distribution"
)

// UTXOPrefix is the key prefix of UTXO set entries; keys are UTXOPrefix || outpoint.
const UTXOPrefix byte = 0x01

// entry header: amount u64 | daa score u64 | coinbase u8 | script version u16 | script len u32
const headerLen = 8 + 8 + 1 + 2 + 4

// ErrCorruptEntry reports a UTXO value that does not decode.
var ErrCorruptEntry = errors.New("corrupt utxo entry")

// UTXOEntry is a decoded UTXO set value.
type UTXOEntry struct {
	Amount        uint64
	DAAScore      uint64
	IsCoinbase    bool
	ScriptVersion uint16
	Script        []byte
}

// DecodeEntry decodes a value. Script aliases value.
func DecodeEntry(value []byte) (UTXOEntry, error) {
	if len(value) < headerLen {
		return UTXOEntry{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrCorruptEntry, len(value), headerLen)
	}
	e := UTXOEntry{
		Amount:        binary.LittleEndian.Uint64(value[0:8]),
		DAAScore:      binary.LittleEndian.Uint64(value[8:16]),
		IsCoinbase:    value[16] != 0,
		ScriptVersion: binary.LittleEndian.Uint16(value[17:19]),
	}
	scriptLen := binary.LittleEndian.Uint32(value[19:23])
	if uint64(len(value)-headerLen) != uint64(scriptLen) {
		return UTXOEntry{}, fmt.Errorf("%w: script length %d, %d bytes left", ErrCorruptEntry, scriptLen, len(value)-headerLen)
	}
	e.Script = value[headerLen:]
	return e, nil
}

// EncodeEntry is the inverse of DecodeEntry.
func EncodeEntry(e UTXOEntry) []byte {
	buf := make([]byte, headerLen+len(e.Script))
	binary.LittleEndian.PutUint64(buf[0:8], e.Amount)
	binary.LittleEndian.PutUint64(buf[8:16], e.DAAScore)
	if e.IsCoinbase {
		buf[16] = 1
	}
	binary.LittleEndian.PutUint16(buf[17:19], e.ScriptVersion)
	binary.LittleEndian.PutUint32(buf[19:23], uint32(len(e.Script)))
	copy(buf[headerLen:], e.Script)
	return buf
}

// UTXOIterator walks the UTXO set of a read-only Pebble store.
type UTXOIterator struct {
	db   *pebble.DB
	iter *pebble.Iterator

	started bool
	record  distribution.RawRecord
	err     error
}

// Open opens dir read-only and positions an iterator over the UTXO key range.
// The store must already exist; a missing store is an error.
func Open(dir string) (*UTXOIterator, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		ReadOnly:         true,
		ErrorIfNotExists: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble store %s: %w", dir, err)
	}

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{UTXOPrefix},
		UpperBound: []byte{UTXOPrefix + 1},
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create utxo iterator: %w", err)
	}
	return &UTXOIterator{db: db, iter: iter}, nil
}

func (it *UTXOIterator) Next() bool {
	if it.err != nil {
		return false
	}

	var valid bool
	if !it.started {
		it.started = true
		valid = it.iter.First()
	} else {
		valid = it.iter.Next()
	}
	if !valid {
		it.err = it.iter.Error()
		return false
	}

	value, err := it.iter.ValueAndErr()
	if err != nil {
		it.err = err
		return false
	}
	entry, err := DecodeEntry(value)
	if err != nil {
		it.err = fmt.Errorf("key %x: %w", it.iter.Key(), err)
		return false
	}
	it.record = distribution.RawRecord{Identity: entry.Script, Amount: entry.Amount}
	return true
}

func (it *UTXOIterator) Record() distribution.RawRecord { return it.record }

func (it *UTXOIterator) Err() error { return it.err }

// Close releases the iterator and the store. Safe to call more than once.
func (it *UTXOIterator) Close() error {
	var errs []error
	if it.iter != nil {
		errs = append(errs, it.iter.Close())
		it.iter = nil
	}
	if it.db != nil {
		errs = append(errs, it.db.Close())
		it.db = nil
	}
	return errors.Join(errs...)
}
