package distribution

import (
	"context"
	"errors"
)

// sliceIterator serves records from memory and can fire a hook after a given record.
type sliceIterator struct {
	records []RawRecord
	pos     int
	err     error
	// afterN runs once the Nth record (1-based) has been returned.
	afterN  int
	onAfter func()
	closed  bool
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.pos++
	if it.onAfter != nil && it.pos == it.afterN {
		it.onAfter()
	}
	return true
}

func (it *sliceIterator) Record() RawRecord { return it.records[it.pos-1] }
func (it *sliceIterator) Err() error        { return it.err }
func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}

type stubSource struct {
	it      *sliceIterator
	openErr error
	opens   int
}

func (s *stubSource) Open(context.Context) (RecordIterator, error) {
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.it, nil
}

func rec(identity string, amount uint64) RawRecord {
	return RawRecord{Identity: []byte(identity), Amount: amount}
}

var errDisk = errors.New("disk on fire")
