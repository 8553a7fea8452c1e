// Package docmerge is the boundary to the document-update library. The
// gateway and store treat document state, updates, and state vectors as
// opaque bytes; a Merger knows how to combine them.
package docmerge

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Merger combines opaque document updates. Implementations must be safe
// for concurrent use; the store calls them while holding no locks of its
// own beyond the row it is writing.
type Merger interface {
	// ApplyUpdate folds one update into a state blob. A nil state is the
	// empty document.
	ApplyUpdate(state, update []byte) ([]byte, error)
	// Diff returns the updates the holder of stateVector is missing. A
	// nil or empty stateVector means "send everything".
	Diff(state, stateVector []byte) ([]byte, error)
	// StateVector summarizes a state blob for use in a later Diff.
	StateVector(state []byte) ([]byte, error)
}

var errCorruptState = errors.New("corrupt document state")

// LogMerger is the default Merger: state is the receipt-ordered sequence
// of updates, each length-prefixed with a uvarint, and a state vector is
// the uvarint count of updates already held. Convergence then follows
// from storage's append ordering; clients that need true CRDT semantics
// swap in a Merger backed by their document library.
type LogMerger struct{}

func NewLogMerger() LogMerger { return LogMerger{} }

func (LogMerger) ApplyUpdate(state, update []byte) ([]byte, error) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(update)))
	out := make([]byte, 0, len(state)+n+len(update))
	out = append(out, state...)
	out = append(out, buf[:n]...)
	out = append(out, update...)
	return out, nil
}

func (LogMerger) Diff(state, stateVector []byte) ([]byte, error) {
	have := uint64(0)
	if len(stateVector) > 0 {
		parsed, n := binary.Uvarint(stateVector)
		if n <= 0 {
			return nil, errors.New("corrupt state vector")
		}
		have = parsed
	}

	rest := state
	for i := uint64(0); i < have && len(rest) > 0; i++ {
		size, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest)-n) < size {
			return nil, errCorruptState
		}
		rest = rest[uint64(n)+size:]
	}
	missing := make([]byte, len(rest))
	copy(missing, rest)
	return missing, nil
}

func (LogMerger) StateVector(state []byte) ([]byte, error) {
	count := uint64(0)
	rest := state
	for len(rest) > 0 {
		size, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest)-n) < size {
			return nil, fmt.Errorf("%w at update %d", errCorruptState, count)
		}
		rest = rest[uint64(n)+size:]
		count++
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], count)
	return buf[:n], nil
}

// Updates splits a state blob back into its individual updates.
func Updates(state []byte) ([][]byte, error) {
	var updates [][]byte
	rest := state
	for len(rest) > 0 {
		size, n := binary.Uvarint(rest)
		if n <= 0 || uint64(len(rest)-n) < size {
			return nil, errCorruptState
		}
		updates = append(updates, rest[uint64(n):uint64(n)+size])
		rest = rest[uint64(n)+size:]
	}
	return updates, nil
}
