package value

import (
	"bytes"
	"sync/atomic"

	"github.com/wippyai/fxn/errors"
)

// Flags control how constructors treat caller memory.
type Flags uint32

const (
	// FlagNone borrows the caller's buffer. It must outlive the value.
	FlagNone Flags = 0
	// CopyData copies the caller's buffer into memory owned by the value.
	CopyData Flags = 1
)

// Buffer is an ownership-qualified byte slice.
type Buffer struct {
	data     []byte
	owned    bool
	released atomic.Bool
}

// Owned returns a buffer holding a private copy of b.
func Owned(b []byte) *Buffer {
	return &Buffer{data: bytes.Clone(b), owned: true}
}

// Borrowed returns a buffer aliasing b. The caller keeps b alive and unmodified
// until the buffer is released.
func Borrowed(b []byte) *Buffer {
	return &Buffer{data: b}
}

func newBuffer(b []byte, flags Flags) *Buffer {
	if flags&CopyData != 0 {
		return Owned(b)
	}
	return Borrowed(b)
}

// Bytes returns the buffer's data.
func (b *Buffer) Bytes() ([]byte, error) {
	if b.released.Load() {
		return nil, errors.Released(errors.PhaseUnmarshal, "buffer")
	}
	return b.data, nil
}

// Len returns the byte length, or 0 after release.
func (b *Buffer) Len() int {
	if b.released.Load() {
		return 0
	}
	return len(b.data)
}

// Owned reports whether the buffer owns its memory.
func (b *Buffer) Owned() bool {
	return b.owned
}

// Release drops the buffer's reference to its memory.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return errors.Released(errors.PhaseMarshal, "buffer")
	}
	b.data = nil
	return nil
}

// Released reports whether Release was called.
func (b *Buffer) Released() bool {
	return b.released.Load()
}
