// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/include/networklayer/unique_buf.hh, shared_buf.hh
//

package fabricnet

import (
	"errors"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

// errOffsetOutOfRange reports an index or copy outside a [Buffer]'s bounds.
var errOffsetOutOfRange = errors.New("fabricnet: offset out of buffer range")

// Buffer is an owned byte region with optional registration metadata.
//
// Two variants satisfy this interface: [NewBuffer] returns a moveable,
// non-copyable, exclusively-owned buffer for single-threaded data paths;
// [NewSharedBuffer] returns a reference-counted buffer that [SharedBuffer.Clone]
// can hand to many connections concurrently, for broadcast patterns where no
// single connection is guaranteed to outlive the others.
//
// A Buffer becomes registered by being passed to [Connection.Register],
// which invokes its registration callback with the final remote-access key
// and provider descriptor.
type Buffer interface {
	// Size returns the buffer's fixed size in bytes.
	Size() int

	// IsRegistered reports whether a [Connection] has registered this buffer.
	IsRegistered() bool

	// Key returns the remote-access key, valid once IsRegistered is true.
	Key() uint64

	// Descriptor returns the provider-supplied local-access descriptor,
	// valid once IsRegistered is true.
	Descriptor() any

	// Get exposes the raw backing array, for interoperation with a
	// [FabricProvider].
	Get() []byte

	// CopyTo copies data into the buffer at offset.
	CopyTo(data []byte, offset int) (int, error)

	// CopyFrom copies len(dst) bytes out of the buffer starting at offset.
	CopyFrom(dst []byte, offset int) (int, error)

	// AssignString copies s plus a terminating zero byte into the buffer.
	AssignString(s string) error

	// registerCallback is invoked by a connection's memory-region registry
	// once the provider has assigned (or confirmed) key and descriptor.
	registerCallback(key uint64, descriptor any)
}

// bufferCell holds the registration bookkeeping shared by both Buffer
// variants in a single allocation, rather than the source's four
// separately-allocated atomics (refcount, registered flag, key,
// descriptor).
type bufferCell struct {
	data       []byte
	key        atomic.Uint64
	registered atomic.Bool
	descriptor atomic.Value
	refs       atomic.Int32
}

func newBufferCell(size int) *bufferCell {
	runtimex.Assert(size > 0)
	c := &bufferCell{data: make([]byte, size)}
	c.refs.Store(1)
	return c
}

func (c *bufferCell) registerCallback(key uint64, descriptor any) {
	c.key.Store(key)
	c.descriptor.Store(descriptor)
	c.registered.Store(true)
}

func (c *bufferCell) copyTo(data []byte, offset int) (int, error) {
	if offset < 0 || offset > len(c.data) {
		return 0, errOffsetOutOfRange
	}
	return copy(c.data[offset:], data), nil
}

func (c *bufferCell) copyFrom(dst []byte, offset int) (int, error) {
	if offset < 0 || offset > len(c.data) {
		return 0, errOffsetOutOfRange
	}
	return copy(dst, c.data[offset:]), nil
}

func (c *bufferCell) assignString(s string) error {
	raw := append([]byte(s), 0)
	if len(raw) > len(c.data) {
		return errOffsetOutOfRange
	}
	copy(c.data, raw)
	return nil
}

func (c *bufferCell) descriptorValue() any {
	v := c.descriptor.Load()
	return v
}

// ownedBuffer is the exclusively-owned [Buffer] variant. The zero value is
// not usable; construct via [NewBuffer].
type ownedBuffer struct {
	cell *bufferCell
}

// NewBuffer allocates an owned [Buffer] of the given size.
//
// Use [DefaultBufferSize] for the conventional 4096-byte size.
func NewBuffer(size int) Buffer {
	return &ownedBuffer{cell: newBufferCell(size)}
}

// DefaultBufferSize is the conventional [Buffer] size used by the examples
// and tests in the source material.
const DefaultBufferSize = 4096

var _ Buffer = &ownedBuffer{}

func (b *ownedBuffer) Size() int                { return len(b.cell.data) }
func (b *ownedBuffer) IsRegistered() bool        { return b.cell.registered.Load() }
func (b *ownedBuffer) Key() uint64               { return b.cell.key.Load() }
func (b *ownedBuffer) Descriptor() any           { return b.cell.descriptorValue() }
func (b *ownedBuffer) Get() []byte               { return b.cell.data }
func (b *ownedBuffer) CopyTo(data []byte, offset int) (int, error) {
	return b.cell.copyTo(data, offset)
}
func (b *ownedBuffer) CopyFrom(dst []byte, offset int) (int, error) {
	return b.cell.copyFrom(dst, offset)
}
func (b *ownedBuffer) AssignString(s string) error { return b.cell.assignString(s) }
func (b *ownedBuffer) registerCallback(key uint64, descriptor any) {
	b.cell.registerCallback(key, descriptor)
}

// sharedBuffer is the reference-counted [Buffer] variant. Construct via
// [NewSharedBuffer]; obtain additional owners via [SharedBuffer.Clone].
type sharedBuffer struct {
	cell *bufferCell
}

// SharedBuffer is the interface implemented by buffers created with
// [NewSharedBuffer], adding [SharedBuffer.Clone] and [SharedBuffer.Release]
// to the base [Buffer] contract.
type SharedBuffer interface {
	Buffer

	// Clone returns a new handle to the same underlying bytes, incrementing
	// the reference count. Safe to call from any goroutine.
	Clone() SharedBuffer

	// Release decrements the reference count. The underlying bytes remain
	// valid Go memory (the garbage collector reclaims them once every
	// handle is dropped) but callers must not assume a specific connection
	// still has an MR naming this buffer once Release has been called by
	// every holder; destruction must happen only after the owning
	// connection(s) have closed any MR naming the buffer.
	Release() (last bool)
}

// NewSharedBuffer allocates a reference-counted [SharedBuffer] of the given size.
func NewSharedBuffer(size int) SharedBuffer {
	return &sharedBuffer{cell: newBufferCell(size)}
}

var _ SharedBuffer = &sharedBuffer{}

func (b *sharedBuffer) Size() int        { return len(b.cell.data) }
func (b *sharedBuffer) IsRegistered() bool { return b.cell.registered.Load() }
func (b *sharedBuffer) Key() uint64       { return b.cell.key.Load() }
func (b *sharedBuffer) Descriptor() any   { return b.cell.descriptorValue() }
func (b *sharedBuffer) Get() []byte       { return b.cell.data }
func (b *sharedBuffer) CopyTo(data []byte, offset int) (int, error) {
	return b.cell.copyTo(data, offset)
}
func (b *sharedBuffer) CopyFrom(dst []byte, offset int) (int, error) {
	return b.cell.copyFrom(dst, offset)
}
func (b *sharedBuffer) AssignString(s string) error { return b.cell.assignString(s) }
func (b *sharedBuffer) registerCallback(key uint64, descriptor any) {
	b.cell.registerCallback(key, descriptor)
}

func (b *sharedBuffer) Clone() SharedBuffer {
	b.cell.refs.Add(1)
	return &sharedBuffer{cell: b.cell}
}

func (b *sharedBuffer) Release() (last bool) {
	return b.cell.refs.Add(-1) == 0
}
