// SPDX-License-Identifier: GPL-3.0-or-later

package fabricnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnedBufferCopyRoundtrip(t *testing.T) {
	buf := NewBuffer(16)
	assert.Equal(t, 16, buf.Size())
	assert.False(t, buf.IsRegistered())

	n, err := buf.CopyTo([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	out := make([]byte, 5)
	n, err = buf.CopyFrom(out, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(out))
}

func TestBufferCopyOutOfRange(t *testing.T) {
	buf := NewBuffer(4)
	_, err := buf.CopyTo([]byte("x"), 100)
	assert.ErrorIs(t, err, errOffsetOutOfRange)
}

func TestBufferAssignString(t *testing.T) {
	buf := NewBuffer(8)
	require.NoError(t, buf.AssignString("hi"))
	assert.Equal(t, byte(0), buf.Get()[2])

	err := buf.AssignString("waytoolongforthisbuffer")
	assert.ErrorIs(t, err, errOffsetOutOfRange)
}

func TestBufferRegistrationCallback(t *testing.T) {
	buf := NewBuffer(8)
	buf.registerCallback(42, "descriptor")
	assert.True(t, buf.IsRegistered())
	assert.Equal(t, uint64(42), buf.Key())
	assert.Equal(t, "descriptor", buf.Descriptor())
}

func TestSharedBufferCloneAndRelease(t *testing.T) {
	buf := NewSharedBuffer(8)
	clone := buf.Clone()

	assert.False(t, buf.Release())
	assert.True(t, clone.Release())
}
