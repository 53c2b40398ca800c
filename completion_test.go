// SPDX-License-Identifier: GPL-3.0-or-later

package fabricnet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCQ is a [CompletionQueue] stub that yields a scripted sequence of
// polls, used to exercise [drainCQ]'s retry and error-mapping behavior
// without a real transport.
type fakeCQ struct {
	polls []struct {
		entry CompletionEntry
		ok    bool
		err   error
	}
	i int
}

func (q *fakeCQ) Poll() (CompletionEntry, bool, error) {
	if q.i >= len(q.polls) {
		return CompletionEntry{}, false, nil
	}
	p := q.polls[q.i]
	q.i++
	return p.entry, p.ok, p.err
}

func (q *fakeCQ) Close() error { return nil }

func TestDrainCQImmediateSuccess(t *testing.T) {
	cq := &fakeCQ{polls: []struct {
		entry CompletionEntry
		ok    bool
		err   error
	}{
		{entry: CompletionEntry{N: 4}, ok: true},
	}}

	entry, ok, err := drainCQ(context.Background(), cq, false, "test")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, entry.N)
}

func TestDrainCQNonBlockingWouldBlock(t *testing.T) {
	cq := &fakeCQ{}
	_, ok, err := drainCQ(context.Background(), cq, false, "test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDrainCQReadError(t *testing.T) {
	cq := &fakeCQ{polls: []struct {
		entry CompletionEntry
		ok    bool
		err   error
	}{
		{err: errors.New("read failed")},
	}}

	_, _, err := drainCQ(context.Background(), cq, false, "test")
	require.Error(t, err)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, KindCompletionError, ferr.Kind)
}

func TestDrainCQEntryError(t *testing.T) {
	cq := &fakeCQ{polls: []struct {
		entry CompletionEntry
		ok    bool
		err   error
	}{
		{entry: CompletionEntry{Err: errors.New("provider error")}, ok: true},
	}}

	_, _, err := drainCQ(context.Background(), cq, false, "test")
	require.Error(t, err)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, KindCompletionError, ferr.Kind)
}

func TestDrainCQEntryErrorPreservesKind(t *testing.T) {
	cq := &fakeCQ{polls: []struct {
		entry CompletionEntry
		ok    bool
		err   error
	}{
		{entry: CompletionEntry{Err: newError(KindPermissionDenied, "softwareEndpoint.PostWrite", errors.New("denied"))}, ok: true},
	}}

	_, _, err := drainCQ(context.Background(), cq, false, "test")
	require.Error(t, err)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, KindPermissionDenied, ferr.Kind)
}

func TestDrainCQBlockingUntilContextDone(t *testing.T) {
	cq := &fakeCQ{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := drainCQ(ctx, cq, true, "test")
	require.Error(t, err)
}

func TestWaitForSendsDrainsToZero(t *testing.T) {
	cq := &fakeCQ{polls: []struct {
		entry CompletionEntry
		ok    bool
		err   error
	}{
		{entry: CompletionEntry{N: 1}, ok: true},
		{entry: CompletionEntry{N: 1}, ok: true},
	}}
	var counter atomic.Int64
	counter.Store(2)

	err := waitForSends(context.Background(), cq, &counter, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(0), counter.Load())
}

func TestTryWaitForSendsReportsNotDone(t *testing.T) {
	cq := &fakeCQ{}
	var counter atomic.Int64
	counter.Store(1)

	done, err := tryWaitForSends(cq, &counter, "test")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, int64(1), counter.Load())
}

func TestTryWaitForSendsAlreadyZero(t *testing.T) {
	cq := &fakeCQ{}
	var counter atomic.Int64

	done, err := tryWaitForSends(cq, &counter, "test")
	require.NoError(t, err)
	assert.True(t, done)
}
