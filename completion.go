// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/include/networklayer/connection.hh (wait_for_counter, wait_send)
//

package fabricnet

import (
	"context"
	"runtime"
	"sync/atomic"
)

// drainCQ is the Completion Engine's uniform wait-on-completion-queue
// routine. It reads one entry from cq:
//
//   - On success, returns (entry, true, nil).
//   - On "would block": if blocking, it keeps polling; if not, it returns
//     (zero, false, nil) immediately ("retry").
//   - On a hard read error, it returns a [*Error] of [KindCompletionError]
//     wrapping the cause.
//   - On a provider error entry, it returns the entry's error unchanged if
//     it is already a [*Error] (e.g. [KindPermissionDenied]); otherwise a
//     [*Error] of [KindCompletionError] wrapping it.
func drainCQ(ctx context.Context, cq CompletionQueue, blocking bool, op string) (CompletionEntry, bool, error) {
	for {
		entry, ok, err := cq.Poll()
		if err != nil {
			return CompletionEntry{}, false, newError(KindCompletionError, op, err)
		}
		if ok {
			if entry.Err != nil {
				// A frame handler (e.g. a denied RMA op) may already have
				// classified the fault; preserve its Kind instead of
				// flattening every completion-side error to KindCompletionError.
				if typed, ok := entry.Err.(*Error); ok {
					return CompletionEntry{}, false, typed
				}
				return CompletionEntry{}, false, newError(KindCompletionError, op, entry.Err)
			}
			return entry, true, nil
		}
		if !blocking {
			return CompletionEntry{}, false, nil
		}
		select {
		case <-ctx.Done():
			return CompletionEntry{}, false, newError(KindCompletionError, op, ctx.Err())
		default:
			runtime.Gosched()
		}
	}
}

// waitForSends blocks until counter reaches zero, draining cq as
// completions arrive. Implements the Connection.WaitForSends half of
// outstanding-send tracking.
func waitForSends(ctx context.Context, cq CompletionQueue, counter *atomic.Int64, op string) error {
	for counter.Load() > 0 {
		_, ok, err := drainCQ(ctx, cq, true, op)
		if err != nil {
			return err
		}
		if ok {
			counter.Add(-1)
		}
	}
	return nil
}

// tryWaitForSends performs at most one non-blocking poll against cq,
// decrementing counter on a successful drain. Returns whether counter has
// reached zero.
func tryWaitForSends(cq CompletionQueue, counter *atomic.Int64, op string) (bool, error) {
	if counter.Load() == 0 {
		return true, nil
	}
	_, ok, err := drainCQ(context.Background(), cq, false, op)
	if err != nil {
		return false, err
	}
	if ok {
		counter.Add(-1)
	}
	return counter.Load() == 0, nil
}
