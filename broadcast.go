// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/test/broadcastLibrary.cc (bestEffortBroadcast, reliableBroadcastReceiveFrom)
//

package fabricnet

import "context"

// BestEffortBroadcast sends data to every peer handle in peers, in order,
// with [ConnectionlessEndpoint.TrySendTag] under [tagBroadcast]. The first
// send that reports an error stops the broadcast and that error is
// returned; a failed send is not retried. Origin correctness is assumed;
// redelivery dedup is the receivers' responsibility via
// [ReliableBroadcastReceiveFrom].
func BestEffortBroadcast(ctx context.Context, e *ConnectionlessEndpoint, peers []string, data []byte) error {
	for _, peer := range peers {
		for {
			ok, err := e.TrySendTag(peer, data, tagBroadcast)
			if err != nil {
				return err
			}
			if ok {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// BestEffortRecvFrom blocks in [ConnectionlessEndpoint.TryRecvTag] until a
// [tagBroadcast] message arrives from peer, returning the error of a
// failed post or completion without retrying.
func BestEffortRecvFrom(ctx context.Context, e *ConnectionlessEndpoint, peer string, buf []byte) error {
	for {
		ok, err := e.TryRecvTag(peer, buf, tagBroadcast)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ReliableBroadcastReceiveFrom receives one message from recvFrom, checks
// it against checkSeen, and, if unseen, re-broadcasts it to every other
// peer in peers before marking it seen. The reported bool is true
// only when this call performed the first delivery.
//
// Reliable broadcast is itself implemented as best-effort broadcast:
// origin is assumed correct, and redelivery suppression relies entirely
// on the caller-supplied checkSeen/markSeen pair.
func ReliableBroadcastReceiveFrom(
	ctx context.Context,
	e *ConnectionlessEndpoint,
	recvFrom string,
	peers []string,
	buf []byte,
	checkSeen func(buf []byte) bool,
	markSeen func(buf []byte),
) (firstDelivery bool, err error) {
	if err := BestEffortRecvFrom(ctx, e, recvFrom, buf); err != nil {
		return false, err
	}
	if checkSeen(buf) {
		return false, nil
	}

	remaining := make([]string, 0, len(peers))
	for _, peer := range peers {
		if peer != recvFrom {
			remaining = append(remaining, peer)
		}
	}
	if err := BestEffortBroadcast(ctx, e, remaining, buf); err != nil {
		return false, err
	}
	markSeen(buf)
	return true, nil
}
