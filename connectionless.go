// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/include/networklayer/connectionless.hh (ConnectionlessClient, ConnectionlessServer)
//

package fabricnet

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/bassosimone/runtimex"
)

// Tag values used by the connectionless engine's tagged datagrams.
const (
	tagHandshake   uint64 = 1
	tagApplication uint64 = 2
	tagBroadcast   uint64 = 3
)

// connectionlessRole distinguishes which half of the handshake a
// [ConnectionlessEndpoint] plays.
type connectionlessRole int

const (
	connectionlessClient connectionlessRole = iota
	connectionlessServer
)

// ConnectionlessEndpoint is a connectionless, tagged-datagram engine built
// on an [AddressVector]. A client-role endpoint already knows its
// single peer (the server address passed to [NewConnectionlessClient]); a
// server-role endpoint discovers peers as they complete the handshake.
type ConnectionlessEndpoint struct {
	cfg    *Config
	role   connectionlessRole
	av     AddressVector
	logger SLogger
	spanID string

	// serverHandle is the AV handle for the configured peer, populated at
	// construction time for connectionlessClient only.
	serverHandle string
}

// NewConnectionlessClient constructs a client-role [ConnectionlessEndpoint]
// bound to an ephemeral local port, with serverAddress already inserted
// into its address vector (mirroring the source material's constructor,
// which resolves and inserts the destination before any I/O happens).
func NewConnectionlessClient(ctx context.Context, cfg *Config, serverAddress string) (*ConnectionlessEndpoint, error) {
	runtimex.Assert(cfg != nil)
	provider, err := cfg.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	av, err := provider.NewAddressVector(ctx, "")
	if err != nil {
		return nil, err
	}
	handle, err := av.Insert([]byte(serverAddress))
	if err != nil {
		return nil, err
	}
	return &ConnectionlessEndpoint{
		cfg:          cfg,
		role:         connectionlessClient,
		av:           av,
		logger:       cfg.Logger,
		spanID:       NewSpanID(),
		serverHandle: handle,
	}, nil
}

// NewConnectionlessServer constructs a server-role [ConnectionlessEndpoint]
// bound to localAddr (empty string for an ephemeral port on every
// interface), ready to accept handshakes from any client.
func NewConnectionlessServer(ctx context.Context, cfg *Config, localAddr string) (*ConnectionlessEndpoint, error) {
	runtimex.Assert(cfg != nil)
	provider, err := cfg.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	av, err := provider.NewAddressVector(ctx, localAddr)
	if err != nil {
		return nil, err
	}
	return &ConnectionlessEndpoint{
		cfg:    cfg,
		role:   connectionlessServer,
		av:     av,
		logger: cfg.Logger,
		spanID: NewSpanID(),
	}, nil
}

// LocalAddress returns this endpoint's own opaque address bytes.
func (e *ConnectionlessEndpoint) LocalAddress() []byte { return e.av.LocalAddress() }

func encodeAddress(addr []byte) []byte {
	buf := make([]byte, 8+len(addr))
	binary.LittleEndian.PutUint64(buf[:8], uint64(len(addr)))
	copy(buf[8:], addr)
	return buf
}

var errTruncatedAddress = errors.New("fabricnet: truncated address in handshake payload")

func decodeAddress(buf []byte) ([]byte, error) {
	if len(buf) < 8 {
		return nil, errTruncatedAddress
	}
	n := binary.LittleEndian.Uint64(buf[:8])
	if uint64(len(buf)-8) < n {
		return nil, errTruncatedAddress
	}
	return buf[8 : 8+n], nil
}

// Connect performs the client half of the handshake: send
// this endpoint's own address to the configured server, tagged
// [tagHandshake], and block for the send to complete. buf must be at
// least 8+len(LocalAddress()) bytes.
func (e *ConnectionlessEndpoint) Connect(ctx context.Context, buf []byte) error {
	runtimex.Assert(e.role == connectionlessClient)
	payload := encodeAddress(e.LocalAddress())
	n := copy(buf, payload)
	if n < len(payload) {
		return newError(KindMessageTooLarge, "ConnectionlessEndpoint.Connect", nil)
	}
	if err := e.av.PostSend(e.serverHandle, buf[:n], tagHandshake); err != nil {
		return err
	}
	_, _, err := drainCQ(ctx, e.av.CQ(), true, "ConnectionlessEndpoint.Connect")
	return err
}

// AsyncConnect posts the client handshake send without blocking; pair
// with [ConnectionlessEndpoint.WaitConnect].
func (e *ConnectionlessEndpoint) AsyncConnect(buf []byte) error {
	runtimex.Assert(e.role == connectionlessClient)
	payload := encodeAddress(e.LocalAddress())
	n := copy(buf, payload)
	if n < len(payload) {
		return newError(KindMessageTooLarge, "ConnectionlessEndpoint.AsyncConnect", nil)
	}
	return e.av.PostSend(e.serverHandle, buf[:n], tagHandshake)
}

// WaitConnect blocks for the handshake send posted by
// [ConnectionlessEndpoint.AsyncConnect] to complete.
func (e *ConnectionlessEndpoint) WaitConnect(ctx context.Context) error {
	_, _, err := drainCQ(ctx, e.av.CQ(), true, "ConnectionlessEndpoint.WaitConnect")
	return err
}

// Accept performs the server half of the handshake: wait for
// a tag-1 datagram from any source, decode the sender's self-reported
// address, and insert it into the address vector. Returns the peer handle
// for subsequent [ConnectionlessEndpoint.Send]/[ConnectionlessEndpoint.Recv] calls.
func (e *ConnectionlessEndpoint) Accept(ctx context.Context, buf []byte) (string, error) {
	runtimex.Assert(e.role == connectionlessServer)
	if err := e.av.PostRecvAny(buf, tagHandshake); err != nil {
		return "", err
	}
	if _, _, err := drainCQ(ctx, e.av.CQ(), true, "ConnectionlessEndpoint.Accept"); err != nil {
		return "", err
	}
	addr, err := decodeAddress(buf)
	if err != nil {
		return "", newError(KindConnectRejected, "ConnectionlessEndpoint.Accept", err)
	}
	handle, err := e.av.Insert(addr)
	if err != nil {
		return "", err
	}
	e.logger.Info("fabricnet: connectionless handshake accepted", "spanID", e.spanID, "peer", handle)
	return handle, nil
}

// AsyncAccept posts the tag-1 receive without blocking; pair with
// [ConnectionlessEndpoint.WaitAccept].
func (e *ConnectionlessEndpoint) AsyncAccept(buf []byte) error {
	runtimex.Assert(e.role == connectionlessServer)
	return e.av.PostRecvAny(buf, tagHandshake)
}

// WaitAccept blocks for the handshake receive posted by
// [ConnectionlessEndpoint.AsyncAccept], then inserts the peer as
// [ConnectionlessEndpoint.Accept] does.
func (e *ConnectionlessEndpoint) WaitAccept(ctx context.Context, buf []byte) (string, error) {
	if _, _, err := drainCQ(ctx, e.av.CQ(), true, "ConnectionlessEndpoint.WaitAccept"); err != nil {
		return "", err
	}
	addr, err := decodeAddress(buf)
	if err != nil {
		return "", newError(KindConnectRejected, "ConnectionlessEndpoint.WaitAccept", err)
	}
	return e.av.Insert(addr)
}

// Send posts a tag-2 application send to handle and blocks for completion.
func (e *ConnectionlessEndpoint) Send(ctx context.Context, handle string, data []byte) error {
	return e.sendTag(ctx, handle, data, tagApplication)
}

// Recv posts a tag-2 application receive matched to handle and blocks for completion.
func (e *ConnectionlessEndpoint) Recv(ctx context.Context, handle string, buf []byte) error {
	return e.recvTag(ctx, handle, buf, tagApplication)
}

// TrySendTag posts a tagged send, exported for [BestEffortBroadcast] and
// friends, which need tag 3 rather than the application tag 2. If the post
// itself fails, it returns false immediately; otherwise it blocks for the
// completion, same as sendTag.
func (e *ConnectionlessEndpoint) TrySendTag(handle string, data []byte, tag uint64) (bool, error) {
	if err := e.av.PostSend(handle, data, tag); err != nil {
		return false, err
	}
	if _, _, err := drainCQ(context.Background(), e.av.CQ(), true, "ConnectionlessEndpoint.TrySendTag"); err != nil {
		return false, err
	}
	return true, nil
}

// TryRecvTag posts a tagged receive matched to handle. If the post itself
// fails, it returns false immediately; otherwise it blocks for the
// completion, same as recvTag.
func (e *ConnectionlessEndpoint) TryRecvTag(handle string, buf []byte, tag uint64) (bool, error) {
	if err := e.av.PostRecvFrom(handle, buf, tag); err != nil {
		return false, err
	}
	if _, _, err := drainCQ(context.Background(), e.av.CQ(), true, "ConnectionlessEndpoint.TryRecvTag"); err != nil {
		return false, err
	}
	return true, nil
}

func (e *ConnectionlessEndpoint) sendTag(ctx context.Context, handle string, data []byte, tag uint64) error {
	if len(data) > e.cfg.MaxMsgSize {
		return newError(KindMessageTooLarge, "ConnectionlessEndpoint.sendTag", nil)
	}
	if err := e.av.PostSend(handle, data, tag); err != nil {
		return err
	}
	_, _, err := drainCQ(ctx, e.av.CQ(), true, "ConnectionlessEndpoint.sendTag")
	return err
}

func (e *ConnectionlessEndpoint) recvTag(ctx context.Context, handle string, buf []byte, tag uint64) error {
	if err := e.av.PostRecvFrom(handle, buf, tag); err != nil {
		return err
	}
	_, _, err := drainCQ(ctx, e.av.CQ(), true, "ConnectionlessEndpoint.recvTag")
	return err
}

// Remove drops a previously inserted peer handle from the address vector.
func (e *ConnectionlessEndpoint) Remove(handle string) error {
	return e.av.Remove(handle)
}

// Close tears down the underlying address vector.
func (e *ConnectionlessEndpoint) Close() error {
	return e.av.Close()
}
