// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: common/include/RPC.hh, fabricBased/include/fabricBased.hh (FabricRPC, FabricRPClient)
//

package fabricnet

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

// RPCHandler answers one RPC call with its argument bytes, returning the
// reply bytes. Function id 0 is reserved: registering it is a
// programming error caught by [RPCServer.Register]'s assertion.
type RPCHandler func(arg []byte) []byte

// RPCServer dispatches function-id-addressed calls arriving over a
// connectionless address vector. Each request embeds the caller's
// own address; the server inserts it as a per-request peer handle, replies,
// then removes it; no separate handshake step is used, unlike
// [ConnectionlessEndpoint].
type RPCServer struct {
	cfg      *Config
	av       AddressVector
	handlers map[uint64]RPCHandler
	logger   SLogger
	spanID   string
	done     atomic.Bool
}

// NewRPCServer constructs an [RPCServer] bound to localAddr (empty string
// for an ephemeral port), with function id 0 pre-registered to set the
// shutdown flag and echo its argument back.
func NewRPCServer(ctx context.Context, cfg *Config, localAddr string) (*RPCServer, error) {
	runtimex.Assert(cfg != nil)
	provider, err := cfg.NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	av, err := provider.NewAddressVector(ctx, localAddr)
	if err != nil {
		return nil, err
	}
	s := &RPCServer{
		cfg:      cfg,
		av:       av,
		handlers: make(map[uint64]RPCHandler),
		logger:   cfg.Logger,
		spanID:   NewSpanID(),
	}
	s.handlers[0] = func(arg []byte) []byte {
		s.done.Store(true)
		return arg
	}
	return s, nil
}

// LocalAddress returns this server's own opaque address bytes, for callers
// to hand to clients out of band.
func (s *RPCServer) LocalAddress() []byte { return s.av.LocalAddress() }

// Register installs fn under fnID. Registering fnID 0, or an id already
// registered, is a setup-time programming error and panics.
func (s *RPCServer) Register(fnID uint64, fn RPCHandler) {
	runtimex.Assert(fnID != 0)
	_, exists := s.handlers[fnID]
	runtimex.Assert(!exists)
	s.handlers[fnID] = fn
}

// Start runs the server loop until fnID 0 is invoked or ctx is
// done. A runtime request naming an unregistered fnID is untrusted network
// input, not a programming error, so it returns a [*Error] of
// [KindHandlerMissing] rather than panicking.
func (s *RPCServer) Start(ctx context.Context) error {
	buf := make([]byte, s.cfg.MaxMsgSize)
	reply := make([]byte, s.cfg.MaxMsgSize)

	for !s.done.Load() {
		if err := s.av.PostRecvAny(buf, tagApplication); err != nil {
			return err
		}
		if _, _, err := drainCQ(ctx, s.av.CQ(), true, "RPCServer.Start"); err != nil {
			return err
		}

		clientAddr, header, arg, err := decodeRPCRequest(buf)
		if err != nil {
			return newError(KindConnectRejected, "RPCServer.Start", err)
		}

		handle, err := s.av.Insert(clientAddr)
		if err != nil {
			return err
		}

		handler, ok := s.handlers[header.fnID]
		if !ok {
			return newError(KindHandlerMissing, "RPCServer.Start",
				fmt.Errorf("fabricnet: unregistered function id %d", header.fnID))
		}

		result := handler(arg)
		n := encodeRPCReply(reply, result)

		if err := s.av.PostSend(handle, reply[:n], tagApplication); err != nil {
			return err
		}
		if _, _, err := drainCQ(ctx, s.av.CQ(), true, "RPCServer.Start"); err != nil {
			return err
		}

		if err := s.av.Remove(handle); err != nil {
			return err
		}

		s.logger.Info("fabricnet: rpc call served", "spanID", s.spanID, "fnID", header.fnID)
	}
	return nil
}

// Close tears down the underlying address vector.
func (s *RPCServer) Close() error { return s.av.Close() }

// rpcHeader is the fixed-layout function id + argument size pair.
type rpcHeader struct {
	fnID    uint64
	argSize uint64
}

// decodeRPCRequest parses the wire format:
// [client_addrlen:8LE][client_addr][fn_id:8LE][arg_size:8LE][arg_bytes].
func decodeRPCRequest(buf []byte) (clientAddr []byte, header rpcHeader, arg []byte, err error) {
	if len(buf) < 8 {
		return nil, rpcHeader{}, nil, errTruncatedAddress
	}
	addrLen := binary.LittleEndian.Uint64(buf[:8])
	if uint64(len(buf)-8) < addrLen {
		return nil, rpcHeader{}, nil, errTruncatedAddress
	}
	clientAddr = buf[8 : 8+addrLen]
	rest := buf[8+addrLen:]
	if len(rest) < 16 {
		return nil, rpcHeader{}, nil, errTruncatedAddress
	}
	header.fnID = binary.LittleEndian.Uint64(rest[:8])
	header.argSize = binary.LittleEndian.Uint64(rest[8:16])
	if uint64(len(rest)-16) < header.argSize {
		return nil, rpcHeader{}, nil, errTruncatedAddress
	}
	arg = rest[16 : 16+header.argSize]
	return clientAddr, header, arg, nil
}

// encodeRPCRequest writes [client_addrlen][client_addr][fn_id][arg_size][arg]
// into dst, returning the number of bytes used.
func encodeRPCRequest(dst []byte, clientAddr []byte, fnID uint64, arg []byte) int {
	binary.LittleEndian.PutUint64(dst[:8], uint64(len(clientAddr)))
	off := 8
	off += copy(dst[off:], clientAddr)
	binary.LittleEndian.PutUint64(dst[off:off+8], fnID)
	binary.LittleEndian.PutUint64(dst[off+8:off+16], uint64(len(arg)))
	off += 16
	off += copy(dst[off:], arg)
	return off
}

// encodeRPCReply writes [reply_size:8LE][reply_bytes] into dst.
func encodeRPCReply(dst []byte, reply []byte) int {
	binary.LittleEndian.PutUint64(dst[:8], uint64(len(reply)))
	return 8 + copy(dst[8:], reply)
}

// decodeRPCReply parses [reply_size:8LE][reply_bytes] from buf.
func decodeRPCReply(buf []byte) ([]byte, error) {
	if len(buf) < 8 {
		return nil, errTruncatedAddress
	}
	size := binary.LittleEndian.Uint64(buf[:8])
	if uint64(len(buf)-8) < size {
		return nil, errTruncatedAddress
	}
	return buf[8 : 8+size], nil
}

// RPCClient calls functions registered on one [RPCServer].
type RPCClient struct {
	cfg          *Config
	av           AddressVector
	serverHandle string
	logger       SLogger
	spanID       string
}

// NewRPCClient constructs an [RPCClient] bound to an ephemeral local port
// and resolves serverAddress into its address vector.
func NewRPCClient(ctx context.Context, cfg *Config, serverAddress string) (*RPCClient, error) {
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
	return &RPCClient{
		cfg:          cfg,
		av:           av,
		serverHandle: handle,
		logger:       cfg.Logger,
		spanID:       NewSpanID(),
	}, nil
}

// CallRemote formats the request, posts the send, waits for transmit
// completion, posts the receive, waits for receive completion, and
// returns the deserialized reply.
func (c *RPCClient) CallRemote(ctx context.Context, fnID uint64, arg []byte) ([]byte, error) {
	localAddr := c.av.LocalAddress()
	reqSize := 8 + len(localAddr) + 16 + len(arg)
	if reqSize > c.cfg.MaxMsgSize {
		return nil, newError(KindMessageTooLarge, "RPCClient.CallRemote", nil)
	}
	req := make([]byte, reqSize)
	n := encodeRPCRequest(req, localAddr, fnID, arg)

	if err := c.av.PostSend(c.serverHandle, req[:n], tagApplication); err != nil {
		return nil, err
	}
	if _, _, err := drainCQ(ctx, c.av.CQ(), true, "RPCClient.CallRemote"); err != nil {
		return nil, err
	}

	reply := make([]byte, c.cfg.MaxMsgSize)
	if err := c.av.PostRecvFrom(c.serverHandle, reply, tagApplication); err != nil {
		return nil, err
	}
	if _, _, err := drainCQ(ctx, c.av.CQ(), true, "RPCClient.CallRemote"); err != nil {
		return nil, err
	}

	result, err := decodeRPCReply(reply)
	if err != nil {
		return nil, newError(KindConnectRejected, "RPCClient.CallRemote", err)
	}
	c.logger.Info("fabricnet: rpc call completed", "spanID", c.spanID, "fnID", fnID)
	return result, nil
}

// Shutdown calls the reserved fnID 0, instructing the server to stop its loop.
func (c *RPCClient) Shutdown(ctx context.Context) error {
	_, err := c.CallRemote(ctx, 0, nil)
	return err
}

// Close tears down the underlying address vector.
func (c *RPCClient) Close() error { return c.av.Close() }
