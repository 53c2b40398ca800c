// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/include/networklayer/connection.hh
//

package fabricnet

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
)

// State is a [Connection]'s position in the lifecycle state machine.
type State int

const (
	StateCreated State = iota
	StateInfoResolved
	StateFabricOpen
	StateListening
	StateConnectRequestReceived
	StateConnectRequestSent
	StateEndpointEnabled
	StateConnected
	StateClosed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInfoResolved:
		return "InfoResolved"
	case StateFabricOpen:
		return "FabricOpen"
	case StateListening:
		return "Listening"
	case StateConnectRequestReceived:
		return "ConnectRequestReceived"
	case StateConnectRequestSent:
		return "ConnectRequestSent"
	case StateEndpointEnabled:
		return "EndpointEnabled"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Role distinguishes the two ways a [Connection] can be constructed.
type Role int

const (
	// RoleActive connects out to a remote passive endpoint.
	RoleActive Role = iota

	// RolePassive listens for, and accepts, one incoming connect request.
	RolePassive
)

// Connection is a connection-oriented, message-and-RMA-capable channel
// between two endpoints.
//
// Not safe for concurrent use by multiple goroutines except where a method
// doc comment says otherwise: construction, Connect, data-plane posts, and
// Close must all be serialized by the caller, mirroring the source
// material's single-threaded connection object.
type Connection struct {
	cfg     *Config
	role    Role
	address string // dial target for RoleActive; unused for RolePassive

	logger SLogger
	spanID string

	mu       sync.Mutex
	state    State
	provider FabricProvider
	pep      PassiveEndpoint
	endpoint Endpoint

	mrs              *mrRegistry
	outstandingSends atomic.Int64
}

// NewConnection constructs a [Connection] in [StateCreated]. No network I/O
// happens until [Connection.Connect] is called.
//
// For [RoleActive], address is the dial target (host, without port: the
// port comes from cfg.Port). For [RolePassive], address is ignored; the
// connection listens on cfg.Port.
func NewConnection(cfg *Config, role Role, address string) *Connection {
	runtimex.Assert(cfg != nil)
	return &Connection{
		cfg:     cfg,
		role:    role,
		address: address,
		logger:  cfg.Logger,
		spanID:  NewSpanID(),
		state:   StateCreated,
		mrs:     newMRRegistry(),
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("fabricnet: connection state transition", "spanID", c.spanID, "from", prev.String(), "to", s.String())
}

// Connect drives the connection from [StateCreated] to [StateConnected],
// logging each intermediate state it passes through along the way.
//
// On any failure, the connection is left in a non-Connected state and
// should be discarded; construct a new [Connection] to retry.
func (c *Connection) Connect(ctx context.Context) error {
	c.logger.Info("fabricnet: connect start", "spanID", c.spanID, "role", c.role, "provider", c.cfg.Provider)
	err := c.connect(ctx)
	c.logOpDone("connect", err)
	return err
}

func (c *Connection) connect(ctx context.Context) error {
	provider, err := c.cfg.NewProvider(c.cfg)
	if err != nil {
		return err
	}
	c.provider = provider
	c.setState(StateInfoResolved)
	c.setState(StateFabricOpen)

	switch c.role {
	case RolePassive:
		pep, lerr := provider.Listen(ctx, c.cfg.Port)
		if lerr != nil {
			return lerr
		}
		c.pep = pep
		c.setState(StateListening)

		ep, aerr := provider.Accept(ctx, pep)
		if aerr != nil {
			return aerr
		}
		c.setState(StateConnectRequestReceived)
		c.endpoint = ep

	case RoleActive:
		c.setState(StateEndpointEnabled)
		ep, derr := provider.DialActive(ctx, c.address, c.cfg.Port)
		if derr != nil {
			return derr
		}
		c.setState(StateConnectRequestSent)
		c.endpoint = ep

	default:
		runtimex.Assert(false)
	}

	c.setState(StateConnected)
	return nil
}

// Register registers buf for access over this connection, honoring
// keyHint when non-zero. Returns whether this call rebound a
// previously-registered key.
func (c *Connection) Register(buf Buffer, access AccessFlag, keyHint uint64) (rebound bool, err error) {
	key := keyHint
	rebound, err = c.mrs.register(c.endpoint, buf, access, &key)
	if err != nil {
		return false, err
	}
	c.logger.Info("fabricnet: memory region registered", "spanID", c.spanID, "key", key, "rebound", rebound)
	return rebound, nil
}

func (c *Connection) checkSize(size, offset int) error {
	if size+offset > c.cfg.MaxMsgSize {
		return newError(KindMessageTooLarge, "Connection", nil)
	}
	return nil
}

// logOpDone emits the per-operation span's completion log line at Info
// level, attaching the classified error per the ambient observability
// convention (doc.go): every data-plane span logs its errClass, even on
// success, where [ErrClassifier.Classify] returns "".
func (c *Connection) logOpDone(op string, err error) {
	c.logger.Info("fabricnet: "+op+" done", "spanID", c.spanID, "err", err, "errClass", c.cfg.ErrClassifier.Classify(err))
}

// Send posts buf's contents and blocks until the send completes.
func (c *Connection) Send(ctx context.Context, buf Buffer) error {
	c.logger.Debug("fabricnet: send start", "spanID", c.spanID, "size", buf.Size())
	err := c.send(ctx, buf)
	c.logOpDone("send", err)
	return err
}

func (c *Connection) send(ctx context.Context, buf Buffer) error {
	if err := c.checkSize(buf.Size(), 0); err != nil {
		return err
	}
	if err := c.endpoint.PostSend(buf.Get(), buf.Descriptor()); err != nil {
		return err
	}
	c.outstandingSends.Add(1)
	return c.WaitForSends(ctx)
}

// AsyncSend posts buf's contents without blocking for completion; pair
// with [Connection.WaitForSends] or [Connection.TryWaitForSends].
func (c *Connection) AsyncSend(buf Buffer) error {
	if err := c.checkSize(buf.Size(), 0); err != nil {
		return err
	}
	if err := c.endpoint.PostSend(buf.Get(), buf.Descriptor()); err != nil {
		return err
	}
	c.outstandingSends.Add(1)
	return nil
}

// WaitForSends blocks until every outstanding send has a completion.
func (c *Connection) WaitForSends(ctx context.Context) error {
	return waitForSends(ctx, c.endpoint.TxCQ(), &c.outstandingSends, "Connection.WaitForSends")
}

// TryWaitForSends performs one non-blocking drain attempt, reporting
// whether every outstanding send has now completed.
func (c *Connection) TryWaitForSends() (bool, error) {
	return tryWaitForSends(c.endpoint.TxCQ(), &c.outstandingSends, "Connection.TryWaitForSends")
}

// Recv posts and blocks for a receive into buf.
func (c *Connection) Recv(ctx context.Context, buf Buffer) error {
	c.logger.Debug("fabricnet: recv start", "spanID", c.spanID, "maxLen", buf.Size())
	err := c.recv(ctx, buf)
	c.logOpDone("recv", err)
	return err
}

func (c *Connection) recv(ctx context.Context, buf Buffer) error {
	if err := c.endpoint.PostRecv(buf.Get(), buf.Descriptor()); err != nil {
		return err
	}
	_, _, err := drainCQ(ctx, c.endpoint.RxCQ(), true, "Connection.Recv")
	return err
}

// TryRecv posts a recv; if the post itself fails, it returns false
// immediately. Otherwise it blocks for the completion, same as Recv.
func (c *Connection) TryRecv(buf Buffer) (bool, error) {
	if err := c.endpoint.PostRecv(buf.Get(), buf.Descriptor()); err != nil {
		return false, err
	}
	if _, _, err := drainCQ(context.Background(), c.endpoint.RxCQ(), true, "Connection.TryRecv"); err != nil {
		return false, err
	}
	return true, nil
}

// Write issues a one-sided RMA write of buf into the peer's region named
// by remoteKey at remoteAddress, and blocks for transmit completion.
func (c *Connection) Write(ctx context.Context, buf Buffer, remoteAddress, remoteKey uint64) error {
	c.logger.Debug("fabricnet: write start", "spanID", c.spanID, "remoteAddress", remoteAddress, "remoteKey", remoteKey)
	err := c.write(ctx, buf, remoteAddress, remoteKey)
	c.logOpDone("write", err)
	return err
}

func (c *Connection) write(ctx context.Context, buf Buffer, remoteAddress, remoteKey uint64) error {
	if err := c.checkSize(buf.Size(), 0); err != nil {
		return err
	}
	if err := c.endpoint.PostWrite(buf.Get(), buf.Descriptor(), remoteAddress, remoteKey); err != nil {
		return err
	}
	_, _, err := drainCQ(ctx, c.endpoint.TxCQ(), true, "Connection.Write")
	return err
}

// TryWrite posts an RMA write; if the post itself fails, it returns false
// immediately. Otherwise it blocks for the completion, same as Write.
func (c *Connection) TryWrite(buf Buffer, remoteAddress, remoteKey uint64) (bool, error) {
	if err := c.checkSize(buf.Size(), 0); err != nil {
		return false, err
	}
	if err := c.endpoint.PostWrite(buf.Get(), buf.Descriptor(), remoteAddress, remoteKey); err != nil {
		return false, err
	}
	if _, _, err := drainCQ(context.Background(), c.endpoint.TxCQ(), true, "Connection.TryWrite"); err != nil {
		return false, err
	}
	return true, nil
}

// Read issues a one-sided RMA read of the peer's region named by
// remoteKey at remoteAddress into buf, and blocks for transmit completion,
// not a receive completion, since the data is pulled by the initiator.
func (c *Connection) Read(ctx context.Context, buf Buffer, remoteAddress, remoteKey uint64) error {
	c.logger.Debug("fabricnet: read start", "spanID", c.spanID, "remoteAddress", remoteAddress, "remoteKey", remoteKey)
	err := c.read(ctx, buf, remoteAddress, remoteKey)
	c.logOpDone("read", err)
	return err
}

func (c *Connection) read(ctx context.Context, buf Buffer, remoteAddress, remoteKey uint64) error {
	if err := c.checkSize(len(buf.Get()), 0); err != nil {
		return err
	}
	if err := c.endpoint.PostRead(buf.Get(), buf.Descriptor(), remoteAddress, remoteKey); err != nil {
		return err
	}
	_, _, err := drainCQ(ctx, c.endpoint.TxCQ(), true, "Connection.Read")
	return err
}

// TryRead posts an RMA read; if the post itself fails, it returns false
// immediately. Otherwise it blocks for the completion, same as Read.
func (c *Connection) TryRead(buf Buffer, remoteAddress, remoteKey uint64) (bool, error) {
	if err := c.checkSize(len(buf.Get()), 0); err != nil {
		return false, err
	}
	if err := c.endpoint.PostRead(buf.Get(), buf.Descriptor(), remoteAddress, remoteKey); err != nil {
		return false, err
	}
	if _, _, err := drainCQ(context.Background(), c.endpoint.TxCQ(), true, "Connection.TryRead"); err != nil {
		return false, err
	}
	return true, nil
}

// Close tears down the connection: registered memory regions first, then
// the endpoint, then any passive endpoint, in that order.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	var firstErr error
	if !c.mrs.empty() {
		if err := c.mrs.closeAll(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.endpoint != nil {
		if err := c.endpoint.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.pep != nil {
		if err := c.pep.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.logger.Info("fabricnet: connection closed", "spanID", c.spanID)
	return firstErr
}
