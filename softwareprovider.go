// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/include/networklayer/fabricBased.hh, connection.hh, connectionless.hh
//

package fabricnet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/safeconn"
)

// softwareProvider backs [ProviderSockets]. It has no access to real RDMA
// hardware, so it emulates the provider contract over plain TCP (for
// connection-oriented [Connection] transport) and UDP (for the
// connectionless [AddressVector] transport). See the frame format
// documented on [frameType] for how one-sided RMA is emulated without a
// peer-side application recv.
type softwareProvider struct {
	cfg *Config
}

func newSoftwareProvider(cfg *Config) FabricProvider {
	return &softwareProvider{cfg: cfg}
}

func (p *softwareProvider) Name() string { return "sockets" }

func (p *softwareProvider) Listen(ctx context.Context, port int) (PassiveEndpoint, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, newError(KindSetupFailure, "softwareProvider.Listen", err)
	}
	pep := &softwarePassiveEndpoint{
		cfg: p.cfg,
		ln:  ln,
		eq:  newSoftwareEventQueue(),
	}
	pep.startAcceptLoop()
	return pep, nil
}

func (p *softwareProvider) DialActive(ctx context.Context, address string, port int) (Endpoint, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, newError(KindConnectRejected, "softwareProvider.DialActive", err)
	}
	p.cfg.Logger.Info("fabricnet: active endpoint connected", connLogArgs(conn)...)
	return newSoftwareEndpoint(p.cfg, conn), nil
}

func (p *softwareProvider) Accept(ctx context.Context, pep PassiveEndpoint) (Endpoint, error) {
	spep, ok := pep.(*softwarePassiveEndpoint)
	if !ok {
		return nil, newError(KindSetupFailure, "softwareProvider.Accept", errors.New("fabricnet: foreign passive endpoint"))
	}

	entry, err := spep.eq.Wait(ctx)
	if err != nil {
		return nil, newError(KindConnectRejected, "softwareProvider.Accept", err)
	}
	if entry.Kind != EventConnRequest {
		return nil, newError(KindConnectRejected, "softwareProvider.Accept",
			fmt.Errorf("fabricnet: unexpected event kind %d", entry.Kind))
	}

	conn, ok := entry.ConnInfo.(net.Conn)
	if !ok {
		return nil, newError(KindConnectRejected, "softwareProvider.Accept", errors.New("fabricnet: malformed conn-request info"))
	}
	_ = spep.Close()
	p.cfg.Logger.Info("fabricnet: passive endpoint accepted connection", connLogArgs(conn)...)
	return newSoftwareEndpoint(p.cfg, conn), nil
}

func (p *softwareProvider) NewAddressVector(ctx context.Context, localAddr string) (AddressVector, error) {
	if localAddr == "" {
		localAddr = ":0"
	}
	pc, err := net.ListenPacket("udp", localAddr)
	if err != nil {
		return nil, newError(KindSetupFailure, "softwareProvider.NewAddressVector", err)
	}
	av := &softwareAddressVector{
		cfg:     p.cfg,
		pc:      pc,
		peers:   make(map[string]net.Addr),
		pending: make(map[uint64][]pendingDatagram),
		cq:      newSoftwareCQ(),
	}
	go av.readLoop()
	return av, nil
}

// --- passive endpoint + event queue -----------------------------------

type softwarePassiveEndpoint struct {
	cfg  *Config
	ln   net.Listener
	eq   *softwareEventQueue
	once sync.Once
}

func (pep *softwarePassiveEndpoint) EventQueue() EventQueue { return pep.eq }

func (pep *softwarePassiveEndpoint) Close() error {
	var err error
	pep.once.Do(func() {
		err = pep.ln.Close()
		pep.eq.close()
	})
	return err
}

// startAcceptLoop runs Accept in a background goroutine, pushing each
// connection as a connect-request event.
func (pep *softwarePassiveEndpoint) startAcceptLoop() {
	go func() {
		for {
			conn, err := pep.ln.Accept()
			if err != nil {
				pep.eq.pushErr(err)
				return
			}
			pep.eq.push(EventQueueEntry{Kind: EventConnRequest, ConnInfo: conn})
		}
	}()
}

// softwareEventQueue is a channel-backed [EventQueue].
type softwareEventQueue struct {
	entries chan EventQueueEntry
	errs    chan error
	closed  atomic.Bool
}

func newSoftwareEventQueue() *softwareEventQueue {
	return &softwareEventQueue{
		entries: make(chan EventQueueEntry, 8),
		errs:    make(chan error, 1),
	}
}

func (q *softwareEventQueue) push(e EventQueueEntry) {
	if q.closed.Load() {
		return
	}
	q.entries <- e
}

func (q *softwareEventQueue) pushErr(err error) {
	if q.closed.Load() {
		return
	}
	select {
	case q.errs <- err:
	default:
	}
}

func (q *softwareEventQueue) close() {
	q.closed.Store(true)
}

func (q *softwareEventQueue) Wait(ctx context.Context) (EventQueueEntry, error) {
	select {
	case e := <-q.entries:
		return e, nil
	case err := <-q.errs:
		return EventQueueEntry{}, err
	case <-ctx.Done():
		return EventQueueEntry{}, ctx.Err()
	}
}

func (q *softwareEventQueue) Close() error {
	q.close()
	return nil
}

// --- connection-oriented endpoint: frame protocol -----------------------

// frameType identifies the frame kinds the software provider multiplexes
// over one net.Conn, emulating one-sided RMA without requiring the peer to
// post a matching application-level recv. frameRMAWriteAck and a
// success/failure flag packed into frameRMAReadResponse's header let the
// initiator observe a remote [KindPermissionDenied] fault as a completion
// error, the way a real provider reports a remote-access protection fault
// back to the initiator rather than silently dropping the operation.
type frameType byte

const (
	frameData frameType = iota
	frameRMAWrite
	frameRMAWriteAck
	frameRMAReadRequest
	frameRMAReadResponse
)

// frame header: [type:1][address:8LE][key:8LE][reqID:8LE][size:8LE] followed
// by size bytes of payload. address/key are meaningful only for RMA frames;
// reqID is meaningful only for the write-ack and read-request/read-response
// pairs. For frameRMAWriteAck and frameRMAReadResponse, address doubles as
// a success flag (1 = applied, 0 = denied: permission fault or
// out-of-range target) rather than a real remote address.
const frameHeaderSize = 1 + 8 + 8 + 8 + 8

type frameHeader struct {
	typ     frameType
	address uint64
	key     uint64
	reqID   uint64
	size    uint64
}

func writeFrame(w io.Writer, h frameHeader, payload []byte) error {
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = byte(h.typ)
	binary.LittleEndian.PutUint64(buf[1:9], h.address)
	binary.LittleEndian.PutUint64(buf[9:17], h.key)
	binary.LittleEndian.PutUint64(buf[17:25], h.reqID)
	binary.LittleEndian.PutUint64(buf[25:33], h.size)
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (frameHeader, []byte, error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return frameHeader{}, nil, err
	}
	h := frameHeader{
		typ:     frameType(hdr[0]),
		address: binary.LittleEndian.Uint64(hdr[1:9]),
		key:     binary.LittleEndian.Uint64(hdr[9:17]),
		reqID:   binary.LittleEndian.Uint64(hdr[17:25]),
		size:    binary.LittleEndian.Uint64(hdr[25:33]),
	}
	payload := make([]byte, h.size)
	if h.size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return frameHeader{}, nil, err
		}
	}
	return h, payload, nil
}

// recvRequest is a pending PostRecv, matched FIFO against incoming
// frameData frames by the background reader.
type recvRequest struct {
	buf []byte
}

// pendingRead is a PostRead awaiting its frameRMAReadResponse.
type pendingRead struct {
	buf []byte
}

// errPermissionDenied constructs the [KindPermissionDenied] error a denied
// RMA op surfaces to the initiator's completion queue.
func errPermissionDenied(op string) error {
	return newError(KindPermissionDenied, op, errors.New("fabricnet: remote memory region denied the requested access"))
}

// softwareEndpoint implements [Endpoint] over one net.Conn. A background
// reader goroutine demultiplexes frames so RMA writes and read responses
// never depend on the application posting a matching recv: frameRMAWrite
// is applied directly into the target region's buffer (once its access
// mask permits it), and frameRMAReadResponse/frameRMAWriteAck fulfill a
// pending local PostRead/PostWrite, exactly as a real provider would
// complete these one-sided operations, permission checks included, in
// hardware.
type softwareEndpoint struct {
	cfg  *Config
	conn net.Conn

	mrs mrRegistry2 // lookup by (address) is approximated by key; see RegisterMemoryRegion

	recvRequests chan *recvRequest
	pendingReads struct {
		mu sync.Mutex
		m  map[uint64]*pendingRead
	}
	pendingWrites struct {
		mu sync.Mutex
		m  map[uint64]int // reqID -> bytes written, for the success completion's N
	}
	nextReqID atomic.Uint64

	txCQ *softwareCQ
	rxCQ *softwareCQ

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// mrEntry is one registered region as the background reader sees it: the
// backing bytes plus the access mask PostWrite/PostRead's remote peer must
// honor.
type mrEntry struct {
	data   []byte
	access AccessFlag
}

// mrRegistry2 is the endpoint-local table the background reader consults to
// service incoming RMA frames; distinct from the per-Connection [mrRegistry]
// that the public API exposes, since the reader must never block behind the
// application-facing registry's mutex semantics for bookkeeping it doesn't
// need (registration/rebind policy lives one layer up, in [mrRegistry]).
type mrRegistry2 struct {
	mu    sync.Mutex
	byKey map[uint64]mrEntry
}

func newSoftwareEndpoint(cfg *Config, conn net.Conn) *softwareEndpoint {
	e := &softwareEndpoint{
		cfg:          cfg,
		conn:         conn,
		recvRequests: make(chan *recvRequest, 64),
		txCQ:         newSoftwareCQ(),
		rxCQ:         newSoftwareCQ(),
	}
	e.mrs.byKey = make(map[uint64]mrEntry)
	e.pendingReads.m = make(map[uint64]*pendingRead)
	e.pendingWrites.m = make(map[uint64]int)
	go e.readLoop()
	return e
}

func (e *softwareEndpoint) readLoop() {
	for {
		h, payload, err := readFrame(e.conn)
		if err != nil {
			e.rxCQ.pushErr(err)
			e.drainPendingOnError(err)
			return
		}
		switch h.typ {
		case frameData:
			select {
			case req := <-e.recvRequests:
				n := copy(req.buf, payload)
				e.rxCQ.pushEntry(CompletionEntry{N: n})
			default:
				// No posted recv yet: this software emulation has nowhere to
				// buffer the datagram (a real provider would leave it queued
				// in hardware), so report it as a completion error rather
				// than silently dropping the frame.
				e.rxCQ.pushErr(fmt.Errorf("fabricnet: data frame arrived with no posted recv"))
			}

		case frameRMAWrite:
			e.mrs.mu.Lock()
			entry, ok := e.mrs.byKey[h.key]
			e.mrs.mu.Unlock()
			granted := ok && entry.access&AccessRemoteWrite != 0 && int(h.address)+len(payload) <= len(entry.data)
			if granted {
				copy(entry.data[h.address:], payload)
			}
			ackAddr := uint64(0)
			if granted {
				ackAddr = 1
			}
			_ = writeFrame(e.conn, frameHeader{typ: frameRMAWriteAck, address: ackAddr, reqID: h.reqID}, nil)

		case frameRMAWriteAck:
			e.pendingWrites.mu.Lock()
			n, ok := e.pendingWrites.m[h.reqID]
			delete(e.pendingWrites.m, h.reqID)
			e.pendingWrites.mu.Unlock()
			if !ok {
				continue
			}
			if h.address == 1 {
				e.txCQ.pushEntry(CompletionEntry{N: n})
			} else {
				e.txCQ.pushEntry(CompletionEntry{Err: errPermissionDenied("softwareEndpoint.PostWrite")})
			}

		case frameRMAReadRequest:
			e.mrs.mu.Lock()
			entry, ok := e.mrs.byKey[h.key]
			e.mrs.mu.Unlock()
			granted := ok && entry.access&AccessRemoteRead != 0 && int(h.address) <= len(entry.data)
			var resp []byte
			if granted {
				end := int(h.address) + int(h.size)
				if end > len(entry.data) {
					end = len(entry.data)
				}
				resp = entry.data[h.address:end]
			}
			ackAddr := uint64(0)
			if granted {
				ackAddr = 1
			}
			_ = writeFrame(e.conn, frameHeader{typ: frameRMAReadResponse, address: ackAddr, reqID: h.reqID, size: uint64(len(resp))}, resp)

		case frameRMAReadResponse:
			e.pendingReads.mu.Lock()
			pr, ok := e.pendingReads.m[h.reqID]
			if ok {
				delete(e.pendingReads.m, h.reqID)
			}
			e.pendingReads.mu.Unlock()
			if !ok {
				continue
			}
			if h.address == 1 {
				n := copy(pr.buf, payload)
				e.txCQ.pushEntry(CompletionEntry{N: n})
			} else {
				e.txCQ.pushEntry(CompletionEntry{Err: errPermissionDenied("softwareEndpoint.PostRead")})
			}
		}
	}
}

func (e *softwareEndpoint) drainPendingOnError(err error) {
	e.pendingReads.mu.Lock()
	for id := range e.pendingReads.m {
		delete(e.pendingReads.m, id)
		e.txCQ.pushEntry(CompletionEntry{Err: err})
	}
	e.pendingReads.mu.Unlock()

	e.pendingWrites.mu.Lock()
	for id := range e.pendingWrites.m {
		delete(e.pendingWrites.m, id)
		e.txCQ.pushEntry(CompletionEntry{Err: err})
	}
	e.pendingWrites.mu.Unlock()
}

// PostSend writes a frameData frame and immediately posts the send
// completion to txCQ, collapsing "post" and "complete" into one
// synchronous call.
func (e *softwareEndpoint) PostSend(data []byte, descriptor any) error {
	e.writeMu.Lock()
	err := writeFrame(e.conn, frameHeader{typ: frameData, size: uint64(len(data))}, data)
	e.writeMu.Unlock()
	if err != nil {
		return newError(KindTransientPostFailure, "softwareEndpoint.PostSend", err)
	}
	e.txCQ.pushEntry(CompletionEntry{N: len(data)})
	return nil
}

func (e *softwareEndpoint) PostRecv(buf []byte, descriptor any) error {
	req := &recvRequest{buf: buf}
	select {
	case e.recvRequests <- req:
		return nil
	default:
		return newError(KindTransientPostFailure, "softwareEndpoint.PostRecv", errors.New("fabricnet: recv queue full"))
	}
}

// PostWrite posts a one-sided RMA write. Unlike PostSend, the completion is
// not pushed until the remote side's frameRMAWriteAck arrives (see
// readLoop): a real provider only reports the write's transmit completion
// once the target has actually accepted (or rejected, per its access mask)
// the bytes, and a permission fault must reach the initiator as a
// completion error rather than a silent local success.
func (e *softwareEndpoint) PostWrite(data []byte, descriptor any, remoteAddress, remoteKey uint64) error {
	reqID := e.nextReqID.Add(1)
	e.pendingWrites.mu.Lock()
	e.pendingWrites.m[reqID] = len(data)
	e.pendingWrites.mu.Unlock()

	e.writeMu.Lock()
	err := writeFrame(e.conn, frameHeader{typ: frameRMAWrite, address: remoteAddress, key: remoteKey, reqID: reqID, size: uint64(len(data))}, data)
	e.writeMu.Unlock()
	if err != nil {
		e.pendingWrites.mu.Lock()
		delete(e.pendingWrites.m, reqID)
		e.pendingWrites.mu.Unlock()
		return newError(KindTransientPostFailure, "softwareEndpoint.PostWrite", err)
	}
	return nil
}

// PostRead posts a one-sided RMA read, asking the peer to echo back the
// bytes at (remoteAddress, remoteKey). Its completion is posted to txCQ
// once the frameRMAReadResponse arrives (see readLoop): the read blocks
// for transmit completion, not a receive completion, since the data is
// pulled by the initiator.
func (e *softwareEndpoint) PostRead(buf []byte, descriptor any, remoteAddress, remoteKey uint64) error {
	reqID := e.nextReqID.Add(1)
	pr := &pendingRead{buf: buf}
	e.pendingReads.mu.Lock()
	e.pendingReads.m[reqID] = pr
	e.pendingReads.mu.Unlock()

	e.writeMu.Lock()
	err := writeFrame(e.conn, frameHeader{typ: frameRMAReadRequest, address: remoteAddress, key: remoteKey, reqID: reqID, size: uint64(len(buf))}, nil)
	e.writeMu.Unlock()
	if err != nil {
		e.pendingReads.mu.Lock()
		delete(e.pendingReads.m, reqID)
		e.pendingReads.mu.Unlock()
		return newError(KindTransientPostFailure, "softwareEndpoint.PostRead", err)
	}
	return nil
}

func (e *softwareEndpoint) RegisterMemoryRegion(data []byte, access AccessFlag, keyHint uint64) (ProviderMemoryRegion, uint64, error) {
	key := keyHint
	if key == 0 {
		key = e.nextReqID.Add(1) << 1 // drawn from the request-id counter; always even and non-zero
	}
	e.mrs.mu.Lock()
	e.mrs.byKey[key] = mrEntry{data: data, access: access}
	e.mrs.mu.Unlock()
	return &softwareMR{endpoint: e, key: key}, key, nil
}

func (e *softwareEndpoint) TxCQ() CompletionQueue { return e.txCQ }
func (e *softwareEndpoint) RxCQ() CompletionQueue { return e.rxCQ }

func (e *softwareEndpoint) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.conn.Close()
}

type softwareMR struct {
	endpoint *softwareEndpoint
	key      uint64
}

func (m *softwareMR) Key() uint64     { return m.key }
func (m *softwareMR) Descriptor() any { return m.key }
func (m *softwareMR) Close() error {
	m.endpoint.mrs.mu.Lock()
	delete(m.endpoint.mrs.byKey, m.key)
	m.endpoint.mrs.mu.Unlock()
	return nil
}

// --- completion queue ----------------------------------------------------

// softwareCQ is a channel-backed [CompletionQueue].
type softwareCQ struct {
	entries chan CompletionEntry
	errs    chan error
	closed  atomic.Bool
}

func newSoftwareCQ() *softwareCQ {
	return &softwareCQ{
		entries: make(chan CompletionEntry, 256),
		errs:    make(chan error, 1),
	}
}

func (q *softwareCQ) pushEntry(e CompletionEntry) {
	if q.closed.Load() {
		return
	}
	select {
	case q.entries <- e:
	default:
		// Backpressure: a real provider's CQ also has finite depth; dropping
		// here would lose a completion, so block until there is room.
		q.entries <- e
	}
}

func (q *softwareCQ) pushErr(err error) {
	if q.closed.Load() {
		return
	}
	select {
	case q.errs <- err:
	default:
	}
}

func (q *softwareCQ) Poll() (CompletionEntry, bool, error) {
	select {
	case e := <-q.entries:
		return e, true, nil
	case err := <-q.errs:
		return CompletionEntry{}, false, err
	default:
		return CompletionEntry{}, false, nil
	}
}

func (q *softwareCQ) Close() error {
	q.closed.Store(true)
	return nil
}

// --- connectionless address vector ---------------------------------------

type pendingDatagram struct {
	data []byte
	from net.Addr
}

// softwareAddressVector implements [AddressVector] over one UDP socket,
// using tags embedded in each datagram's header to emulate tagged
// send/recv matching (fi_tsend/fi_trecv).
type softwareAddressVector struct {
	cfg *Config
	pc  net.PacketConn

	mu      sync.Mutex
	peers   map[string]net.Addr
	nextID  atomic.Uint64
	pending map[uint64][]pendingDatagram // tag -> queued datagrams awaiting a matching recv

	waiters struct {
		mu sync.Mutex
		m  map[uint64][]avWaiter
	}

	cq *softwareCQ

	once sync.Once
}

// avWaiter is a posted-but-not-yet-delivered recv: wantAddr is nil for
// [AddressVector.PostRecvAny] (match any sender) or the resolved peer
// address for [AddressVector.PostRecvFrom] (match that sender only).
type avWaiter struct {
	wantAddr net.Addr
	ch       chan pendingDatagram
}

func addrEqual(a, b net.Addr) bool {
	return a.String() == b.String()
}

// datagram header: [tag:8LE][size:8LE] followed by size bytes of payload.
const datagramHeaderSize = 16

func (av *softwareAddressVector) LocalAddress() []byte {
	return []byte(av.pc.LocalAddr().String())
}

func (av *softwareAddressVector) Insert(addrBytes []byte) (string, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", string(addrBytes))
	if err != nil {
		return "", newError(KindSetupFailure, "softwareAddressVector.Insert", err)
	}
	handle := NewSpanID()
	av.mu.Lock()
	av.peers[handle] = udpAddr
	av.mu.Unlock()
	return handle, nil
}

func (av *softwareAddressVector) Remove(handle string) error {
	av.mu.Lock()
	delete(av.peers, handle)
	av.mu.Unlock()
	return nil
}

func (av *softwareAddressVector) addrFor(handle string) (net.Addr, bool) {
	av.mu.Lock()
	defer av.mu.Unlock()
	a, ok := av.peers[handle]
	return a, ok
}

func (av *softwareAddressVector) PostSend(handle string, data []byte, tag uint64) error {
	addr, ok := av.addrFor(handle)
	if !ok {
		return newError(KindSetupFailure, "softwareAddressVector.PostSend", fmt.Errorf("fabricnet: unknown peer handle %q", handle))
	}
	buf := make([]byte, datagramHeaderSize+len(data))
	binary.LittleEndian.PutUint64(buf[0:8], tag)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(data)))
	copy(buf[datagramHeaderSize:], data)
	if _, err := av.pc.WriteTo(buf, addr); err != nil {
		return newError(KindTransientPostFailure, "softwareAddressVector.PostSend", err)
	}
	av.cq.pushEntry(CompletionEntry{N: len(data)})
	return nil
}

// postRecv posts a tag-filtered receive, matched against wantAddr when
// non-nil (PostRecvFrom) or any sender when nil (PostRecvAny). It first
// checks datagrams already queued for tag, then registers a waiter for
// the next arrival that matches.
func (av *softwareAddressVector) postRecv(buf []byte, tag uint64, wantAddr net.Addr) error {
	av.mu.Lock()
	queued := av.pending[tag]
	for i, dg := range queued {
		if wantAddr != nil && !addrEqual(dg.from, wantAddr) {
			continue
		}
		av.pending[tag] = append(queued[:i:i], queued[i+1:]...)
		av.mu.Unlock()
		n := copy(buf, dg.data)
		av.cq.pushEntry(CompletionEntry{N: n})
		return nil
	}
	av.mu.Unlock()

	ch := make(chan pendingDatagram, 1)
	av.waiters.mu.Lock()
	if av.waiters.m == nil {
		av.waiters.m = make(map[uint64][]avWaiter)
	}
	av.waiters.m[tag] = append(av.waiters.m[tag], avWaiter{wantAddr: wantAddr, ch: ch})
	av.waiters.mu.Unlock()

	go func() {
		dg := <-ch
		n := copy(buf, dg.data)
		av.cq.pushEntry(CompletionEntry{N: n})
	}()
	return nil
}

func (av *softwareAddressVector) PostRecvAny(buf []byte, tag uint64) error {
	return av.postRecv(buf, tag, nil)
}

func (av *softwareAddressVector) PostRecvFrom(handle string, buf []byte, tag uint64) error {
	addr, ok := av.addrFor(handle)
	if !ok {
		return newError(KindSetupFailure, "softwareAddressVector.PostRecvFrom", fmt.Errorf("fabricnet: unknown peer handle %q", handle))
	}
	return av.postRecv(buf, tag, addr)
}

func (av *softwareAddressVector) CQ() CompletionQueue { return av.cq }

func (av *softwareAddressVector) readLoop() {
	buf := make([]byte, 65536)
	for {
		n, from, err := av.pc.ReadFrom(buf)
		if err != nil {
			av.cq.pushErr(err)
			return
		}
		if n < datagramHeaderSize {
			continue
		}
		tag := binary.LittleEndian.Uint64(buf[0:8])
		size := binary.LittleEndian.Uint64(buf[8:16])
		if int(size) > n-datagramHeaderSize {
			continue
		}
		data := make([]byte, size)
		copy(data, buf[datagramHeaderSize:datagramHeaderSize+int(size)])

		av.waiters.mu.Lock()
		waiters := av.waiters.m[tag]
		matched := false
		for i, w := range waiters {
			if w.wantAddr != nil && !addrEqual(from, w.wantAddr) {
				continue
			}
			av.waiters.m[tag] = append(waiters[:i:i], waiters[i+1:]...)
			av.waiters.mu.Unlock()
			w.ch <- pendingDatagram{data: data, from: from}
			matched = true
			break
		}
		if matched {
			continue
		}
		av.waiters.mu.Unlock()

		av.mu.Lock()
		av.pending[tag] = append(av.pending[tag], pendingDatagram{data: data, from: from})
		av.mu.Unlock()
	}
}

func (av *softwareAddressVector) Close() error {
	av.once.Do(func() {
		av.cq.Close()
	})
	return av.pc.Close()
}

// connLogArgs returns the local/remote/protocol slog attributes attached
// to connection lifecycle log lines.
func connLogArgs(conn net.Conn) []any {
	return []any{
		"localAddr", safeconn.LocalAddr(conn),
		"protocol", safeconn.Network(conn),
		"remoteAddr", safeconn.RemoteAddr(conn),
	}
}
