// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/include/networklayer/fabricBased.hh, connection.hh, connectionless.hh
//

package fabricnet

import "context"

// FabricProvider abstracts the opaque collection of fabric primitives a
// [Connection] or [ConnectionlessEndpoint] is built on: get_info, fabric,
// domain, endpoint, event_queue, completion_queue, address_vector, and
// memory_region registration. The provider library itself is treated as
// an external collaborator; this module consumes it only through this
// interface and the types it returns
// ([PassiveEndpoint], [Endpoint], [AddressVector], [ProviderMemoryRegion],
// [EventQueue], [CompletionQueue]).
//
// [newSoftwareProvider] is the one concrete implementation shipped here,
// backing [ProviderSockets]. A real RDMA-CM-IB-RC ("verbs") provider can be
// plugged in by implementing this interface and assigning it through
// [Config.NewProvider].
type FabricProvider interface {
	// Name identifies the provider for logging (e.g. "sockets", "verbs").
	Name() string

	// Listen resolves hints/info, opens fabric/domain/event-queue, creates
	// a passive endpoint, binds the event queue, and begins listening on
	// port.
	Listen(ctx context.Context, port int) (PassiveEndpoint, error)

	// DialActive runs the entire active path: resolve hints/info,
	// open fabric/domain, create and enable an active endpoint, bind
	// completion queues, issue the provider connect, and wait for the
	// Connected event. Returns once the endpoint is Connected.
	DialActive(ctx context.Context, address string, port int) (Endpoint, error)

	// Accept runs the remainder of the passive path: wait on pep's
	// event queue for a connect-request event, open a domain and active
	// endpoint against the request's info, bind completion queues, close
	// the passive endpoint, accept the request, and wait for Connected.
	Accept(ctx context.Context, pep PassiveEndpoint) (Endpoint, error)

	// NewAddressVector creates a connectionless (reliable-datagram-style)
	// endpoint bound to localAddr (empty for an ephemeral port), with its
	// own address vector.
	NewAddressVector(ctx context.Context, localAddr string) (AddressVector, error)
}

// EventKind identifies the kind of event-queue entry.
type EventKind int

const (
	// EventConnRequest carries the provider info needed to complete an accept.
	EventConnRequest EventKind = iota
	// EventConnected signals that an endpoint transitioned to Connected.
	EventConnected
	// EventShutdown signals a peer-initiated shutdown.
	EventShutdown
)

// EventQueueEntry is one event read from an [EventQueue].
type EventQueueEntry struct {
	Kind EventKind

	// ConnInfo is the provider-opaque connection info carried by an
	// [EventConnRequest] entry, consumed by [FabricProvider.Accept].
	ConnInfo any
}

// EventQueue abstracts blocking reads of connection-lifecycle events
// (fi_eq_sread-style), per GLOSSARY.
type EventQueue interface {
	// Wait blocks for the next event, or returns ctx.Err() if ctx is done.
	Wait(ctx context.Context) (EventQueueEntry, error)

	Close() error
}

// PassiveEndpoint is a listening handle that yields connect requests on
// its event queue (GLOSSARY).
type PassiveEndpoint interface {
	EventQueue() EventQueue
	Close() error
}

// CompletionEntry is one entry drained from a [CompletionQueue].
type CompletionEntry struct {
	// N is the number of bytes transferred, meaningful for recv/read completions.
	N int

	// Err is non-nil when this entry reports a provider error.
	Err error
}

// CompletionQueue abstracts polling a completion queue.
type CompletionQueue interface {
	// Poll performs exactly one non-blocking read. ok=false, err=nil means
	// "would block" (retry later, or keep spinning if blocking). ok=true
	// returns the drained entry, which may itself carry a non-nil Err.
	Poll() (entry CompletionEntry, ok bool, err error)

	Close() error
}

// Endpoint is an active, connected communication handle (GLOSSARY). All
// Post* methods post work and return immediately ("never blocks on
// completion"); the caller observes completion via [Endpoint.TxCQ] /
// [Endpoint.RxCQ].
type Endpoint interface {
	// PostSend posts a send of data, described by descriptor (the local
	// buffer's provider-supplied access token).
	PostSend(data []byte, descriptor any) error

	// PostRecv posts a receive into buf.
	PostRecv(buf []byte, descriptor any) error

	// PostWrite posts a one-sided RMA write of data to (remoteAddress, remoteKey).
	PostWrite(data []byte, descriptor any, remoteAddress, remoteKey uint64) error

	// PostRead posts a one-sided RMA read from (remoteAddress, remoteKey) into buf.
	PostRead(buf []byte, descriptor any, remoteAddress, remoteKey uint64) error

	// RegisterMemoryRegion registers data for access, honoring keyHint
	// when the provider allows caller-chosen keys. At most one region
	// exists per (Connection, key): the software provider enforces this
	// by tracking regions keyed on the final key.
	RegisterMemoryRegion(data []byte, access AccessFlag, keyHint uint64) (ProviderMemoryRegion, uint64, error)

	TxCQ() CompletionQueue
	RxCQ() CompletionQueue

	Close() error
}

// ProviderMemoryRegion is a registered memory region handle.
type ProviderMemoryRegion interface {
	Key() uint64
	Descriptor() any
	Close() error
}

// AddressVector is a connectionless endpoint's lookup table mapping
// inserted peer addresses to short peer handles (GLOSSARY).
type AddressVector interface {
	// LocalAddress returns this endpoint's own opaque address, to send
	// during the handshake.
	LocalAddress() []byte

	// Insert inserts a peer's opaque address bytes, returning a peer handle.
	Insert(addrBytes []byte) (handle string, err error)

	// Remove removes a previously inserted peer handle.
	Remove(handle string) error

	// PostSend posts a tagged send to handle.
	PostSend(handle string, data []byte, tag uint64) error

	// PostRecvAny posts a tag-filtered receive from an unspecified source,
	// used for the address handshake.
	PostRecvAny(buf []byte, tag uint64) error

	// PostRecvFrom posts a tag-filtered receive matched to handle.
	PostRecvFrom(handle string, buf []byte, tag uint64) error

	CQ() CompletionQueue

	Close() error
}
