// SPDX-License-Identifier: GPL-3.0-or-later

// Package fabricnet wraps a high-performance fabric transport (OpenFabrics-style
// endpoints, event and completion queues, address vectors, registered memory
// regions) into connection-oriented message and one-sided RMA channels, a
// connectionless tagged-datagram channel, a small RPC layer, and broadcast
// helpers.
//
// # Core Abstraction
//
// The underlying fabric provider (the libfabric-style collection of
// get_info/fabric/domain/endpoint/event_queue/completion_queue primitives)
// is treated as an opaque boundary and abstracted behind [FabricProvider].
// This package ships one concrete implementation, the software ("sockets")
// provider backing [ProviderSockets], built on [net.Conn]/[net.PacketConn].
// A real RDMA-CM-IB-RC ("verbs") provider can be plugged in by implementing
// [FabricProvider] and assigning it via [Config.NewProvider].
//
// # Available Primitives
//
// Connection-oriented, message + RMA:
//   - [Connection]: active/passive connection state machine; once Connected,
//     exposes blocking Send/Recv/Read/Write, try-variants of Recv/Read/Write,
//     and AsyncSend.
//   - [Buffer]: an owned or reference-counted byte region that becomes
//     registerable (for RMA) once bound to a [Connection] via Register.
//   - [MemoryRegion] / the per-connection registry in mr.go: tracks
//     remote-access keys and supports permission rebinds.
//
// Connectionless, tagged datagrams:
//   - [ConnectionlessEndpoint]: address-vector-backed tag-matched send/recv,
//     with a one-way handshake ([ConnectionlessEndpoint.Connect] /
//     [ConnectionlessEndpoint.Accept]) to exchange peer addresses.
//
// RPC:
//   - [RPCServer] / [RPCClient]: function-ID dispatch over a
//     [ConnectionlessEndpoint]; function id 0 is reserved to stop the server.
//
// Broadcast:
//   - [BestEffortBroadcast], [BestEffortRecvFrom],
//     [ReliableBroadcastReceiveFrom]: fan-out/fan-in helpers over a set of
//     connections or connectionless peers.
//
// Shared memory:
//   - [SharedMemory]: local-only atomic load/store/compare-and-swap cell.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled ([DefaultSLogger] discards
// everything); set [Config.Logger] to a real [*slog.Logger] to enable it.
// Data-plane spans are logged as start/done pairs: the done line (with its
// classified error) at [slog.LevelInfo], the start line at [slog.LevelInfo]
// for connect and [slog.LevelDebug] for send/recv/read/write. State
// transitions are logged at [slog.LevelDebug] and other lifecycle events at
// [slog.LevelInfo]. Error classification for the underlying
// transport error is configurable via [ErrClassifier]; by default,
// [DefaultErrClassifier] classifies real socket errors (timeouts, resets,
// refused) using github.com/bassosimone/fabricnet/errclass.
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for
// each connection lifecycle or RPC call and attach it to the logger via
// [*slog.Logger.With], correlating every log line for that operation.
//
// # Concurrency
//
// Each [Connection] and [ConnectionlessEndpoint] is not safe for concurrent
// use by multiple goroutines; callers must serialize access to a single
// endpoint themselves. The reference-counted [Buffer] variant is safe to
// share across goroutines (its bookkeeping is atomic), but its bytes are
// exclusively owned by whichever operation currently has them posted.
//
// # Design Boundaries
//
// Out of scope: the fabric provider library itself (only consumed through
// [FabricProvider]), TLS/authentication, flow control beyond what the
// provider supplies, multi-path/multi-NIC aggregation, RPC payload
// serialization (payloads are opaque bytes), and persistence.
package fabricnet
