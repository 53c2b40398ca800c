// SPDX-License-Identifier: GPL-3.0-or-later

package fabricnet

import "fmt"

// Kind identifies the category of a fatal [*Error].
type Kind int

const (
	// KindCapabilityUnavailable: the provider rejected hints (no matching info).
	KindCapabilityUnavailable Kind = iota

	// KindSetupFailure: fabric/domain/endpoint/queue creation or binding failed.
	KindSetupFailure

	// KindConnectRejected: the event queue yielded a non-connected event, or
	// the event payload was truncated.
	KindConnectRejected

	// KindTransientPostFailure: a post of send/recv/read/write/tsend/trecv
	// returned a "try again" condition. Try-variants return it as their
	// error alongside a false result.
	KindTransientPostFailure

	// KindCompletionError: a provider error entry was drained from a
	// completion queue.
	KindCompletionError

	// KindPermissionDenied: a remote-access operation targeted a memory
	// region without matching permission. Observed as a completion error
	// from the provider.
	KindPermissionDenied

	// KindMessageTooLarge: the caller requested more than [Config.MaxMsgSize].
	KindMessageTooLarge

	// KindHandlerMissing: the RPC server received an unregistered function id.
	KindHandlerMissing
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindCapabilityUnavailable:
		return "CapabilityUnavailable"
	case KindSetupFailure:
		return "SetupFailure"
	case KindConnectRejected:
		return "ConnectRejected"
	case KindTransientPostFailure:
		return "TransientPostFailure"
	case KindCompletionError:
		return "CompletionError"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindMessageTooLarge:
		return "MessageTooLarge"
	case KindHandlerMissing:
		return "HandlerMissing"
	default:
		return "Unknown"
	}
}

// Error is the library's typed fatal error.
//
// Blocking operations return *Error for setup and completion failures.
// Try-variants return false together with the *Error when the post fails
// (for the software provider, of [KindTransientPostFailure]); they do not
// turn a failed post into a plain false with a nil error.
type Error struct {
	// Kind categorizes the failure.
	Kind Kind

	// Op names the failing operation (e.g. "Connection.Connect", "drainCQ").
	Op string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fabricnet: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("fabricnet: %s: %s", e.Op, e.Kind)
}

// Unwrap implements the errors.Unwrap protocol.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an [*Error] with the same [Kind].
//
// This allows `errors.Is(err, &Error{Kind: KindMessageTooLarge})`-style
// checks without requiring the caller to know the wrapped cause or Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errUnsupportedProvider(p Provider) error {
	return fmt.Errorf("unsupported provider %s: no NewProvider implementation plugged in", p)
}
