// SPDX-License-Identifier: GPL-3.0-or-later

package fabricnet

import "time"

// Provider identifies which fabric provider a [Connection] or
// [ConnectionlessEndpoint] is built on top of.
//
// Per the source material, only two providers are recognized: a
// verbs/RDMA-CM-IB-RC provider (requires real RDMA-capable hardware) and a
// sockets (TCP/UDP) provider usable anywhere. This module ships a concrete
// implementation only for [ProviderSockets]; selecting [ProviderVerbs]
// without plugging in a real verbs [FabricProvider] fails fast with
// [KindCapabilityUnavailable].
type Provider int

const (
	// ProviderSockets selects the software, TCP/UDP-backed provider.
	ProviderSockets Provider = iota

	// ProviderVerbs selects an RDMA-CM-IB-RC provider. No software
	// implementation ships with this module; callers targeting real
	// RDMA hardware must supply their own [FabricProvider] via [Config.NewProvider].
	ProviderVerbs
)

// String implements [fmt.Stringer].
func (p Provider) String() string {
	switch p {
	case ProviderSockets:
		return "sockets"
	case ProviderVerbs:
		return "verbs"
	default:
		return "unknown"
	}
}

// DefaultPort is the default listening port, per the source material.
const DefaultPort = 8080

// MaxMsgSize is the maximum size in bytes of any single message, send,
// recv, RMA read, or RMA write. Exceeding it is a fatal
// [KindMessageTooLarge] error.
const MaxMsgSize = 4096

// Config holds common configuration for fabricnet operations.
//
// Pass this to constructor functions to pre-wire dependencies. All fields
// have sensible defaults set by [NewConfig] and are safe to override before
// the first call that reads them.
type Config struct {
	// Provider selects which fabric provider to build connections on.
	//
	// Set by [NewConfig] to [ProviderSockets].
	Provider Provider

	// Port is the listening port for passive-side connections and
	// connectionless servers.
	//
	// Set by [NewConfig] to [DefaultPort].
	Port int

	// MaxMsgSize bounds every message, send, recv, read, and write.
	//
	// Set by [NewConfig] to [MaxMsgSize].
	MaxMsgSize int

	// ErrClassifier classifies transport errors for structured logging.
	//
	// Set by [NewConfig] to wrap github.com/bassosimone/fabricnet/errclass.New.
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use for structured logging.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// NewProvider constructs the concrete [Provider] implementation
	// backing a [Connection] or [ConnectionlessEndpoint].
	//
	// Set by [NewConfig] to a function that returns [newSoftwareProvider]
	// when Provider is [ProviderSockets] and fails with
	// [KindCapabilityUnavailable] for any other Provider, including
	// [ProviderVerbs].
	NewProvider func(cfg *Config) (FabricProvider, error)
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	cfg := &Config{
		Provider:      ProviderSockets,
		Port:          DefaultPort,
		MaxMsgSize:    MaxMsgSize,
		ErrClassifier: DefaultErrClassifier,
		Logger:        DefaultSLogger(),
		TimeNow:       time.Now,
	}
	cfg.NewProvider = func(cfg *Config) (FabricProvider, error) {
		switch cfg.Provider {
		case ProviderSockets:
			return newSoftwareProvider(cfg), nil
		default:
			return nil, &Error{Kind: KindCapabilityUnavailable, Op: "NewProvider",
				Err: errUnsupportedProvider(cfg.Provider)}
		}
	}
	return cfg
}
