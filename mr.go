// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: fabricBased/include/networklayer/connection.hh (MR bookkeeping)
//

package fabricnet

import "sync"

// AccessFlag is a bitmask of memory-region access permissions.
type AccessFlag uint32

const (
	AccessLocalRead AccessFlag = 1 << iota
	AccessLocalWrite
	AccessRemoteRead
	AccessRemoteWrite
)

// AccessReadWrite grants every permission. Convenient for tests and for
// registrations that do not need a narrower mask.
const AccessReadWrite = AccessLocalRead | AccessLocalWrite | AccessRemoteRead | AccessRemoteWrite

// MemoryRegion is a registered byte range granting the provider-negotiated
// access rights.
type MemoryRegion struct {
	// Key is the remote-access key, authoritative once registration succeeds.
	Key uint64

	// Access is the permission set this region grants.
	Access AccessFlag

	// Buffer is the backing [Buffer].
	Buffer Buffer

	providerMR ProviderMemoryRegion
}

// mrRegistry is a per-connection map from remote-access key to registered
// region. At most one [MemoryRegion] exists per key; re-registering the
// same key closes the prior region and installs a new one.
type mrRegistry struct {
	mu      sync.Mutex
	regions map[uint64]*MemoryRegion
}

func newMRRegistry() *mrRegistry {
	return &mrRegistry{regions: make(map[uint64]*MemoryRegion)}
}

// register registers buf with access against provider. *key is the
// caller-supplied key hint; the provider may rewrite it, and the final
// value is written back to *key and to buf's registration callback.
//
// Returns true if registering *key rebound (closed then replaced) an
// existing region, false if this was a fresh registration.
func (r *mrRegistry) register(endpoint Endpoint, buf Buffer, access AccessFlag, key *uint64) (rebound bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.regions[*key]; ok {
		if cerr := existing.providerMR.Close(); cerr != nil {
			return false, newError(KindSetupFailure, "mrRegistry.register", cerr)
		}
		delete(r.regions, *key)
		rebound = true
	}

	pmr, finalKey, rerr := endpoint.RegisterMemoryRegion(buf.Get(), access, *key)
	if rerr != nil {
		return false, newError(KindSetupFailure, "mrRegistry.register", rerr)
	}

	*key = finalKey
	buf.registerCallback(finalKey, pmr.Descriptor())
	r.regions[finalKey] = &MemoryRegion{Key: finalKey, Access: access, Buffer: buf, providerMR: pmr}
	return rebound, nil
}

// lookup returns the region registered for key, if any.
func (r *mrRegistry) lookup(key uint64) (*MemoryRegion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mr, ok := r.regions[key]
	return mr, ok
}

// empty reports whether no region is currently registered.
func (r *mrRegistry) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regions) == 0
}

// closeAll closes every registered region, used at connection teardown.
func (r *mrRegistry) closeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for k, mr := range r.regions {
		if err := mr.providerMR.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.regions, k)
	}
	return firstErr
}
