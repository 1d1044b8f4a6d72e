// Package registry indexes active transports by remote address and priority.
package registry

import (
	"net"
	"net/netip"
	"sort"
	"sync"

	"pvanet/internal/transport"
)

// Registry is a thread-safe two-level map (remote address, priority) →
// transport with a cached total count. A single mutex guards all operations;
// no user code runs while it is held.
type Registry struct {
	mu         sync.Mutex
	transports map[netip.AddrPort]map[int16]transport.Transport
	count      int
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		transports: make(map[netip.AddrPort]map[int16]transport.Transport),
	}
}

// key canonicalizes a UDP address so IPv4 and IPv4-mapped forms collide.
func key(addr *net.UDPAddr) netip.AddrPort {
	ap := addr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Put installs t under (t.RemoteAddress(), t.Priority()), replacing any
// existing transport at the same pair.
func (r *Registry) Put(t transport.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := key(t.RemoteAddress())
	priorities, ok := r.transports[addr]
	if !ok {
		priorities = make(map[int16]transport.Transport)
		r.transports[addr] = priorities
		r.count++
	} else if _, exists := priorities[t.Priority()]; !exists {
		// only count new (address, priority) pairs, not replacements
		r.count++
	}
	priorities[t.Priority()] = t
}

// Get returns the transport at (addr, priority), or nil.
func (r *Registry) Get(addr *net.UDPAddr, priority int16) transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if priorities, ok := r.transports[key(addr)]; ok {
		return priorities[priority]
	}
	return nil
}

// GetAll returns all transports at addr in ascending priority order, or nil
// when the address is unknown.
func (r *Registry) GetAll(addr *net.UDPAddr) []transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	priorities, ok := r.transports[key(addr)]
	if !ok {
		return nil
	}

	keys := make([]int, 0, len(priorities))
	for p := range priorities {
		keys = append(keys, int(p))
	}
	sort.Ints(keys)

	out := make([]transport.Transport, 0, len(keys))
	for _, p := range keys {
		out = append(out, priorities[int16(p)])
	}
	return out
}

// Remove deletes the entry at (t.RemoteAddress(), t.Priority()) and returns
// the removed transport, or nil when no such entry exists. An address whose
// inner map empties is pruned.
func (r *Registry) Remove(t transport.Transport) transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := key(t.RemoteAddress())
	priorities, ok := r.transports[addr]
	if !ok {
		return nil
	}
	removed, ok := priorities[t.Priority()]
	if !ok {
		return nil
	}

	delete(priorities, t.Priority())
	r.count--
	if len(priorities) == 0 {
		delete(r.transports, addr)
	}
	return removed
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports = make(map[netip.AddrPort]map[int16]transport.Transport)
	r.count = 0
}

// ToArray returns a snapshot of every registered transport across all
// addresses and priorities, or nil when the registry is empty.
func (r *Registry) ToArray() []transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}

	out := make([]transport.Transport, 0, r.count)
	for _, priorities := range r.transports {
		for _, t := range priorities {
			out = append(out, t)
		}
	}
	return out
}

// NumberOfActiveTransports returns the number of (address, priority) pairs
// currently registered.
func (r *Registry) NumberOfActiveTransports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
