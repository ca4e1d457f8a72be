package graph

import (
	"fmt"
	"sort"
	"sync"
)

// SidePacketStore holds the one-time values handed to calculators at Open.
// Values are writable until the store is sealed by Runner.Start.
type SidePacketStore struct {
	mu     sync.RWMutex
	values map[string]Packet
	sealed bool
}

// NewSidePacketStore creates an empty, writable store
func NewSidePacketStore() *SidePacketStore {
	return &SidePacketStore{values: make(map[string]Packet)}
}

// Set stores value under name. It fails once streaming has started.
func (s *SidePacketStore) Set(name string, value Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return fmt.Errorf("%w: side packet %q set after start", ErrInvalidState, name)
	}
	if name == "" {
		return fmt.Errorf("%w: side packet name is empty", ErrConfiguration)
	}
	s.values[name] = value
	return nil
}

// Get returns the value stored under name.
func (s *SidePacketStore) Get(name string) (Packet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.values[name]
	if !ok {
		return Packet{}, fmt.Errorf("%w: %q", ErrMissingSidePacket, name)
	}
	return p, nil
}

// Has reports whether name is set.
func (s *SidePacketStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[name]
	return ok
}

// Names returns the stored names in sorted order.
func (s *SidePacketStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Seal forbids further writes.
func (s *SidePacketStore) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
}

// Sealed reports whether writes are forbidden.
func (s *SidePacketStore) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// Clear drops every stored value. The sealed flag is kept.
func (s *SidePacketStore) Clear() {
	s.mu.Lock()
	s.values = make(map[string]Packet)
	s.mu.Unlock()
}

func (s *SidePacketStore) snapshot() map[string]Packet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]Packet, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

func (s *SidePacketStore) restore(values map[string]Packet) {
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
}
