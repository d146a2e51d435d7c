package access

import (
	"github.com/patrickmn/go-cache"
)

// InFlightSet holds the ids of devices with a scan being processed.
//
// It starts empty and is never persisted. A device id is present at most
// once: TryAcquire is an atomic add-if-absent.
//
// Thread Safety: safe for concurrent use.
type InFlightSet struct {
	items *cache.Cache
}

// NewInFlightSet returns an empty set. Entries never expire on their own.
func NewInFlightSet() *InFlightSet {
	return &InFlightSet{
		// A non-positive cleanup interval disables the janitor goroutine.
		items: cache.New(cache.NoExpiration, 0),
	}
}

// TryAcquire adds deviceID and reports whether it was absent.
func (s *InFlightSet) TryAcquire(deviceID string) bool {
	return s.items.Add(deviceID, struct{}{}, cache.NoExpiration) == nil
}

// Release removes deviceID. Releasing an absent id is a no-op.
func (s *InFlightSet) Release(deviceID string) {
	s.items.Delete(deviceID)
}

// Contains reports whether deviceID is being processed.
func (s *InFlightSet) Contains(deviceID string) bool {
	_, ok := s.items.Get(deviceID)
	return ok
}

// Len returns the number of devices being processed.
func (s *InFlightSet) Len() int {
	return s.items.ItemCount()
}
