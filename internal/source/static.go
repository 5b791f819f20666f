// Package source provides listing sources: an in-memory slice, file fixtures, and
// (in the gemini subpackage) grounded web search.
package source

import (
	"context"
	"sync"

	"github.com/eloisaabril01/emailscrap/internal/listing"
)

// Static serves a fixed slice of listings in order, skipping repeated keys.
type Static struct {
	mu       sync.Mutex
	listings []listing.Listing
	next     int
	seen     map[string]struct{}
	calls    int
}

// NewStatic returns a source over a copy of listings.
func NewStatic(listings []listing.Listing) *Static {
	return &Static{
		listings: append([]listing.Listing(nil), listings...),
		seen:     make(map[string]struct{}, len(listings)),
	}
}

// NextBatch returns up to max unseen listings.
func (s *Static) NextBatch(ctx context.Context, max int) ([]listing.Listing, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if max <= 0 {
		return nil, s.next >= len(s.listings), nil
	}
	var batch []listing.Listing
	for s.next < len(s.listings) && len(batch) < max {
		l := s.listings[s.next]
		s.next++
		key := l.SourceKey()
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		batch = append(batch, l)
	}
	return batch, s.next >= len(s.listings), nil
}

// Calls reports how many times NextBatch was invoked.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// StaticFactory opens the same listings for every query.
type StaticFactory []listing.Listing

func (f StaticFactory) Open(_ context.Context, _ string) (listing.Source, error) {
	return NewStatic(f), nil
}
