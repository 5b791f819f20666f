// Package shown persists, per query, the business identities already delivered in
// earlier runs so they are never reported twice.
package shown

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrCorruptRecord is returned when a persisted record cannot be decoded.
var ErrCorruptRecord = errors.New("shown: corrupt record")

// Store is the cross-run record of shown business identities.
//
// MarkShown is idempotent and durable before it returns. Callers serialise
// mutations; reads may run concurrently.
type Store interface {
	Load(ctx context.Context, query string) ([]string, error)
	HasShown(ctx context.Context, identity, query string) (bool, error)
	MarkShown(ctx context.Context, identity, query string) error
	Close() error
}

// Key is the record name for a query.
func Key(query string) string {
	return "shown_" + query
}

// Set is an in-memory view of one query's record, loaded at run start.
type Set map[string]struct{}

// LoadSet reads the record for query into a Set.
func LoadSet(ctx context.Context, s Store, query string) (Set, error) {
	ids, err := s.Load(ctx, query)
	if err != nil {
		return nil, err
	}
	set := make(Set, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Has reports whether identity is in the set.
func (s Set) Has(identity string) bool {
	_, ok := s[identity]
	return ok
}

func contains(ids []string, identity string) bool {
	for _, id := range ids {
		if id == identity {
			return true
		}
	}
	return false
}
