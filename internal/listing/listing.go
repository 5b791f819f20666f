// Package listing defines the business listing model shared by sources, the
// pipeline and the export sinks.
package listing

import (
	"context"
	"strings"
)

// Listing is a business discovered by a Source. Website == "" means absent.
type Listing struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Phone   string `json:"phone" yaml:"phone"`
	Website string `json:"website,omitempty" yaml:"website,omitempty"`

	// Key is the source's own stable identity for the listing, e.g. its map URL.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`
}

// Identity returns the business identity used for deduplication.
func (l Listing) Identity() string {
	return Identity(l.Name, l.Address)
}

// HasWebsite reports whether the listing carries a website.
func (l Listing) HasWebsite() bool {
	return strings.TrimSpace(l.Website) != ""
}

// SourceKey returns Key, falling back to the identity when the source has none.
func (l Listing) SourceKey() string {
	if l.Key != "" {
		return l.Key
	}
	return l.Identity()
}

// Identity joins name and address exactly, without normalisation.
func Identity(name, address string) string {
	return name + "|" + address
}

// VerifiedResult is a listing with at least one verified email.
type VerifiedResult struct {
	Identity string   `json:"identity"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Phone    string   `json:"phone"`
	Website  string   `json:"website"`
	Emails   []string `json:"emails"`
}

// NewVerifiedResult builds a result from a listing and its verified emails.
// The email slice is copied.
func NewVerifiedResult(l Listing, emails []string) VerifiedResult {
	return VerifiedResult{
		Identity: l.Identity(),
		Name:     l.Name,
		Address:  l.Address,
		Phone:    l.Phone,
		Website:  l.Website,
		Emails:   append([]string(nil), emails...),
	}
}

// Source yields batches of listings for a query.
//
// A Source never returns the same listing twice in one run. exhausted reports that no
// further listings will be produced; the returned batch may still be non-empty.
type Source interface {
	NextBatch(ctx context.Context, max int) (batch []Listing, exhausted bool, err error)
}

// SourceFactory opens a Source for one query.
type SourceFactory interface {
	Open(ctx context.Context, query string) (Source, error)
}
