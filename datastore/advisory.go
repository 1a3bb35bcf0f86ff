package datastore

import (
	"context"

	"github.com/resf/apollo"
)

// ListOpts narrows an advisory listing.
type ListOpts struct {
	// Kind filters to one advisory kind when non-nil.
	Kind *apollo.AdvisoryKind
	// ProductID filters to advisories affecting one product when non-zero.
	ProductID int64
	// Limit caps the result count; zero means the implementation default.
	Limit int
}

// AdvisoryStore serves stored downstream advisories to the rendering
// surfaces (JSON, RSS, OSV).
type AdvisoryStore interface {
	// GetAdvisory loads one advisory by name with all its children, or nil
	// when absent.
	GetAdvisory(ctx context.Context, name string) (*apollo.Advisory, error)

	// ListAdvisories reports advisories newest-first. Children are loaded for
	// each returned advisory.
	ListAdvisories(ctx context.Context, opts ListOpts) ([]apollo.Advisory, error)
}
