package datastore

import (
	"context"

	"github.com/resf/apollo"
)

// Slice selects the advisories one updateinfo.xml covers.
type Slice struct {
	ProductID    int64
	MajorVersion int
	// MinorVersion narrows the slice when non-nil.
	MinorVersion *int
	Arch         string
	RepoName     string
}

// UpdateinfoStore is the storage surface of the updateinfo generator.
type UpdateinfoStore interface {
	// GetProductByName loads a product row by its unique name.
	GetProductByName(ctx context.Context, name string) (*apollo.SupportedProduct, error)

	// AdvisoriesForSlice reports the downstream advisories whose affected
	// products and packages fall in the slice. Each advisory carries its
	// CVEs, fixes, the affected-product rows for the slice's product, and the
	// packages of the slice's repository. Package rows are returned as
	// stored; provenance validation against the affected-product rows is the
	// caller's job.
	AdvisoriesForSlice(ctx context.Context, s *Slice) ([]apollo.Advisory, error)
}
