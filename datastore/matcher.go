package datastore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/resf/apollo"
)

// Candidate is one upstream advisory eligible for matching against a mirror.
type Candidate struct {
	Advisory apollo.UpstreamAdvisory
	// PendingOverride is set when the candidate was included by a pending
	// override row rather than the mirror's selector. The matcher stamps the
	// override on a successful clone.
	PendingOverride bool
}

// AdvisoryClone is everything one matched upstream advisory resolves to,
// written in a single transaction.
type AdvisoryClone struct {
	ProductID   int64
	UpstreamID  int64
	Name        string
	PublishedAt *time.Time
	Synopsis    string
	Description string
	Kind        apollo.AdvisoryKind
	Severity    apollo.Severity
	Topic       string

	Packages         []apollo.AdvisoryPackage
	CVEs             []apollo.AdvisoryCVE
	Fixes            []apollo.AdvisoryFix
	AffectedProducts []apollo.AdvisoryAffectedProduct

	// BlockMirrorIDs receive a terminal block row; OverrideMirrorIDs have
	// their pending override rows stamped. Both commit with the clone.
	BlockMirrorIDs    []int64
	OverrideMirrorIDs []int64
}

// MatcherStore is the storage surface of the advisory matcher.
type MatcherStore interface {
	// ListProductsWithMirrors reports the ids of products having at least one
	// active mirror with at least one repomd.
	ListProductsWithMirrors(ctx context.Context) ([]int64, error)

	// GetProduct loads a product with its active mirrors and their repomds.
	GetProduct(ctx context.Context, id int64) (*apollo.SupportedProduct, error)

	// CandidateAdvisories reports the upstream advisories a mirror should
	// attempt, per the selector join, pending overrides, and the block grace
	// window. Results carry their packages, CVEs, bugs, and affected
	// products, ordered by issued_at ascending.
	CandidateAdvisories(ctx context.Context, mirror *apollo.Mirror, grace time.Duration) ([]Candidate, error)

	// CloneAdvisory writes one matched advisory transactionally. It upserts
	// on the downstream name, so concurrent callers settle via the unique
	// constraint; a conflicting write is retried once before reporting
	// [apollo.ErrConflict].
	CloneAdvisory(ctx context.Context, clone *AdvisoryClone) (*apollo.Advisory, error)

	// InsertBlocks records "tried, no match" rows for an upstream advisory on
	// the provided mirrors. Existing rows are left untouched.
	InsertBlocks(ctx context.Context, upstreamID int64, mirrorIDs []int64) error

	// GetLastIndexedAt reports the ingester's high-water mark, or nil if the
	// ingester has never run.
	GetLastIndexedAt(ctx context.Context) (*time.Time, error)

	// BeginMatchOperation and FinishMatchOperation bracket one matcher run
	// for auditing.
	BeginMatchOperation(ctx context.Context, productID int64) (uuid.UUID, error)
	FinishMatchOperation(ctx context.Context, id uuid.UUID, opErr error) error
}
