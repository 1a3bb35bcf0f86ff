package matcher

import (
	"context"
	"time"

	"github.com/quay/zlog"

	"github.com/resf/apollo/datastore"
)

// Per-activity deadlines, applied by the worker as call timeouts.
const (
	ListProductsDeadline   = 20 * time.Second
	MatchProductDeadline   = 12 * time.Hour
	BlockUnmatchedDeadline = 12 * time.Hour
	LastIndexedAtDeadline  = 20 * time.Second
	PollUpstreamDeadline   = 2 * time.Hour
)

// PollFunc pulls upstream advisories issued since "from". The ingestion
// implementation lives outside this module.
type PollFunc func(ctx context.Context, from *time.Time) error

// Activities are the side-effecting operations the worker schedules.
type Activities struct {
	Store   datastore.MatcherStore
	Matcher *Matcher
	// Poll is optional; a nil Poll makes PollUpstream a no-op.
	Poll PollFunc
}

// ListProductsWithMirrors reports the matchable product ids.
func (a *Activities) ListProductsWithMirrors(ctx context.Context) ([]int64, error) {
	return a.Store.ListProductsWithMirrors(ctx)
}

// MatchProduct runs one match pass for one product.
func (a *Activities) MatchProduct(ctx context.Context, productID int64) error {
	return a.Matcher.MatchProduct(ctx, productID)
}

// BlockUnmatchedForProduct closes out a product's pending candidates.
//
// With the block-all flag set (the historical behavior, meant for products
// going defunct) every candidate of every mirror gets a block row whether or
// not it would match. With the flag unset it degrades to a normal match
// pass, which blocks only candidates that matched nothing.
func (a *Activities) BlockUnmatchedForProduct(ctx context.Context, productID int64) error {
	m := a.Matcher
	if !m.blockAllOnDefunct {
		return m.MatchProduct(ctx, productID)
	}

	ctx = zlog.ContextWithValues(ctx, "component", "matcher/Activities.BlockUnmatchedForProduct")
	product, err := a.Store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	for i := range product.Mirrors {
		mirror := &product.Mirrors[i]
		cands, err := a.Store.CandidateAdvisories(ctx, mirror, m.grace)
		if err != nil {
			return err
		}
		for ci := range cands {
			if err := a.Store.InsertBlocks(ctx, cands[ci].Advisory.ID, []int64{mirror.ID}); err != nil {
				return err
			}
		}
		zlog.Info(ctx).
			Str("mirror", mirror.Name).
			Int("blocked", len(cands)).
			Msg("swept candidates")
	}
	return nil
}

// GetLastIndexedAt reports the ingester's high-water mark.
func (a *Activities) GetLastIndexedAt(ctx context.Context) (*time.Time, error) {
	return a.Store.GetLastIndexedAt(ctx)
}

// PollUpstream runs the configured ingestion poll.
func (a *Activities) PollUpstream(ctx context.Context, from *time.Time) error {
	if a.Poll == nil {
		return nil
	}
	return a.Poll(ctx, from)
}
