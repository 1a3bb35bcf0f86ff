// Package matcher decides which upstream advisories a downstream product
// actually ships, and clones the ones it does.
//
// One MatchProduct call handles one product: it gathers candidate upstream
// advisories per mirror, reads each mirror's repository metadata, matches
// advisory NEVRAs against the repositories, and writes one transactional
// clone per matched advisory. Candidates that match nowhere get a block row
// per involved mirror; blocks only take effect after the grace window so a
// repository that catches up within it is still honored.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
	"github.com/resf/apollo/internal/nevra"
	"github.com/resf/apollo/repomd"
)

// DefaultGrace is how long a block row stays soft: a blocked advisory is
// retried until its block is at least this old.
const DefaultGrace = 14 * 24 * time.Hour

// DefaultUpstreamVendor is the vendor whose advisories are ingested.
const DefaultUpstreamVendor = "Red Hat"

var (
	matchedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "advisories_total",
			Help:      "Total number of candidate advisories processed, by outcome.",
		},
		[]string{"outcome"},
	)
	matchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "product_duration_seconds",
			Help:      "The duration of whole-product match passes.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"outcome"},
	)
)

// MetadataFetcher reads one repository's metadata. Implemented by
// [repomd.Fetcher].
type MetadataFetcher interface {
	Fetch(ctx context.Context, repomdURL string) (*repomd.Metadata, error)
}

// Matcher matches upstream advisories against downstream repositories.
type Matcher struct {
	store             datastore.MatcherStore
	fetcher           MetadataFetcher
	cfg               *nevra.Config
	grace             time.Duration
	upstreamVendor    string
	fetchConcurrency  int
	blockAllOnDefunct bool
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithFetcher sets the metadata fetcher. The default is a zero
// [repomd.Fetcher].
func WithFetcher(f MetadataFetcher) Option {
	return func(m *Matcher) { m.fetcher = f }
}

// WithNEVRAConfig sets the NEVRA parsing configuration.
func WithNEVRAConfig(c *nevra.Config) Option {
	return func(m *Matcher) { m.cfg = c }
}

// WithGrace overrides [DefaultGrace].
func WithGrace(d time.Duration) Option {
	return func(m *Matcher) { m.grace = d }
}

// WithUpstreamVendor overrides [DefaultUpstreamVendor] in advisory text
// rewrites.
func WithUpstreamVendor(v string) Option {
	return func(m *Matcher) { m.upstreamVendor = v }
}

// WithFetchConcurrency bounds parallel repomd fetches within one mirror.
func WithFetchConcurrency(n int) Option {
	return func(m *Matcher) { m.fetchConcurrency = n }
}

// WithBlockAllOnDefunct controls the defunct-product sweep: when set (the
// historical behavior), BlockUnmatchedForProduct blocks every candidate of
// every mirror; when unset it runs a normal match pass, which blocks only
// candidates that matched nothing.
func WithBlockAllOnDefunct(b bool) Option {
	return func(m *Matcher) { m.blockAllOnDefunct = b }
}

// New returns a Matcher over the provided store.
func New(store datastore.MatcherStore, opts ...Option) (*Matcher, error) {
	if store == nil {
		return nil, errors.New("matcher: nil store")
	}
	m := &Matcher{
		store:             store,
		fetcher:           &repomd.Fetcher{},
		cfg:               nevra.Default(),
		grace:             DefaultGrace,
		upstreamVendor:    DefaultUpstreamVendor,
		fetchConcurrency:  4,
		blockAllOnDefunct: true,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Aggregate is one upstream advisory's accumulated state across every mirror
// of the product.
type aggregate struct {
	upstream apollo.UpstreamAdvisory
	// packages keyed by downstream NEVRA, first match wins.
	packages map[string]apollo.AdvisoryPackage
	order    []string
	// involved mirrors had the advisory as a candidate; participating ones
	// produced at least one package.
	involved      []int64
	participating []*apollo.Mirror
	// overrides are involved mirrors whose pending override drove inclusion.
	overrides []int64
	// production is set when any accepted package came from a production
	// repomd.
	production bool
}

func (a *aggregate) add(p apollo.AdvisoryPackage) {
	if _, ok := a.packages[p.NEVRA]; ok {
		return
	}
	a.packages[p.NEVRA] = p
	a.order = append(a.order, p.NEVRA)
}

// MatchProduct runs one full match pass for the product, recording it as a
// match operation.
func (m *Matcher) MatchProduct(ctx context.Context, productID int64) error {
	ctx = zlog.ContextWithValues(ctx,
		"component", "matcher/Matcher.MatchProduct",
		"product_id", fmt.Sprint(productID))

	ref, err := m.store.BeginMatchOperation(ctx, productID)
	if err != nil {
		return err
	}
	start := time.Now()
	err = m.matchProduct(ctx, productID)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	matchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if ferr := m.store.FinishMatchOperation(ctx, ref, err); ferr != nil {
		zlog.Warn(ctx).Err(ferr).Msg("failed to finish match operation")
	}
	return err
}

func (m *Matcher) matchProduct(ctx context.Context, productID int64) error {
	product, err := m.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	ctx = zlog.ContextWithValues(ctx, "product", product.Name)
	if len(product.Mirrors) == 0 {
		return fmt.Errorf("product %q has no active mirrors", product.Name)
	}

	agg := make(map[int64]*aggregate)
	for i := range product.Mirrors {
		mirror := &product.Mirrors[i]
		if err := m.matchMirror(ctx, mirror, agg); err != nil {
			return err
		}
	}

	// Earliest upstream wins package ownership, so clone oldest first.
	ordered := make([]*aggregate, 0, len(agg))
	for _, a := range agg {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].upstream.IssuedAt.Equal(ordered[j].upstream.IssuedAt) {
			return ordered[i].upstream.IssuedAt.Before(ordered[j].upstream.IssuedAt)
		}
		return ordered[i].upstream.ID < ordered[j].upstream.ID
	})

	var errs []error
	for _, a := range ordered {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		actx := zlog.ContextWithValues(ctx, "advisory", a.upstream.Name)
		if len(a.packages) == 0 {
			if err := m.store.InsertBlocks(actx, a.upstream.ID, a.involved); err != nil {
				return err
			}
			matchedCounter.WithLabelValues("blocked").Add(1)
			zlog.Debug(actx).Msg("no packages matched, blocked")
			continue
		}
		clone := m.buildClone(product, a)
		if _, err := m.store.CloneAdvisory(actx, clone); err != nil {
			// A failed clone leaves no block; the advisory is retried on the
			// next pass.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			matchedCounter.WithLabelValues("error").Add(1)
			zlog.Error(actx).Err(err).Msg("clone failed")
			errs = append(errs, fmt.Errorf("%s: %w", a.upstream.Name, err))
			continue
		}
		matchedCounter.WithLabelValues("cloned").Add(1)
		zlog.Info(actx).
			Str("downstream", clone.Name).
			Int("packages", len(clone.Packages)).
			Msg("advisory cloned")
	}
	return errors.Join(errs...)
}

// matchMirror matches every candidate of one mirror against the mirror's
// repositories and folds the results into agg.
func (m *Matcher) matchMirror(ctx context.Context, mirror *apollo.Mirror, agg map[int64]*aggregate) error {
	ctx = zlog.ContextWithValues(ctx, "mirror", mirror.Name)

	cands, err := m.store.CandidateAdvisories(ctx, mirror, m.grace)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		zlog.Debug(ctx).Msg("no candidates")
		return nil
	}

	indexes := m.fetchIndexes(ctx, mirror)
	arches := m.cfg.ArchesFor(mirror.MatchArch)

	for ci := range cands {
		cand := &cands[ci]
		a := agg[cand.Advisory.ID]
		if a == nil {
			a = &aggregate{
				upstream: cand.Advisory,
				packages: make(map[string]apollo.AdvisoryPackage),
			}
			agg[cand.Advisory.ID] = a
		}
		a.involved = append(a.involved, mirror.ID)
		if cand.PendingOverride {
			a.overrides = append(a.overrides, mirror.ID)
		}

		matched := false
		for _, idx := range indexes {
			pkgs := m.matchAdvisory(ctx, &cand.Advisory, idx, arches, mirror)
			if len(pkgs) == 0 {
				continue
			}
			matched = true
			if idx.production {
				a.production = true
			}
			for _, p := range pkgs {
				a.add(p)
			}
		}
		if matched {
			a.participating = append(a.participating, mirror)
		}
	}
	return ctx.Err()
}

// matchAdvisory matches one advisory's packages against one repository
// index per the arch policy, direct cleaned-NEVRA lookup, the name-prefix
// fallback, and the modular tie-break.
func (m *Matcher) matchAdvisory(ctx context.Context, ua *apollo.UpstreamAdvisory, idx *repoIndex, arches map[string]struct{}, mirror *apollo.Mirror) []apollo.AdvisoryPackage {
	var out []apollo.AdvisoryPackage
	for i := range ua.Packages {
		up := &ua.Packages[i]
		n, err := m.cfg.Parse(up.NEVRA)
		if err != nil {
			zlog.Debug(ctx).Err(err).Str("nevra", up.NEVRA).Msg("skipping unparseable advisory package")
			continue
		}
		if _, ok := arches[n.Arch]; !ok {
			continue
		}

		hits := idx.byCleaned[n.Cleaned]
		if len(hits) == 0 {
			for _, cl := range idx.byName[n.Name] {
				if m.cfg.PrefixMatch(n.Cleaned, cl) {
					hits = append(hits, idx.byCleaned[cl]...)
				}
			}
		}
		for _, rp := range hits {
			if n.Modular {
				// Both sides carry a module marker here; a repository rebuild
				// under a different platform stream must not be accepted.
				ar, aok := nevra.ParseModuleRelease(n.Release)
				rr, rok := nevra.ParseModuleRelease(rp.Release)
				if !aok || !rok || !ar.Equivalent(rr) {
					continue
				}
			}
			out = append(out, idx.advisoryPackage(m.cfg, rp, mirror))
		}
	}
	return out
}

// fetchIndexes reads the metadata of each repomd whose arch matches the
// mirror, in parallel. A failed repository is logged and skipped; the
// others proceed.
func (m *Matcher) fetchIndexes(ctx context.Context, mirror *apollo.Mirror) []*repoIndex {
	var (
		mu  sync.Mutex
		out []*repoIndex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fetchConcurrency)
	for i := range mirror.Repomds {
		r := &mirror.Repomds[i]
		if r.Arch != mirror.MatchArch {
			zlog.Debug(ctx).
				Str("repo", r.RepoName).
				Str("arch", r.Arch).
				Msg("repomd arch differs from mirror, skipping")
			continue
		}
		g.Go(func() error {
			md, err := m.fetcher.Fetch(gctx, r.URL)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				zlog.Error(gctx).
					Err(err).
					Str("repo", r.RepoName).
					Str("url", r.URL).
					Msg("failed to read repository metadata, skipping repomd")
				return nil
			}
			idx := buildIndex(m.cfg, r, md)
			mu.Lock()
			out = append(out, idx)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zlog.Debug(ctx).Err(err).Msg("metadata fetch interrupted")
	}
	// Stable iteration keeps "first repo wins" deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
