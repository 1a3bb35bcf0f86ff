package matcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"github.com/quay/zlog"
	"golang.org/x/sync/semaphore"
)

// DefaultInterval is how often a started Manager runs the match workflow.
const DefaultInterval = 6 * time.Hour

// DefaultBatchSize caps concurrently matched products.
var DefaultBatchSize = runtime.NumCPU()

// Manager drives the match and poll workflows on an interval.
//
// The Manager may be used in a one-shot fashion via Run, configured to run
// background passes via Start, or both.
type Manager struct {
	activities *Activities
	// max in-flight products.
	batchSize int
	// match interval used once Manager.Start is invoked.
	interval time.Duration
	// filter restricts matching to these product ids when non-empty.
	filter map[int64]struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithInterval overrides [DefaultInterval].
func WithInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.interval = d }
}

// WithBatchSize overrides [DefaultBatchSize].
func WithBatchSize(n int) ManagerOption {
	return func(m *Manager) { m.batchSize = n }
}

// WithProductFilter restricts the match workflow to the provided ids.
func WithProductFilter(ids []int64) ManagerOption {
	return func(m *Manager) {
		if len(ids) == 0 {
			return
		}
		m.filter = make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			m.filter[id] = struct{}{}
		}
	}
}

// NewManager returns a Manager ready to have its Start or Run methods
// called.
func NewManager(activities *Activities, opts ...ManagerOption) (*Manager, error) {
	if activities == nil {
		return nil, errors.New("matcher: nil activities")
	}
	m := &Manager{
		activities: activities,
		batchSize:  DefaultBatchSize,
		interval:   DefaultInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.batchSize < 1 {
		return nil, fmt.Errorf("matcher: bad batch size %d", m.batchSize)
	}
	return m, nil
}

// Start runs the workflows at the configured interval, plus up to a minute
// of jitter so multiple deployments don't thunder together.
//
// Start is designed to be run as a goroutine. Cancel the provided ctx to end
// the loop.
func (m *Manager) Start(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "matcher/Manager.Start")

	zlog.Info(ctx).Msg("starting initial match pass")
	if err := m.Run(ctx); err != nil {
		zlog.Error(ctx).Err(err).Msg("error in match pass")
	}

	zlog.Info(ctx).Str("interval", m.interval.String()).Msg("starting background matching")
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(rand.Int63n(int64(time.Minute)))):
			}
			if err := m.Run(ctx); err != nil {
				zlog.Error(ctx).Err(err).Msg("error in match pass")
			}
		}
	}
}

// Run executes the match workflow once: list the matchable products, then
// match each, batchSize at a time.
//
// Run is safe to call at any time, regardless of whether background passes
// are running.
func (m *Manager) Run(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "matcher/Manager.Run")

	lctx, cancel := context.WithTimeout(ctx, ListProductsDeadline)
	ids, err := m.activities.ListProductsWithMirrors(lctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}
	if m.filter != nil {
		filtered := ids[:0]
		for _, id := range ids {
			if _, ok := m.filter[id]; ok {
				filtered = append(filtered, id)
			}
		}
		ids = filtered
	}
	zlog.Info(ctx).Int("total", len(ids)).Int("batchSize", m.batchSize).Msg("matching products")

	sem := semaphore.NewWeighted(int64(m.batchSize))
	errChan := make(chan error, len(ids)+1)
	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			zlog.Error(ctx).Err(err).Msg("sem acquire failed, ending match run")
			errChan <- err
			break
		}
		go func(id int64) {
			defer sem.Release(1)
			if err := ctx.Err(); err != nil {
				return
			}
			mctx, cancel := context.WithTimeout(ctx, MatchProductDeadline)
			defer cancel()
			if err := m.activities.MatchProduct(mctx, id); err != nil {
				errChan <- fmt.Errorf("product %d: %w", id, err)
			}
		}(id)
	}

	// Unconditionally wait for all in-flight goroutines to return.
	if err := sem.Acquire(context.Background(), int64(m.batchSize)); err != nil {
		return err
	}

	close(errChan)
	if len(errChan) != 0 {
		var b []error
		for err := range errChan {
			b = append(b, err)
		}
		return errors.Join(b...)
	}
	return nil
}

// RunPoll executes the poll workflow once: read the ingest high-water mark,
// then hand it to the configured poll.
func (m *Manager) RunPoll(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "matcher/Manager.RunPoll")

	lctx, cancel := context.WithTimeout(ctx, LastIndexedAtDeadline)
	ts, err := m.activities.GetLastIndexedAt(lctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to read index state: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, PollUpstreamDeadline)
	defer cancel()
	return m.activities.PollUpstream(pctx, ts)
}
