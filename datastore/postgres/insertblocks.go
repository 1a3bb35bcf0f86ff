package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
)

var (
	insertBlocksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "insertblocks_total",
			Help:      "Total number of database queries issued in the InsertBlocks method.",
		},
		[]string{"query"},
	)
	insertBlocksDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "insertblocks_duration_seconds",
			Help:      "The duration of all queries issued in the InsertBlocks method.",
		},
		[]string{"query"},
	)
)

// InsertBlocks implements [datastore.MatcherStore].
func (s *Store) InsertBlocks(ctx context.Context, upstreamID int64, mirrorIDs []int64) error {
	const query = `
	INSERT INTO mirror_block (mirror_id, upstream_advisory_id)
	SELECT m, $2
	FROM unnest($1::bigint[]) AS m
	ON CONFLICT (mirror_id, upstream_advisory_id) DO NOTHING;
	`
	if len(mirrorIDs) == 0 {
		return nil
	}
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.InsertBlocks")

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, mirrorIDs, upstreamID)
	if err != nil {
		return fmt.Errorf("failed to insert blocks: %w", err)
	}
	insertBlocksCounter.WithLabelValues("insert").Add(1)
	insertBlocksDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	zlog.Debug(ctx).
		Int64("upstream", upstreamID).
		Int64("inserted", tag.RowsAffected()).
		Msg("blocks recorded")
	return nil
}
