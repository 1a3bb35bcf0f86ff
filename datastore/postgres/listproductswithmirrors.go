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
	listProductsWithMirrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "listproductswithmirrors_total",
			Help:      "Total number of database queries issued in the ListProductsWithMirrors method.",
		},
		[]string{"query"},
	)
	listProductsWithMirrorsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "listproductswithmirrors_duration_seconds",
			Help:      "The duration of all queries issued in the ListProductsWithMirrors method.",
		},
		[]string{"query"},
	)
)

// ListProductsWithMirrors implements [datastore.MatcherStore].
func (s *Store) ListProductsWithMirrors(ctx context.Context) ([]int64, error) {
	const query = `
	SELECT DISTINCT sp.id
	FROM supported_product sp
	         JOIN mirror m ON m.supported_product_id = sp.id AND m.active
	         JOIN repomd r ON r.mirror_id = m.id
	ORDER BY sp.id;
	`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ListProductsWithMirrors")

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()
	listProductsWithMirrorsCounter.WithLabelValues("query").Add(1)
	listProductsWithMirrorsDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	zlog.Debug(ctx).Int("count", len(ids)).Msg("products with mirrors")
	return ids, nil
}
