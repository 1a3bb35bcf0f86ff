package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
)

var (
	getLastIndexedAtCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "getlastindexedat_total",
			Help:      "Total number of database queries issued in the GetLastIndexedAt method.",
		},
		[]string{"query"},
	)
	getLastIndexedAtDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "getlastindexedat_duration_seconds",
			Help:      "The duration of all queries issued in the GetLastIndexedAt method.",
		},
		[]string{"query"},
	)
)

// GetLastIndexedAt implements [datastore.MatcherStore].
func (s *Store) GetLastIndexedAt(ctx context.Context) (*time.Time, error) {
	const query = `
	SELECT last_indexed_at
	FROM index_state
	WHERE onerow_id;
	`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.GetLastIndexedAt")

	var ts *time.Time
	start := time.Now()
	err := s.pool.QueryRow(ctx, query).Scan(&ts)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		// The ingester has never run.
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to query index state: %w", err)
	}
	getLastIndexedAtCounter.WithLabelValues("query").Add(1)
	getLastIndexedAtDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())
	return ts, nil
}
