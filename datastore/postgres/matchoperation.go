package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
)

var (
	matchOperationCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "matchoperation_total",
			Help:      "Total number of database queries issued in the match operation methods.",
		},
		[]string{"query"},
	)
	matchOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "matchoperation_duration_seconds",
			Help:      "The duration of all queries issued in the match operation methods.",
		},
		[]string{"query"},
	)
)

// BeginMatchOperation implements [datastore.MatcherStore].
func (s *Store) BeginMatchOperation(ctx context.Context, productID int64) (uuid.UUID, error) {
	const query = `
	INSERT INTO match_operation (id, supported_product_id)
	VALUES ($1, $2);
	`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.BeginMatchOperation")

	id := uuid.New()
	start := time.Now()
	if _, err := s.pool.Exec(ctx, query, id, productID); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record match operation: %w", err)
	}
	matchOperationCounter.WithLabelValues("begin").Add(1)
	matchOperationDuration.WithLabelValues("begin").Observe(time.Since(start).Seconds())
	zlog.Debug(ctx).Str("ref", id.String()).Int64("product", productID).Msg("match operation started")
	return id, nil
}

// FinishMatchOperation implements [datastore.MatcherStore].
func (s *Store) FinishMatchOperation(ctx context.Context, id uuid.UUID, opErr error) error {
	const query = `
	UPDATE match_operation
	SET finished_at = now(),
		error       = $2
	WHERE id = $1;
	`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.FinishMatchOperation")

	var msg *string
	if opErr != nil {
		e := opErr.Error()
		msg = &e
	}
	start := time.Now()
	if _, err := s.pool.Exec(ctx, query, id, msg); err != nil {
		return fmt.Errorf("failed to finish match operation: %w", err)
	}
	matchOperationCounter.WithLabelValues("finish").Add(1)
	matchOperationDuration.WithLabelValues("finish").Observe(time.Since(start).Seconds())
	return nil
}
