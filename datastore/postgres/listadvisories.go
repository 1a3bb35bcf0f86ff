package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
)

// DefaultListLimit caps a listing when the caller didn't.
const DefaultListLimit = 100

var (
	listAdvisoriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "api",
			Name:      "listadvisories_total",
			Help:      "Total number of database queries issued in the ListAdvisories method.",
		},
		[]string{"query"},
	)
	listAdvisoriesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "api",
			Name:      "listadvisories_duration_seconds",
			Help:      "The duration of all queries issued in the ListAdvisories method.",
		},
		[]string{"query"},
	)
)

// buildListQuery assembles an advisory listing, newest first.
func buildListQuery(opts *datastore.ListOpts) (string, []interface{}, error) {
	psql := goqu.Dialect("postgres")

	ds := psql.From(goqu.T("advisory").As("a")).
		Select(
			goqu.I("a.id"), goqu.I("a.upstream_advisory_id"), goqu.I("a.name"),
			goqu.I("a.published_at"), goqu.I("a.synopsis"), goqu.I("a.description"),
			goqu.I("a.kind"), goqu.I("a.severity"), goqu.I("a.topic"),
			goqu.I("a.created_at"), goqu.I("a.updated_at"),
		)
	if opts.Kind != nil {
		ds = ds.Where(goqu.Ex{"a.kind": string(*opts.Kind)})
	}
	if opts.ProductID != 0 {
		sub := psql.From(goqu.T("advisory_affected_product").As("aap")).
			Select("aap.advisory_id").
			Where(goqu.Ex{"aap.supported_product_id": opts.ProductID})
		ds = ds.Where(goqu.I("a.id").In(sub))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	ds = ds.Order(goqu.I("a.published_at").Desc().NullsLast(), goqu.I("a.id").Desc()).
		Limit(uint(limit))

	return ds.Prepared(true).ToSQL()
}

// ListAdvisories implements [datastore.AdvisoryStore].
func (s *Store) ListAdvisories(ctx context.Context, opts datastore.ListOpts) ([]apollo.Advisory, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.ListAdvisories")

	query, args, err := buildListQuery(&opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query advisories: %w", err)
	}
	var (
		out []apollo.Advisory
		ids []int64
		idx = make(map[int64]int)
	)
	for rows.Next() {
		var a apollo.Advisory
		err := rows.Scan(&a.ID, &a.UpstreamID, &a.Name, &a.PublishedAt, &a.Synopsis,
			&a.Description, &a.Kind, &a.Severity, &a.Topic, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan advisory: %w", err)
		}
		idx[a.ID] = len(out)
		out = append(out, a)
		ids = append(ids, a.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	listAdvisoriesCounter.WithLabelValues("advisories").Add(1)
	listAdvisoriesDuration.WithLabelValues("advisories").Observe(time.Since(start).Seconds())
	if len(out) == 0 {
		return nil, nil
	}

	if err := s.loadAdvisoryChildren(ctx, ids, func(id int64) *apollo.Advisory {
		return &out[idx[id]]
	}); err != nil {
		return nil, err
	}
	return out, nil
}
