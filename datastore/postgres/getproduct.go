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

	"github.com/resf/apollo"
)

var (
	getProductCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "getproduct_total",
			Help:      "Total number of database queries issued in the GetProduct methods.",
		},
		[]string{"query"},
	)
	getProductDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "getproduct_duration_seconds",
			Help:      "The duration of all queries issued in the GetProduct methods.",
		},
		[]string{"query"},
	)
)

// GetProduct implements [datastore.MatcherStore].
//
// The returned product carries its active mirrors and their repomds.
func (s *Store) GetProduct(ctx context.Context, id int64) (*apollo.SupportedProduct, error) {
	const query = `
	SELECT id, name, variant, vendor, code
	FROM supported_product
	WHERE id = $1;
	`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.GetProduct")
	return s.getProduct(ctx, query, id)
}

// GetProductByName implements [datastore.UpdateinfoStore].
func (s *Store) GetProductByName(ctx context.Context, name string) (*apollo.SupportedProduct, error) {
	const query = `
	SELECT id, name, variant, vendor, code
	FROM supported_product
	WHERE name = $1;
	`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.GetProductByName")
	return s.getProduct(ctx, query, name)
}

func (s *Store) getProduct(ctx context.Context, query string, arg any) (*apollo.SupportedProduct, error) {
	const (
		mirrorQuery = `
		SELECT id, supported_product_id, name, match_variant, match_major_version, match_minor_version, match_arch, active
		FROM mirror
		WHERE supported_product_id = $1
		  AND active
		ORDER BY id;
		`
		repomdQuery = `
		SELECT id, mirror_id, repo_name, arch, production, url, debug_url, source_url
		FROM repomd
		WHERE mirror_id = ANY ($1)
		ORDER BY id;
		`
	)

	var p apollo.SupportedProduct
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&p.ID, &p.Name, &p.Variant, &p.Vendor, &p.Code)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &apollo.Error{
			Op:      "datastore/postgres/Store.getProduct",
			Kind:    apollo.ErrProductUnknown,
			Message: fmt.Sprintf("no product %v", arg),
		}
	default:
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	getProductCounter.WithLabelValues("product").Add(1)
	getProductDuration.WithLabelValues("product").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err := s.pool.Query(ctx, mirrorQuery, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirrors: %w", err)
	}
	var mirrorIDs []int64
	byMirror := make(map[int64]int)
	for rows.Next() {
		var m apollo.Mirror
		err := rows.Scan(&m.ID, &m.ProductID, &m.Name, &m.MatchVariant, &m.MatchMajorVersion, &m.MatchMinorVersion, &m.MatchArch, &m.Active)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan mirror: %w", err)
		}
		byMirror[m.ID] = len(p.Mirrors)
		p.Mirrors = append(p.Mirrors, m)
		mirrorIDs = append(mirrorIDs, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	getProductCounter.WithLabelValues("mirrors").Add(1)
	getProductDuration.WithLabelValues("mirrors").Observe(time.Since(start).Seconds())

	if len(mirrorIDs) == 0 {
		return &p, nil
	}

	start = time.Now()
	rows, err = s.pool.Query(ctx, repomdQuery, mirrorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query repomds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r apollo.Repomd
		err := rows.Scan(&r.ID, &r.MirrorID, &r.RepoName, &r.Arch, &r.Production, &r.URL, &r.DebugURL, &r.SourceURL)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repomd: %w", err)
		}
		i := byMirror[r.MirrorID]
		p.Mirrors[i].Repomds = append(p.Mirrors[i].Repomds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	getProductCounter.WithLabelValues("repomds").Add(1)
	getProductDuration.WithLabelValues("repomds").Observe(time.Since(start).Seconds())

	return &p, nil
}
