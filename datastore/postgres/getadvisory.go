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
	getAdvisoryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "api",
			Name:      "getadvisory_total",
			Help:      "Total number of database queries issued in the GetAdvisory method.",
		},
		[]string{"query"},
	)
	getAdvisoryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "api",
			Name:      "getadvisory_duration_seconds",
			Help:      "The duration of all queries issued in the GetAdvisory method.",
		},
		[]string{"query"},
	)
)

// GetAdvisory implements [datastore.AdvisoryStore].
func (s *Store) GetAdvisory(ctx context.Context, name string) (*apollo.Advisory, error) {
	const query = `
	SELECT id, upstream_advisory_id, name, published_at, synopsis, description, kind, severity, topic, created_at, updated_at
	FROM advisory
	WHERE name = $1;
	`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/Store.GetAdvisory", "advisory", name)

	var a apollo.Advisory
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, name).
		Scan(&a.ID, &a.UpstreamID, &a.Name, &a.PublishedAt, &a.Synopsis,
			&a.Description, &a.Kind, &a.Severity, &a.Topic, &a.CreatedAt, &a.UpdatedAt)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to query advisory: %w", err)
	}
	getAdvisoryCounter.WithLabelValues("advisory").Add(1)
	getAdvisoryDuration.WithLabelValues("advisory").Observe(time.Since(start).Seconds())

	if err := s.loadAdvisoryChildren(ctx, []int64{a.ID}, func(int64) *apollo.Advisory { return &a }); err != nil {
		return nil, err
	}
	return &a, nil
}

// loadAdvisoryChildren attaches packages, affected products, CVEs, and fixes
// to the advisories resolved by "get", with no slice filtering.
func (s *Store) loadAdvisoryChildren(ctx context.Context, ids []int64, get func(int64) *apollo.Advisory) error {
	const (
		packageQuery = `
		SELECT id, advisory_id, mirror_id, supported_product_id, nevra, checksum, checksum_type,
			   module_name, module_stream, module_version, module_context, repo_name, package_name
		FROM advisory_package
		WHERE advisory_id = ANY ($1)
		ORDER BY id;
		`
		affectedQuery = `
		SELECT id, advisory_id, supported_product_id, variant, name, major_version, minor_version, arch
		FROM advisory_affected_product
		WHERE advisory_id = ANY ($1)
		ORDER BY id;
		`
	)

	start := time.Now()
	rows, err := s.pool.Query(ctx, packageQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query advisory packages: %w", err)
	}
	for rows.Next() {
		var p apollo.AdvisoryPackage
		err := rows.Scan(&p.ID, &p.AdvisoryID, &p.MirrorID, &p.ProductID, &p.NEVRA,
			&p.Checksum, &p.ChecksumType, &p.ModuleName, &p.ModuleStream,
			&p.ModuleVersion, &p.ModuleContext, &p.RepoName, &p.PackageName)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan advisory package: %w", err)
		}
		a := get(p.AdvisoryID)
		a.Packages = append(a.Packages, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	getAdvisoryCounter.WithLabelValues("packages").Add(1)
	getAdvisoryDuration.WithLabelValues("packages").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err = s.pool.Query(ctx, affectedQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query advisory affected products: %w", err)
	}
	for rows.Next() {
		var ap apollo.AdvisoryAffectedProduct
		err := rows.Scan(&ap.ID, &ap.AdvisoryID, &ap.ProductID, &ap.Variant, &ap.Name,
			&ap.MajorVersion, &ap.MinorVersion, &ap.Arch)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan advisory affected product: %w", err)
		}
		a := get(ap.AdvisoryID)
		a.AffectedProducts = append(a.AffectedProducts, ap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	getAdvisoryCounter.WithLabelValues("affected").Add(1)
	getAdvisoryDuration.WithLabelValues("affected").Observe(time.Since(start).Seconds())

	return s.loadAdvisoryRefs(ctx, ids, get)
}
