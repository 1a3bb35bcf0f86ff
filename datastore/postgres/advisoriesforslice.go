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

var (
	advisoriesForSliceCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "updateinfo",
			Name:      "advisoriesforslice_total",
			Help:      "Total number of database queries issued in the AdvisoriesForSlice method.",
		},
		[]string{"query"},
	)
	advisoriesForSliceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "updateinfo",
			Name:      "advisoriesforslice_duration_seconds",
			Help:      "The duration of all queries issued in the AdvisoriesForSlice method.",
		},
		[]string{"query"},
	)
)

// buildSliceQuery assembles the advisory selection for one
// (product, major, arch, repo) slice.
func buildSliceQuery(s *datastore.Slice) (string, []interface{}, error) {
	psql := goqu.Dialect("postgres")

	where := []goqu.Expression{
		goqu.Ex{"aap.supported_product_id": s.ProductID},
		goqu.Ex{"aap.major_version": s.MajorVersion},
		goqu.Ex{"aap.arch": s.Arch},
		goqu.Ex{"ap.repo_name": s.RepoName},
	}
	if s.MinorVersion != nil {
		where = append(where, goqu.Ex{"aap.minor_version": *s.MinorVersion})
	}

	ds := psql.From(goqu.T("advisory").As("a")).
		Join(goqu.T("advisory_affected_product").As("aap"), goqu.On(
			goqu.Ex{"aap.advisory_id": goqu.I("a.id")},
		)).
		Join(goqu.T("advisory_package").As("ap"), goqu.On(
			goqu.Ex{"ap.advisory_id": goqu.I("a.id")},
		)).
		SelectDistinct(
			goqu.I("a.id"), goqu.I("a.upstream_advisory_id"), goqu.I("a.name"),
			goqu.I("a.published_at"), goqu.I("a.synopsis"), goqu.I("a.description"),
			goqu.I("a.kind"), goqu.I("a.severity"), goqu.I("a.topic"),
			goqu.I("a.created_at"), goqu.I("a.updated_at"),
		).
		Where(where...).
		Order(goqu.I("a.id").Asc())

	return ds.Prepared(true).ToSQL()
}

// AdvisoriesForSlice implements [datastore.UpdateinfoStore].
func (s *Store) AdvisoriesForSlice(ctx context.Context, slice *datastore.Slice) ([]apollo.Advisory, error) {
	const (
		packageQuery = `
		SELECT id, advisory_id, mirror_id, supported_product_id, nevra, checksum, checksum_type,
			   module_name, module_stream, module_version, module_context, repo_name, package_name
		FROM advisory_package
		WHERE advisory_id = ANY ($1)
		  AND repo_name = $2
		ORDER BY id;
		`
		affectedQuery = `
		SELECT id, advisory_id, supported_product_id, variant, name, major_version, minor_version, arch
		FROM advisory_affected_product
		WHERE advisory_id = ANY ($1)
		  AND supported_product_id = $2
		ORDER BY id;
		`
	)
	ctx = zlog.ContextWithValues(ctx,
		"component", "datastore/postgres/Store.AdvisoriesForSlice",
		"repo", slice.RepoName)

	query, args, err := buildSliceQuery(slice)
	if err != nil {
		return nil, fmt.Errorf("failed to build slice query: %w", err)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query slice advisories: %w", err)
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
			return nil, fmt.Errorf("failed to scan slice advisory: %w", err)
		}
		idx[a.ID] = len(out)
		out = append(out, a)
		ids = append(ids, a.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	advisoriesForSliceCounter.WithLabelValues("advisories").Add(1)
	advisoriesForSliceDuration.WithLabelValues("advisories").Observe(time.Since(start).Seconds())
	if len(out) == 0 {
		return nil, nil
	}

	start = time.Now()
	rows, err = s.pool.Query(ctx, packageQuery, ids, slice.RepoName)
	if err != nil {
		return nil, fmt.Errorf("failed to query slice packages: %w", err)
	}
	for rows.Next() {
		var p apollo.AdvisoryPackage
		err := rows.Scan(&p.ID, &p.AdvisoryID, &p.MirrorID, &p.ProductID, &p.NEVRA,
			&p.Checksum, &p.ChecksumType, &p.ModuleName, &p.ModuleStream,
			&p.ModuleVersion, &p.ModuleContext, &p.RepoName, &p.PackageName)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan slice package: %w", err)
		}
		a := &out[idx[p.AdvisoryID]]
		a.Packages = append(a.Packages, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	advisoriesForSliceCounter.WithLabelValues("packages").Add(1)
	advisoriesForSliceDuration.WithLabelValues("packages").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err = s.pool.Query(ctx, affectedQuery, ids, slice.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slice affected products: %w", err)
	}
	for rows.Next() {
		var ap apollo.AdvisoryAffectedProduct
		err := rows.Scan(&ap.ID, &ap.AdvisoryID, &ap.ProductID, &ap.Variant, &ap.Name,
			&ap.MajorVersion, &ap.MinorVersion, &ap.Arch)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan slice affected product: %w", err)
		}
		a := &out[idx[ap.AdvisoryID]]
		a.AffectedProducts = append(a.AffectedProducts, ap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	advisoriesForSliceCounter.WithLabelValues("affected").Add(1)
	advisoriesForSliceDuration.WithLabelValues("affected").Observe(time.Since(start).Seconds())

	if err := s.loadAdvisoryRefs(ctx, ids, func(id int64) *apollo.Advisory {
		return &out[idx[id]]
	}); err != nil {
		return nil, err
	}

	zlog.Debug(ctx).Int("count", len(out)).Msg("slice advisories")
	return out, nil
}

// loadAdvisoryRefs attaches CVE and fix rows to the advisories resolved by
// "get".
func (s *Store) loadAdvisoryRefs(ctx context.Context, ids []int64, get func(int64) *apollo.Advisory) error {
	const (
		cveQuery = `
		SELECT id, advisory_id, cve, cvss3_scoring_vector, cvss3_base_score, cwe
		FROM advisory_cve
		WHERE advisory_id = ANY ($1)
		ORDER BY id;
		`
		fixQuery = `
		SELECT id, advisory_id, ticket_id, source, description
		FROM advisory_fix
		WHERE advisory_id = ANY ($1)
		ORDER BY id;
		`
	)

	start := time.Now()
	rows, err := s.pool.Query(ctx, cveQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query advisory cves: %w", err)
	}
	for rows.Next() {
		var c apollo.AdvisoryCVE
		if err := rows.Scan(&c.ID, &c.AdvisoryID, &c.CVE, &c.Cvss3ScoringVector, &c.Cvss3BaseScore, &c.CWE); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan advisory cve: %w", err)
		}
		a := get(c.AdvisoryID)
		a.CVEs = append(a.CVEs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	advisoriesForSliceCounter.WithLabelValues("cves").Add(1)
	advisoriesForSliceDuration.WithLabelValues("cves").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err = s.pool.Query(ctx, fixQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query advisory fixes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f apollo.AdvisoryFix
		if err := rows.Scan(&f.ID, &f.AdvisoryID, &f.TicketID, &f.Source, &f.Description); err != nil {
			return fmt.Errorf("failed to scan advisory fix: %w", err)
		}
		a := get(f.AdvisoryID)
		a.Fixes = append(a.Fixes, f)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	advisoriesForSliceCounter.WithLabelValues("fixes").Add(1)
	advisoriesForSliceDuration.WithLabelValues("fixes").Observe(time.Since(start).Seconds())

	return nil
}
