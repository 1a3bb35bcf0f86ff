package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
)

var (
	candidateAdvisoriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "candidateadvisories_total",
			Help:      "Total number of database queries issued in the CandidateAdvisories method.",
		},
		[]string{"query"},
	)
	candidateAdvisoriesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "candidateadvisories_duration_seconds",
			Help:      "The duration of all queries issued in the CandidateAdvisories method.",
		},
		[]string{"query"},
	)
)

// buildCandidateQuery assembles the candidate selection for one mirror:
// advisories matching the mirror's selector or carrying a pending override,
// minus advisories blocked past the grace cutoff, restricted to advisories
// that reference at least one package.
func buildCandidateQuery(m *apollo.Mirror, cutoff time.Time) (string, []interface{}, error) {
	psql := goqu.Dialect("postgres")

	selectorEx := goqu.Ex{
		"uap.variant":       m.MatchVariant,
		"uap.major_version": m.MatchMajorVersion,
		"uap.arch":          m.MatchArch,
	}
	if m.MatchMinorVersion != nil {
		selectorEx["uap.minor_version"] = *m.MatchMinorVersion
	}
	selector := psql.From(goqu.T("upstream_affected_product").As("uap")).
		Select("uap.upstream_advisory_id").
		Where(selectorEx)

	pending := goqu.I("mo.id").IsNotNull()
	blocked := goqu.L(
		"EXISTS (SELECT 1 FROM mirror_block mb WHERE mb.mirror_id = ? AND mb.upstream_advisory_id = ua.id AND mb.created_at <= ?)",
		m.ID, cutoff,
	)
	hasPackages := goqu.L("EXISTS (SELECT 1 FROM upstream_package up WHERE up.upstream_advisory_id = ua.id)")

	ds := psql.From(goqu.T("upstream_advisory").As("ua")).
		LeftJoin(goqu.T("mirror_override").As("mo"), goqu.On(
			goqu.Ex{
				"mo.upstream_advisory_id": goqu.I("ua.id"),
				"mo.mirror_id":            m.ID,
				"mo.updated_at":           nil,
			},
		)).
		Select(
			goqu.I("ua.id"), goqu.I("ua.name"), goqu.I("ua.issued_at"),
			goqu.I("ua.synopsis"), goqu.I("ua.description"), goqu.I("ua.kind"),
			goqu.I("ua.severity"), goqu.I("ua.topic"),
			goqu.L("mo.id IS NOT NULL").As("pending_override"),
		).
		Where(
			goqu.Or(goqu.I("ua.id").In(selector), pending),
			goqu.Or(goqu.L("NOT ?", blocked), pending),
			hasPackages,
		).
		Order(goqu.I("ua.issued_at").Asc())

	return ds.Prepared(true).ToSQL()
}

// CandidateAdvisories implements [datastore.MatcherStore].
func (s *Store) CandidateAdvisories(ctx context.Context, mirror *apollo.Mirror, grace time.Duration) ([]datastore.Candidate, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "datastore/postgres/Store.CandidateAdvisories",
		"mirror", mirror.Name)

	query, args, err := buildCandidateQuery(mirror, time.Now().Add(-grace))
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate query: %w", err)
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	candidateAdvisoriesCounter.WithLabelValues("candidates").Add(1)
	candidateAdvisoriesDuration.WithLabelValues("candidates").Observe(time.Since(start).Seconds())

	var (
		out []datastore.Candidate
		ids []int64
		idx = make(map[int64]int)
	)
	for rows.Next() {
		var c datastore.Candidate
		a := &c.Advisory
		err := rows.Scan(&a.ID, &a.Name, &a.IssuedAt, &a.Synopsis, &a.Description, &a.Kind, &a.Severity, &a.Topic, &c.PendingOverride)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		idx[a.ID] = len(out)
		out = append(out, c)
		ids = append(ids, a.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	if err := s.loadUpstreamChildren(ctx, ids, func(id int64) *apollo.UpstreamAdvisory {
		return &out[idx[id]].Advisory
	}); err != nil {
		return nil, err
	}

	zlog.Debug(ctx).Int("count", len(out)).Msg("candidate advisories")
	return out, nil
}

// loadUpstreamChildren attaches packages, CVEs, bugs, and affected products
// to the advisories resolved by "get".
func (s *Store) loadUpstreamChildren(ctx context.Context, ids []int64, get func(int64) *apollo.UpstreamAdvisory) error {
	const (
		packageQuery = `
		SELECT id, upstream_advisory_id, nevra
		FROM upstream_package
		WHERE upstream_advisory_id = ANY ($1)
		ORDER BY id;
		`
		cveQuery = `
		SELECT id, upstream_advisory_id, cve, cvss3_scoring_vector, cvss3_base_score, cwe
		FROM upstream_cve
		WHERE upstream_advisory_id = ANY ($1)
		ORDER BY id;
		`
		bugQuery = `
		SELECT id, upstream_advisory_id, ticket_id, source, description
		FROM upstream_bug
		WHERE upstream_advisory_id = ANY ($1)
		ORDER BY id;
		`
		affectedQuery = `
		SELECT id, upstream_advisory_id, variant, name, major_version, minor_version, arch
		FROM upstream_affected_product
		WHERE upstream_advisory_id = ANY ($1)
		ORDER BY id;
		`
	)

	start := time.Now()
	rows, err := s.pool.Query(ctx, packageQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query upstream packages: %w", err)
	}
	for rows.Next() {
		var p apollo.UpstreamPackage
		if err := rows.Scan(&p.ID, &p.AdvisoryID, &p.NEVRA); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan upstream package: %w", err)
		}
		a := get(p.AdvisoryID)
		a.Packages = append(a.Packages, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	candidateAdvisoriesCounter.WithLabelValues("packages").Add(1)
	candidateAdvisoriesDuration.WithLabelValues("packages").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err = s.pool.Query(ctx, cveQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query upstream cves: %w", err)
	}
	for rows.Next() {
		var c apollo.UpstreamCVE
		if err := rows.Scan(&c.ID, &c.AdvisoryID, &c.CVE, &c.Cvss3ScoringVector, &c.Cvss3BaseScore, &c.CWE); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan upstream cve: %w", err)
		}
		a := get(c.AdvisoryID)
		a.CVEs = append(a.CVEs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	candidateAdvisoriesCounter.WithLabelValues("cves").Add(1)
	candidateAdvisoriesDuration.WithLabelValues("cves").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err = s.pool.Query(ctx, bugQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query upstream bugs: %w", err)
	}
	for rows.Next() {
		var b apollo.UpstreamBug
		if err := rows.Scan(&b.ID, &b.AdvisoryID, &b.TicketID, &b.Source, &b.Description); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan upstream bug: %w", err)
		}
		a := get(b.AdvisoryID)
		a.Bugs = append(a.Bugs, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	candidateAdvisoriesCounter.WithLabelValues("bugs").Add(1)
	candidateAdvisoriesDuration.WithLabelValues("bugs").Observe(time.Since(start).Seconds())

	start = time.Now()
	rows, err = s.pool.Query(ctx, affectedQuery, ids)
	if err != nil {
		return fmt.Errorf("failed to query upstream affected products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ap apollo.UpstreamAffectedProduct
		if err := rows.Scan(&ap.ID, &ap.AdvisoryID, &ap.Variant, &ap.Name, &ap.MajorVersion, &ap.MinorVersion, &ap.Arch); err != nil {
			return fmt.Errorf("failed to scan upstream affected product: %w", err)
		}
		a := get(ap.AdvisoryID)
		a.AffectedProducts = append(a.AffectedProducts, ap)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	candidateAdvisoriesCounter.WithLabelValues("affected").Add(1)
	candidateAdvisoriesDuration.WithLabelValues("affected").Observe(time.Since(start).Seconds())

	return nil
}
