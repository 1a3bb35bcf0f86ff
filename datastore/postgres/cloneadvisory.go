package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
	"github.com/resf/apollo/pkg/microbatch"
)

var (
	cloneAdvisoryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "cloneadvisory_total",
			Help:      "Total number of database queries issued in the CloneAdvisory method.",
		},
		[]string{"query"},
	)
	cloneAdvisoryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "apollo",
			Subsystem: "matcher",
			Name:      "cloneadvisory_duration_seconds",
			Help:      "The duration of all queries issued in the CloneAdvisory method.",
		},
		[]string{"query"},
	)
)

// CloneAdvisory implements [datastore.MatcherStore].
//
// All rows for one matched advisory commit together or not at all.
// Concurrent cloners settle on the advisory name's unique constraint; a
// losing writer retries its transaction once before reporting
// [apollo.ErrConflict].
func (s *Store) CloneAdvisory(ctx context.Context, clone *datastore.AdvisoryClone) (*apollo.Advisory, error) {
	const op = "datastore/postgres/Store.CloneAdvisory"
	ctx = zlog.ContextWithValues(ctx, "component", op, "advisory", clone.Name)

	var (
		out *apollo.Advisory
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		out, err = s.cloneAdvisory(ctx, clone)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			zlog.Debug(ctx).Str("constraint", pgErr.ConstraintName).Msg("clone raced, retrying")
			continue
		}
		return out, err
	}
	return nil, &apollo.Error{
		Op:      op,
		Kind:    apollo.ErrConflict,
		Message: fmt.Sprintf("advisory %q kept conflicting", clone.Name),
		Inner:   err,
	}
}

func (s *Store) cloneAdvisory(ctx context.Context, clone *datastore.AdvisoryClone) (*apollo.Advisory, error) {
	const (
		// The upsert keeps an existing row: only empty fields (notably the
		// topic) and the null published_at may be filled in.
		upsertAdvisory = `
		INSERT INTO advisory (upstream_advisory_id, name, published_at, synopsis, description, kind, severity, topic)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE
			SET published_at = COALESCE(advisory.published_at, excluded.published_at),
				topic        = CASE WHEN advisory.topic = '' THEN excluded.topic ELSE advisory.topic END,
				updated_at   = now()
		RETURNING id, created_at, updated_at, published_at, topic;
		`
		insertPackage = `
		INSERT INTO advisory_package (advisory_id, mirror_id, supported_product_id, nevra, checksum, checksum_type,
									  module_name, module_stream, module_version, module_context, repo_name, package_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (advisory_id, nevra) DO NOTHING;
		`
		insertCVE = `
		INSERT INTO advisory_cve (advisory_id, cve, cvss3_scoring_vector, cvss3_base_score, cwe)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (advisory_id, cve) DO NOTHING;
		`
		insertFix = `
		INSERT INTO advisory_fix (advisory_id, ticket_id, source, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (advisory_id, ticket_id) DO NOTHING;
		`
		insertAffected = `
		INSERT INTO advisory_affected_product (advisory_id, supported_product_id, variant, name, major_version, minor_version, arch)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING;
		`
		insertBlock = `
		INSERT INTO mirror_block (mirror_id, upstream_advisory_id)
		VALUES ($1, $2)
		ON CONFLICT (mirror_id, upstream_advisory_id) DO NOTHING;
		`
		stampOverride = `
		UPDATE mirror_override
		SET updated_at = now()
		WHERE mirror_id = ANY ($1)
		  AND upstream_advisory_id = $2
		  AND updated_at IS NULL;
		`
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ret := apollo.Advisory{
		UpstreamID:  clone.UpstreamID,
		Name:        clone.Name,
		Synopsis:    clone.Synopsis,
		Description: clone.Description,
		Kind:        clone.Kind,
		Severity:    clone.Severity,
	}
	start := time.Now()
	err = tx.QueryRow(ctx, upsertAdvisory,
		clone.UpstreamID, clone.Name, clone.PublishedAt, clone.Synopsis,
		clone.Description, string(clone.Kind), clone.Severity, clone.Topic,
	).Scan(&ret.ID, &ret.CreatedAt, &ret.UpdatedAt, &ret.PublishedAt, &ret.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert advisory: %w", err)
	}
	cloneAdvisoryCounter.WithLabelValues("upsert").Add(1)
	cloneAdvisoryDuration.WithLabelValues("upsert").Observe(time.Since(start).Seconds())

	start = time.Now()
	batch := microbatch.NewInsert(tx, 500, time.Minute)
	for i := range clone.Packages {
		p := &clone.Packages[i]
		err := batch.Queue(ctx, insertPackage,
			ret.ID, p.MirrorID, p.ProductID, p.NEVRA, p.Checksum, p.ChecksumType,
			p.ModuleName, p.ModuleStream, p.ModuleVersion, p.ModuleContext, p.RepoName, p.PackageName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to queue package: %w", err)
		}
	}
	for i := range clone.CVEs {
		c := &clone.CVEs[i]
		err := batch.Queue(ctx, insertCVE, ret.ID, c.CVE, c.Cvss3ScoringVector, c.Cvss3BaseScore, c.CWE)
		if err != nil {
			return nil, fmt.Errorf("failed to queue cve: %w", err)
		}
	}
	for i := range clone.Fixes {
		f := &clone.Fixes[i]
		err := batch.Queue(ctx, insertFix, ret.ID, f.TicketID, f.Source, f.Description)
		if err != nil {
			return nil, fmt.Errorf("failed to queue fix: %w", err)
		}
	}
	for i := range clone.AffectedProducts {
		ap := &clone.AffectedProducts[i]
		err := batch.Queue(ctx, insertAffected,
			ret.ID, ap.ProductID, ap.Variant, ap.Name, ap.MajorVersion, ap.MinorVersion, ap.Arch)
		if err != nil {
			return nil, fmt.Errorf("failed to queue affected product: %w", err)
		}
	}
	for _, mid := range clone.BlockMirrorIDs {
		if err := batch.Queue(ctx, insertBlock, mid, clone.UpstreamID); err != nil {
			return nil, fmt.Errorf("failed to queue block: %w", err)
		}
	}
	if err := batch.Done(ctx); err != nil {
		return nil, fmt.Errorf("failed to insert advisory children: %w", err)
	}
	cloneAdvisoryCounter.WithLabelValues("children").Add(1)
	cloneAdvisoryDuration.WithLabelValues("children").Observe(time.Since(start).Seconds())

	if len(clone.OverrideMirrorIDs) > 0 {
		start = time.Now()
		if _, err := tx.Exec(ctx, stampOverride, clone.OverrideMirrorIDs, clone.UpstreamID); err != nil {
			return nil, fmt.Errorf("failed to stamp overrides: %w", err)
		}
		cloneAdvisoryCounter.WithLabelValues("override").Add(1)
		cloneAdvisoryDuration.WithLabelValues("override").Observe(time.Since(start).Seconds())
	}

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, &apollo.Error{
				Op:      "datastore/postgres/Store.cloneAdvisory",
				Kind:    apollo.ErrCanceled,
				Message: "clone canceled",
				Inner:   err,
			}
		}
		return nil, fmt.Errorf("failed to commit clone: %w", err)
	}
	return &ret, nil
}
