package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
	"github.com/resf/apollo/test/integration"
)

// TestStoreRoundTrip drives the whole store surface against a real database:
// seed upstream rows, select candidates, clone, and read the clone back
// through every serving query.
func TestStoreRoundTrip(t *testing.T) {
	integration.Skip(t)
	ctx := zlog.Test(context.Background(), t)

	pool, err := Connect(ctx, integration.DSN(t), "apollo-test")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	store, err := InitPostgresStore(ctx, pool, true)
	if err != nil {
		t.Fatal(err)
	}

	var (
		productID, mirrorID, upstreamID int64
		issued                          = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	)
	err = pool.QueryRow(ctx, `
		INSERT INTO supported_product (name, variant, vendor, code)
		VALUES ('Rocky Linux', 'Red Hat Enterprise Linux', 'Rocky Enterprise Software Foundation', 'RL')
		ON CONFLICT (name) DO UPDATE SET code = excluded.code
		RETURNING id;`).Scan(&productID)
	if err != nil {
		t.Fatal(err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO mirror (supported_product_id, name, match_variant, match_major_version, match_arch)
		VALUES ($1, 'Rocky Linux 9 x86_64', 'Red Hat Enterprise Linux', 9, 'x86_64')
		RETURNING id;`, productID).Scan(&mirrorID)
	if err != nil {
		t.Fatal(err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO repomd (mirror_id, repo_name, arch, production, url)
		VALUES ($1, 'BaseOS', 'x86_64', true, 'http://mirror.test/BaseOS/repodata/repomd.xml');`, mirrorID)
	if err != nil {
		t.Fatal(err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO upstream_advisory (name, issued_at, synopsis, description, kind, severity)
		VALUES ('RHSA-2024:1234', $1, 'Important: bash security update', 'An update for bash.', 'Security', 'Important')
		RETURNING id;`, issued).Scan(&upstreamID)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range []string{
		`INSERT INTO upstream_package (upstream_advisory_id, nevra) VALUES ($1, 'bash-5.1.8-6.el9_4.x86_64');`,
		`INSERT INTO upstream_cve (upstream_advisory_id, cve) VALUES ($1, 'CVE-2024-0001');`,
		`INSERT INTO upstream_bug (upstream_advisory_id, ticket_id, source) VALUES ($1, '2222222', 'https://bugzilla.redhat.com/2222222');`,
		`INSERT INTO upstream_affected_product (upstream_advisory_id, variant, name, major_version, arch)
		 VALUES ($1, 'Red Hat Enterprise Linux', 'Red Hat Enterprise Linux', 9, 'x86_64');`,
	} {
		if _, err := pool.Exec(ctx, q, upstreamID); err != nil {
			t.Fatal(err)
		}
	}

	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM advisory WHERE upstream_advisory_id = $1;`, upstreamID)
		pool.Exec(ctx, `DELETE FROM upstream_advisory WHERE id = $1;`, upstreamID)
		pool.Exec(ctx, `DELETE FROM supported_product WHERE id = $1;`, productID)
	})

	ids, err := store.ListProductsWithMirrors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, id := range ids {
		if id == productID {
			found = true
		}
	}
	if !found {
		t.Fatalf("product %d not listed in %v", productID, ids)
	}

	product, err := store.GetProduct(ctx, productID)
	if err != nil {
		t.Fatal(err)
	}
	if len(product.Mirrors) != 1 || len(product.Mirrors[0].Repomds) != 1 {
		t.Fatalf("bad product load: %+v", product)
	}
	mirror := &product.Mirrors[0]

	cands, err := store.CandidateAdvisories(ctx, mirror, 14*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("got %d candidates, want 1", len(cands))
	}
	ua := &cands[0].Advisory
	if ua.Name != "RHSA-2024:1234" || len(ua.Packages) != 1 || len(ua.CVEs) != 1 || len(ua.Bugs) != 1 {
		t.Fatalf("bad candidate: %+v", ua)
	}
	if cands[0].PendingOverride {
		t.Error("no override present, candidate should not be pending")
	}

	clone := &datastore.AdvisoryClone{
		ProductID:   productID,
		UpstreamID:  upstreamID,
		Name:        "RLSA-2024:1234",
		Synopsis:    "Important: bash security update",
		Description: "An update for bash.",
		Kind:        apollo.KindSecurity,
		Severity:    apollo.Important,
		Topic:       "An update for bash is now available for Rocky Linux 9.",
		Packages: []apollo.AdvisoryPackage{{
			MirrorID:     mirrorID,
			ProductID:    productID,
			NEVRA:        "bash-0:5.1.8-6.el9.x86_64",
			Checksum:     "cafe",
			ChecksumType: "sha256",
			RepoName:     "BaseOS",
			PackageName:  "bash",
		}},
		CVEs:  []apollo.AdvisoryCVE{{CVE: "CVE-2024-0001"}},
		Fixes: []apollo.AdvisoryFix{{TicketID: "2222222", Source: "https://bugzilla.redhat.com/2222222"}},
		AffectedProducts: []apollo.AdvisoryAffectedProduct{{
			ProductID:    productID,
			Variant:      "Red Hat Enterprise Linux",
			Name:         "Rocky Linux",
			MajorVersion: 9,
			Arch:         "x86_64",
		}},
		BlockMirrorIDs: []int64{mirrorID},
	}
	now := time.Now().UTC()
	clone.PublishedAt = &now

	got, err := store.CloneAdvisory(ctx, clone)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID == 0 || got.Name != "RLSA-2024:1234" {
		t.Fatalf("bad clone result: %+v", got)
	}

	// Cloning again lands on the same row.
	again, err := store.CloneAdvisory(ctx, clone)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != got.ID {
		t.Errorf("re-clone produced new row: %d != %d", again.ID, got.ID)
	}

	// The clone's block row is fresh, so the advisory stays a candidate
	// within the grace window and drops out with a zero grace.
	cands, err = store.CandidateAdvisories(ctx, mirror, 14*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Errorf("fresh block should not exclude: got %d candidates", len(cands))
	}
	cands, err = store.CandidateAdvisories(ctx, mirror, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("aged block should exclude: got %d candidates", len(cands))
	}

	// A pending override re-admits the advisory despite the block, and is
	// stamped by the next clone.
	_, err = pool.Exec(ctx, `
		INSERT INTO mirror_override (mirror_id, upstream_advisory_id) VALUES ($1, $2);`,
		mirrorID, upstreamID)
	if err != nil {
		t.Fatal(err)
	}
	cands, err = store.CandidateAdvisories(ctx, mirror, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || !cands[0].PendingOverride {
		t.Fatalf("override should re-admit as pending: %+v", cands)
	}
	clone.OverrideMirrorIDs = []int64{mirrorID}
	if _, err := store.CloneAdvisory(ctx, clone); err != nil {
		t.Fatal(err)
	}
	cands, err = store.CandidateAdvisories(ctx, mirror, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("stamped override should not re-admit: %+v", cands)
	}

	adv, err := store.GetAdvisory(ctx, "RLSA-2024:1234")
	if err != nil {
		t.Fatal(err)
	}
	if adv == nil {
		t.Fatal("advisory not found")
	}
	if len(adv.Packages) != 1 || len(adv.CVEs) != 1 || len(adv.Fixes) != 1 || len(adv.AffectedProducts) != 1 {
		t.Fatalf("bad advisory load: %+v", adv)
	}
	if missing, err := store.GetAdvisory(ctx, "RLSA-1999:0000"); err != nil || missing != nil {
		t.Fatalf("miss should be (nil, nil), got (%v, %v)", missing, err)
	}

	list, err := store.ListAdvisories(ctx, datastore.ListOpts{ProductID: productID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d advisories, want 1", len(list))
	}

	slice := &datastore.Slice{
		ProductID:    productID,
		MajorVersion: 9,
		Arch:         "x86_64",
		RepoName:     "BaseOS",
	}
	forSlice, err := store.AdvisoriesForSlice(ctx, slice)
	if err != nil {
		t.Fatal(err)
	}
	if len(forSlice) != 1 || len(forSlice[0].Packages) != 1 {
		t.Fatalf("bad slice result: %+v", forSlice)
	}

	ref, err := store.BeginMatchOperation(ctx, productID)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.FinishMatchOperation(ctx, ref, nil); err != nil {
		t.Fatal(err)
	}
}

func TestLastIndexedAt(t *testing.T) {
	integration.Skip(t)
	ctx := zlog.Test(context.Background(), t)

	pool, err := Connect(ctx, integration.DSN(t), "apollo-test")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	store, err := InitPostgresStore(ctx, pool, true)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := pool.Exec(ctx, `DELETE FROM index_state;`); err != nil {
		t.Fatal(err)
	}
	ts, err := store.GetLastIndexedAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ts != nil {
		t.Errorf("empty state should be nil, got %v", ts)
	}

	want := time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)
	_, err = pool.Exec(ctx, `
		INSERT INTO index_state (onerow_id, last_indexed_at) VALUES (true, $1)
		ON CONFLICT (onerow_id) DO UPDATE SET last_indexed_at = excluded.last_indexed_at;`, want)
	if err != nil {
		t.Fatal(err)
	}
	ts, err = store.GetLastIndexedAt(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ts == nil || !ts.Equal(want) {
		t.Errorf("got %v, want %v", ts, want)
	}
}
