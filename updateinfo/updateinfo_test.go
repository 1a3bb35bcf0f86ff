package updateinfo

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/quay/zlog"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
)

type fakeStore struct {
	product    *apollo.SupportedProduct
	advisories []apollo.Advisory
	gotSlice   *datastore.Slice
}

var _ datastore.UpdateinfoStore = (*fakeStore)(nil)

func (s *fakeStore) GetProductByName(_ context.Context, name string) (*apollo.SupportedProduct, error) {
	if s.product == nil || s.product.Name != name {
		return nil, &apollo.Error{Kind: apollo.ErrProductUnknown, Message: fmt.Sprintf("no product %q", name)}
	}
	return s.product, nil
}

func (s *fakeStore) AdvisoriesForSlice(_ context.Context, slice *datastore.Slice) ([]apollo.Advisory, error) {
	s.gotSlice = slice
	return s.advisories, nil
}

var (
	testIssued  = time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC)
	testUpdated = time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)
)

func testAdvisory() apollo.Advisory {
	return apollo.Advisory{
		ID:          1,
		Name:        "RLSA-2024:1234",
		PublishedAt: &testIssued,
		Synopsis:    "Important: bash security update",
		Description: "An update for bash is now available for Rocky Linux 9.",
		Kind:        apollo.KindSecurity,
		Severity:    apollo.Important,
		Topic:       "An update for bash is now available for Rocky Linux 9.",
		CreatedAt:   testIssued,
		UpdatedAt:   testUpdated,
		CVEs: []apollo.AdvisoryCVE{
			{CVE: "CVE-2024-0001"},
		},
		Fixes: []apollo.AdvisoryFix{
			{TicketID: "2222222", Source: "https://bugzilla.redhat.com/2222222", Description: "bash crashes"},
		},
		Packages: []apollo.AdvisoryPackage{
			{
				ProductID:    1,
				NEVRA:        "bash-0:5.1.8-6.el9.x86_64",
				Checksum:     "cafe",
				ChecksumType: "sha256",
				RepoName:     "BaseOS",
				PackageName:  "bash",
			},
			{
				ProductID:    1,
				NEVRA:        "bash-0:5.1.8-6.el9.src",
				Checksum:     "beef",
				ChecksumType: "sha256",
				RepoName:     "BaseOS",
				PackageName:  "bash",
			},
			{
				ProductID:    1,
				NEVRA:        "bash-debuginfo-0:5.1.8-6.el9.x86_64",
				Checksum:     "dead",
				ChecksumType: "sha256",
				RepoName:     "BaseOS",
				PackageName:  "bash",
			},
			{
				ProductID:    1,
				NEVRA:        "bash-0:5.1.8-6.el9.aarch64",
				Checksum:     "f00d",
				ChecksumType: "sha256",
				RepoName:     "BaseOS",
				PackageName:  "bash",
			},
		},
	}
}

func testRequest() *Request {
	return &Request{
		ProductSlug:  "rocky-linux",
		MajorVersion: 9,
		RepoName:     "BaseOS",
		Arch:         "x86_64",
	}
}

func TestGenerate(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := &fakeStore{
		product:    &apollo.SupportedProduct{ID: 1, Name: "Rocky Linux"},
		advisories: []apollo.Advisory{testAdvisory()},
	}
	g := Generator{Store: store}

	doc, err := g.Generate(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if got := len(doc.Updates); got != 1 {
		t.Fatalf("got %d updates, want 1", got)
	}
	u := doc.Updates[0]
	if got, want := u.ID, "RLSA-2024:1234"; got != want {
		t.Errorf("got id %q, want %q", got, want)
	}
	if got, want := u.Type, "security"; got != want {
		t.Errorf("got type %q, want %q", got, want)
	}
	if got, want := u.Release, "Rocky Linux 9"; got != want {
		t.Errorf("got release %q, want %q", got, want)
	}
	if got, want := u.Severity, "Important"; got != want {
		t.Errorf("got severity %q, want %q", got, want)
	}

	wantRefs := []apollo.UpdateReference{
		{Href: "https://cve.mitre.org/cgi-bin/cvename.cgi?name=CVE-2024-0001", ID: "CVE-2024-0001", Type: "cve", Title: "CVE-2024-0001"},
		{Href: "https://bugzilla.redhat.com/2222222", ID: "2222222", Type: "bugzilla", Title: "bash crashes"},
		{Href: "https://errata.rockylinux.org/RLSA-2024:1234", ID: "RLSA-2024:1234", Type: "self", Title: "RLSA-2024:1234"},
	}
	if diff := cmp.Diff(wantRefs, u.References); diff != "" {
		t.Errorf("references (-want +got):\n%s", diff)
	}

	// src, debuginfo, and foreign-arch rows are all filtered out.
	if got := len(u.Collections); got != 1 {
		t.Fatalf("got %d collections, want 1", got)
	}
	col := u.Collections[0]
	if got, want := col.Short, "rocky-linux-baseos-rpms"; got != want {
		t.Errorf("got short %q, want %q", got, want)
	}
	if col.Module != nil {
		t.Error("non-modular collection should carry no module")
	}
	wantPkgs := []apollo.UpdatePackage{{
		Name:     "bash",
		Version:  "5.1.8",
		Release:  "6.el9",
		Epoch:    "0",
		Arch:     "x86_64",
		Src:      "bash-5.1.8-6.el9.src.rpm",
		Filename: "bash-5.1.8-6.el9.x86_64.rpm",
		Sum:      apollo.UpdateSum{Type: "sha256", Value: "cafe"},
	}}
	if diff := cmp.Diff(wantPkgs, col.Packages); diff != "" {
		t.Errorf("packages (-want +got):\n%s", diff)
	}

	if store.gotSlice == nil || store.gotSlice.ProductID != 1 || store.gotSlice.RepoName != "BaseOS" {
		t.Errorf("bad slice query: %+v", store.gotSlice)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	// The emitted document re-parses to the same thing.
	ctx := zlog.Test(context.Background(), t)
	store := &fakeStore{
		product:    &apollo.SupportedProduct{ID: 1, Name: "Rocky Linux"},
		advisories: []apollo.Advisory{testAdvisory()},
	}
	g := Generator{Store: store}
	doc, err := g.Generate(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := xml.NewEncoder(&buf).Encode(doc); err != nil {
		t.Fatal(err)
	}
	var got apollo.Updateinfo
	if err := xml.NewDecoder(&buf).Decode(&got); err != nil {
		t.Fatal(err)
	}
	opts := cmp.Options{
		cmp.Comparer(func(a, b apollo.Date) bool {
			return time.Time(a).Equal(time.Time(b))
		}),
		cmpopts.IgnoreFields(apollo.Updateinfo{}, "XMLName"),
	}
	if diff := cmp.Diff(doc, &got, opts); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestGenerateModular(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := testAdvisory()
	a.Packages = append(a.Packages, apollo.AdvisoryPackage{
		ProductID:     1,
		NEVRA:         "redis-0:7.2.10-1.module+el9.6.0+90210+deadbeef.x86_64",
		Checksum:      "0123",
		ChecksumType:  "sha256",
		ModuleName:    "redis",
		ModuleStream:  "7",
		ModuleVersion: "9060020240301",
		ModuleContext: "deadbeef",
		RepoName:      "AppStream",
		PackageName:   "redis",
	})
	store := &fakeStore{
		product:    &apollo.SupportedProduct{ID: 1, Name: "Rocky Linux"},
		advisories: []apollo.Advisory{a},
	}
	g := Generator{Store: store}
	doc, err := g.Generate(ctx, testRequest())
	if err != nil {
		t.Fatal(err)
	}

	// The default collection is suppressed once a modular package appears.
	if got := len(doc.Updates[0].Collections); got != 1 {
		t.Fatalf("got %d collections, want 1", got)
	}
	col := doc.Updates[0].Collections[0]
	if got, want := col.Short, "rocky-linux-baseos-rpms__redis"; got != want {
		t.Errorf("got short %q, want %q", got, want)
	}
	wantMod := &apollo.UpdateModule{
		Name:    "redis",
		Stream:  "7",
		Version: "9060020240301",
		Context: "deadbeef",
		Arch:    "x86_64",
	}
	if diff := cmp.Diff(wantMod, col.Module); diff != "" {
		t.Errorf("module (-want +got):\n%s", diff)
	}
}

func TestGenerateCrossProductSkipped(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a := testAdvisory()
	for i := range a.Packages {
		a.Packages[i].ProductID = 99
	}
	store := &fakeStore{
		product:    &apollo.SupportedProduct{ID: 1, Name: "Rocky Linux"},
		advisories: []apollo.Advisory{a},
	}
	g := Generator{Store: store}
	_, err := g.Generate(ctx, testRequest())
	if !errors.Is(err, apollo.ErrSliceEmpty) {
		t.Fatalf("got %v, want ErrSliceEmpty", err)
	}
}

func TestGenerateUnknownSlug(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	g := Generator{Store: &fakeStore{}}
	req := testRequest()
	req.ProductSlug = "definitely-not-a-product"
	_, err := g.Generate(ctx, req)
	if !errors.Is(err, apollo.ErrProductUnknown) {
		t.Fatalf("got %v, want ErrProductUnknown", err)
	}
}

func TestGenerateEmptySlice(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := &fakeStore{product: &apollo.SupportedProduct{ID: 1, Name: "Rocky Linux"}}
	g := Generator{Store: store}
	_, err := g.Generate(ctx, testRequest())
	if !errors.Is(err, apollo.ErrSliceEmpty) {
		t.Fatalf("got %v, want ErrSliceEmpty", err)
	}
}

func TestGenerateMinorVersion(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := &fakeStore{
		product:    &apollo.SupportedProduct{ID: 1, Name: "Rocky Linux"},
		advisories: []apollo.Advisory{testAdvisory()},
	}
	g := Generator{Store: store}
	req := testRequest()
	minor := 4
	req.MinorVersion = &minor
	doc, err := g.Generate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := doc.Updates[0].Release, "Rocky Linux 9.4"; got != want {
		t.Errorf("got release %q, want %q", got, want)
	}
	if store.gotSlice.MinorVersion == nil || *store.gotSlice.MinorVersion != 4 {
		t.Errorf("minor version not passed through: %+v", store.gotSlice)
	}
}

func TestSlugify(t *testing.T) {
	tt := []struct{ in, want string }{
		{"Rocky Linux-BaseOS-rpms", "rocky-linux-baseos-rpms"},
		{"Rocky Linux SIG Cloud-cloud-kernel-rpms", "rocky-linux-sig-cloud-cloud-kernel-rpms"},
		{"  spaces  ", "spaces"},
	}
	for _, tc := range tt {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
