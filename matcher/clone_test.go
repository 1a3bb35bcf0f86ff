package matcher

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/resf/apollo"
)

func TestDownstreamName(t *testing.T) {
	tt := []struct {
		code, upstream, want string
	}{
		{"RL", "RHSA-2024:1234", "RLSA-2024:1234"},
		{"RL", "RHBA-2023:0001", "RLBA-2023:0001"},
		{"RL", "RHEA-2022:4567", "RLEA-2022:4567"},
		{"RX", "RHSA-2024:1234", "RXSA-2024:1234"},
		{"RL", "X", "RLX"},
	}
	for _, tc := range tt {
		if got := downstreamName(tc.code, tc.upstream); got != tc.want {
			t.Errorf("downstreamName(%q, %q) = %q, want %q", tc.code, tc.upstream, got, tc.want)
		}
	}
}

func TestJoinAnd(t *testing.T) {
	tt := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"bash"}, "bash"},
		{[]string{"bash", "zsh"}, "bash and zsh"},
		{[]string{"bash", "fish", "zsh"}, "bash, fish, and zsh"},
	}
	for _, tc := range tt {
		if got := joinAnd(tc.in); got != tc.want {
			t.Errorf("joinAnd(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSynthesizeTopic(t *testing.T) {
	pkgs := []apollo.AdvisoryPackage{
		{NEVRA: "bash-5.1.8-6.el9.x86_64", PackageName: "bash"},
		{NEVRA: "bash-debuginfo-5.1.8-6.el9.x86_64", PackageName: "bash"},
		{NEVRA: "zsh-5.8-9.el9.x86_64", PackageName: "zsh"},
	}
	got := synthesizeTopic(pkgs, []string{"Rocky Linux 9", "Rocky Linux 8"})
	want := "An update for bash and zsh is now available for Rocky Linux 8 and Rocky Linux 9."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := synthesizeTopic(nil, []string{"Rocky Linux 9"}); got != "" {
		t.Errorf("expected empty topic, got %q", got)
	}
}

func TestBuildCloneRewrite(t *testing.T) {
	m, err := New(&fakeStore{product: testProduct()})
	if err != nil {
		t.Fatal(err)
	}
	product := testProduct()
	minor := 4
	a := &aggregate{
		upstream: apollo.UpstreamAdvisory{
			ID:       7,
			Name:     "RHSA-2024:1234",
			IssuedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Synopsis: "Important: bash security update",
			Description: "An update for the rhel9/bash container is available for " +
				"Red Hat Enterprise Linux 9. See RHSA-2024:1234 for details, " +
				"as published by Red Hat.",
			Kind:     apollo.KindSecurity,
			Severity: apollo.Important,
			CVEs: []apollo.UpstreamCVE{
				{CVE: "CVE-2024-0001", Cvss3ScoringVector: "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", Cvss3BaseScore: "9.8"},
			},
			Bugs: []apollo.UpstreamBug{
				{TicketID: "2222222", Source: "https://bugzilla.redhat.com/2222222", Description: "bash crashes"},
			},
		},
		packages: map[string]apollo.AdvisoryPackage{
			"bash-0:5.1.8-6.el9.x86_64": {NEVRA: "bash-0:5.1.8-6.el9.x86_64", PackageName: "bash"},
		},
		order: []string{"bash-0:5.1.8-6.el9.x86_64"},
		participating: []*apollo.Mirror{{
			ID:                10,
			MatchVariant:      "Red Hat Enterprise Linux",
			MatchMajorVersion: 9,
			MatchMinorVersion: &minor,
			MatchArch:         "x86_64",
		}},
		overrides:  []int64{10},
		production: true,
	}

	clone := m.buildClone(product, a)
	if got, want := clone.Name, "RLSA-2024:1234"; got != want {
		t.Errorf("got name %q, want %q", got, want)
	}
	wantDesc := "An update for the bash container is available for " +
		"Rocky Linux 9. See RLSA-2024:1234 for details, " +
		"as published by Rocky Enterprise Software Foundation."
	if clone.Description != wantDesc {
		t.Errorf("description rewrite:\n got %q\nwant %q", clone.Description, wantDesc)
	}
	if clone.PublishedAt == nil {
		t.Error("production aggregate should set PublishedAt")
	}
	if got, want := len(clone.CVEs), 1; got != want {
		t.Fatalf("got %d cves, want %d", got, want)
	}
	if got, want := len(clone.Fixes), 1; got != want {
		t.Fatalf("got %d fixes, want %d", got, want)
	}
	if got, want := clone.Fixes[0].TicketID, "2222222"; got != want {
		t.Errorf("got ticket %q, want %q", got, want)
	}
	wantAffected := []apollo.AdvisoryAffectedProduct{{
		ProductID:    1,
		Variant:      "Red Hat Enterprise Linux",
		Name:         "Rocky Linux",
		MajorVersion: 9,
		MinorVersion: &minor,
		Arch:         "x86_64",
	}}
	if diff := cmp.Diff(wantAffected, clone.AffectedProducts); diff != "" {
		t.Errorf("affected products (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{10}, clone.OverrideMirrorIDs); diff != "" {
		t.Errorf("override mirrors (-want +got):\n%s", diff)
	}

	// Topic was empty upstream; it gets synthesized.
	if got, want := clone.Topic, "An update for bash is now available for Rocky Linux 9."; got != want {
		t.Errorf("got topic %q, want %q", got, want)
	}
}
