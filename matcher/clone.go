package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/resf/apollo"
	"github.com/resf/apollo/datastore"
)

// ContainerFragmentRE strips upstream container path fragments like
// "rhel9/" from advisory text.
var containerFragmentRE = regexp.MustCompile(`rhel\d*/`)

// downstreamName derives the downstream advisory name: the product code
// replaces the upstream vendor letters, keeping the kind letters and the
// year:number tail. "RHSA-2024:1234" under code "RL" becomes
// "RLSA-2024:1234".
func downstreamName(code, upstream string) string {
	head, tail, ok := strings.Cut(upstream, "-")
	if !ok || len(head) < 2 {
		return code + upstream
	}
	return code + head[len(head)-2:] + "-" + tail
}

// buildClone turns one aggregate into the transactional write for the
// product.
func (m *Matcher) buildClone(product *apollo.SupportedProduct, a *aggregate) *datastore.AdvisoryClone {
	name := downstreamName(product.Code, a.upstream.Name)
	rw := strings.NewReplacer(
		a.upstream.Name, name,
		product.Variant, product.Name,
		m.upstreamVendor, product.Vendor,
	)
	rewrite := func(s string) string {
		return rw.Replace(containerFragmentRE.ReplaceAllString(s, ""))
	}

	clone := &datastore.AdvisoryClone{
		ProductID:   product.ID,
		UpstreamID:  a.upstream.ID,
		Name:        name,
		Synopsis:    rewrite(a.upstream.Synopsis),
		Description: rewrite(a.upstream.Description),
		Kind:        a.upstream.Kind,
		Severity:    a.upstream.Severity,
		Topic:       rewrite(a.upstream.Topic),
	}
	if a.production {
		now := time.Now().UTC()
		clone.PublishedAt = &now
	}

	for _, key := range a.order {
		clone.Packages = append(clone.Packages, a.packages[key])
	}
	for _, c := range a.upstream.CVEs {
		clone.CVEs = append(clone.CVEs, apollo.AdvisoryCVE{
			CVE:                c.CVE,
			Cvss3ScoringVector: c.Cvss3ScoringVector,
			Cvss3BaseScore:     c.Cvss3BaseScore,
			CWE:                c.CWE,
		})
	}
	for _, b := range a.upstream.Bugs {
		clone.Fixes = append(clone.Fixes, apollo.AdvisoryFix{
			TicketID:    b.TicketID,
			Source:      b.Source,
			Description: b.Description,
		})
	}

	var releases []string
	seenRelease := make(map[string]struct{})
	for _, mirror := range a.participating {
		clone.AffectedProducts = append(clone.AffectedProducts, apollo.AdvisoryAffectedProduct{
			ProductID:    product.ID,
			Variant:      mirror.MatchVariant,
			Name:         product.Name,
			MajorVersion: mirror.MatchMajorVersion,
			MinorVersion: mirror.MatchMinorVersion,
			Arch:         mirror.MatchArch,
		})
		clone.BlockMirrorIDs = append(clone.BlockMirrorIDs, mirror.ID)
		rel := fmt.Sprintf("%s %d", product.Name, mirror.MatchMajorVersion)
		if _, ok := seenRelease[rel]; !ok {
			seenRelease[rel] = struct{}{}
			releases = append(releases, rel)
		}
	}
	clone.OverrideMirrorIDs = a.overrides

	if clone.Topic == "" {
		clone.Topic = synthesizeTopic(clone.Packages, releases)
	}
	return clone
}

// synthesizeTopic builds a topic line from the source package names and the
// product releases the advisory lands in.
func synthesizeTopic(pkgs []apollo.AdvisoryPackage, releases []string) string {
	seen := make(map[string]struct{})
	var names []string
	for i := range pkgs {
		n := pkgs[i].PackageName
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	sort.Strings(names)
	sort.Strings(releases)
	if len(names) == 0 || len(releases) == 0 {
		return ""
	}
	return fmt.Sprintf("An update for %s is now available for %s.", joinAnd(names), joinAnd(releases))
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
}
