// Package osv renders downstream advisories as OSV documents.
//
// See https://ossf.github.io/osv-schema/ for the spec. This package writes
// v1.6.x documents; the GCS exporter that publishes them lives outside this
// module.
package osv

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/package-url/packageurl-go"

	"github.com/resf/apollo"
)

// SchemaVersion is the OSV schema version emitted.
const SchemaVersion = "1.6.0"

type (
	// Document is one OSV advisory document.
	Document struct {
		SchemaVersion string      `json:"schema_version"`
		ID            string      `json:"id"`
		Modified      time.Time   `json:"modified"`
		Published     *time.Time  `json:"published,omitempty"`
		Aliases       []string    `json:"aliases,omitempty"`
		Related       []string    `json:"related,omitempty"`
		Summary       string      `json:"summary,omitempty"`
		Details       string      `json:"details,omitempty"`
		Severity      []Severity  `json:"severity,omitempty"`
		Affected      []Affected  `json:"affected,omitempty"`
		References    []Reference `json:"references,omitempty"`
	}

	// Severity is one severity entry; only CVSS_V3 is emitted.
	Severity struct {
		Type  string `json:"type"`
		Score string `json:"score"`
	}

	// Affected describes one affected package.
	Affected struct {
		Package  Package  `json:"package"`
		Ranges   []Range  `json:"ranges,omitempty"`
		Versions []string `json:"versions,omitempty"`
	}

	// Package identifies a package within an ecosystem.
	Package struct {
		Ecosystem string `json:"ecosystem"`
		Name      string `json:"name"`
		PURL      string `json:"purl,omitempty"`
	}

	// Range is a version range with fixed events.
	Range struct {
		Type   string       `json:"type"`
		Events []RangeEvent `json:"events"`
	}

	// RangeEvent is one event in a range.
	RangeEvent struct {
		Introduced string `json:"introduced,omitempty"`
		Fixed      string `json:"fixed,omitempty"`
	}

	// Reference is one external link.
	Reference struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}
)

// Renderer turns advisories into OSV documents.
type Renderer struct {
	// Ecosystem labels affected packages, e.g. "Rocky Linux:9".
	// The major version from the advisory's affected products is appended
	// when EcosystemBase is set.
	EcosystemBase string
	// Namespace is the purl namespace, e.g. "rocky".
	Namespace string
	// SelfBase prefixes the advisory's own page URL.
	SelfBase string
}

const (
	defaultEcosystem = "Rocky Linux"
	defaultNamespace = "rocky"
	defaultSelfBase  = "https://errata.rockylinux.org"
)

// Render produces the OSV document for one advisory.
func (r *Renderer) Render(a *apollo.Advisory) *Document {
	eco := r.EcosystemBase
	if eco == "" {
		eco = defaultEcosystem
	}
	ns := r.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	selfBase := r.SelfBase
	if selfBase == "" {
		selfBase = defaultSelfBase
	}

	doc := Document{
		SchemaVersion: SchemaVersion,
		ID:            a.Name,
		Modified:      a.UpdatedAt,
		Published:     a.PublishedAt,
		Summary:       a.Synopsis,
		Details:       a.Description,
	}
	for i := range a.CVEs {
		c := &a.CVEs[i]
		doc.Aliases = append(doc.Aliases, c.CVE)
		if c.Cvss3ScoringVector != "" {
			doc.Severity = append(doc.Severity, Severity{
				Type:  "CVSS_V3",
				Score: c.Cvss3ScoringVector,
			})
		}
		doc.References = append(doc.References, Reference{
			Type: "REPORT",
			URL:  "https://cve.mitre.org/cgi-bin/cvename.cgi?name=" + c.CVE,
		})
	}
	for i := range a.Fixes {
		doc.References = append(doc.References, Reference{
			Type: "REPORT",
			URL:  a.Fixes[i].Source,
		})
	}
	doc.References = append(doc.References, Reference{
		Type: "ADVISORY",
		URL:  selfBase + "/" + a.Name,
	})

	major := majorVersions(a)
	doc.Affected = affected(a, eco, ns, major)
	return &doc
}

// majorVersions lists the distinct major versions the advisory affects.
func majorVersions(a *apollo.Advisory) []int {
	seen := make(map[int]struct{})
	var out []int
	for i := range a.AffectedProducts {
		v := a.AffectedProducts[i].MajorVersion
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// evr formats the fixed version of a NEVRA as epoch:version-release.
func evr(nevra string) (name, v string, ok bool) {
	// name-[epoch:]version-release.arch
	i := strings.LastIndexByte(nevra, '.')
	if i == -1 {
		return "", "", false
	}
	rest := nevra[:i]
	ri := strings.LastIndexByte(rest, '-')
	if ri == -1 {
		return "", "", false
	}
	vi := strings.LastIndexByte(rest[:ri], '-')
	if vi == -1 {
		return "", "", false
	}
	ev := rest[vi+1 : ri]
	if !strings.ContainsRune(ev, ':') {
		ev = "0:" + ev
	}
	return rest[:vi], ev + "-" + rest[ri+1:], true
}

func affected(a *apollo.Advisory, eco, ns string, majors []int) []Affected {
	type key struct {
		name  string
		major int
	}
	byPkg := make(map[key]string)
	var order []key
	for i := range a.Packages {
		p := &a.Packages[i]
		name, fixed, ok := evr(p.NEVRA)
		if !ok {
			continue
		}
		for _, m := range majors {
			k := key{name, m}
			if _, ok := byPkg[k]; ok {
				continue
			}
			byPkg[k] = fixed
			order = append(order, k)
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].major != order[j].major {
			return order[i].major < order[j].major
		}
		return order[i].name < order[j].name
	})

	out := make([]Affected, 0, len(order))
	for _, k := range order {
		purl := packageurl.NewPackageURL(
			packageurl.TypeRPM, ns, k.name, "",
			packageurl.QualifiersFromMap(map[string]string{
				"distro": fmt.Sprintf("%s-%d", ns, k.major),
			}), "",
		)
		out = append(out, Affected{
			Package: Package{
				Ecosystem: fmt.Sprintf("%s:%d", eco, k.major),
				Name:      k.name,
				PURL:      purl.ToString(),
			},
			Ranges: []Range{{
				Type: "ECOSYSTEM",
				Events: []RangeEvent{
					{Introduced: "0"},
					{Fixed: byPkg[k]},
				},
			}},
		})
	}
	return out
}
