package apollo

import "time"

// AdvisoryKind labels what an advisory delivers.
//
// The set is closed; the two places behavior depends on it (updateinfo type
// attributes and human-readable titles) switch exhaustively.
type AdvisoryKind string

const (
	KindSecurity    AdvisoryKind = "Security"
	KindBugFix      AdvisoryKind = "Bug Fix"
	KindEnhancement AdvisoryKind = "Enhancement"
)

// Text returns the long human-readable form, e.g. "Security Advisory".
func (k AdvisoryKind) Text() string {
	switch k {
	case KindSecurity:
		return "Security Advisory"
	case KindBugFix:
		return "Bug Fix Advisory"
	case KindEnhancement:
		return "Enhancement Advisory"
	}
	return "Advisory"
}

// Advisory is a downstream advisory: the re-issue of one upstream advisory
// for the rebuilt distribution, referencing the downstream's own packages.
type Advisory struct {
	// unique ID of this advisory, assigned by the datastore.
	ID int64 `json:"id"`
	// UpstreamID is provenance only; the upstream row is never touched by the
	// matcher.
	UpstreamID int64 `json:"upstream_advisory_id"`
	// Name is derived from the product code and the upstream name, e.g.
	// "RLSA-2024:1234". Unique and stable across re-runs.
	Name string `json:"name"`
	// PublishedAt is nil until at least one matched package came from a
	// production repomd.
	PublishedAt *time.Time   `json:"published_at,omitempty"`
	Synopsis    string       `json:"synopsis"`
	Description string       `json:"description"`
	Kind        AdvisoryKind `json:"kind"`
	Severity    Severity     `json:"severity"`
	Topic       string       `json:"topic"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	Packages         []AdvisoryPackage         `json:"packages,omitempty"`
	CVEs             []AdvisoryCVE             `json:"cves,omitempty"`
	Fixes            []AdvisoryFix             `json:"fixes,omitempty"`
	AffectedProducts []AdvisoryAffectedProduct `json:"affected_products,omitempty"`
}

// AdvisoryPackage is one downstream RPM artifact delivered by an advisory.
type AdvisoryPackage struct {
	ID         int64 `json:"id"`
	AdvisoryID int64 `json:"advisory_id"`
	// MirrorID is the mirror whose repomd produced the match.
	MirrorID int64 `json:"mirror_id"`
	// ProductID must equal the supported product of the affected-product row
	// the package is served under. Enforced at write time and re-checked at
	// read time.
	ProductID    int64  `json:"supported_product_id"`
	NEVRA        string `json:"nevra"`
	Checksum     string `json:"checksum"`
	ChecksumType string `json:"checksum_type"`
	// Module coordinates, set when the rpm was delivered by a modulemd
	// stream. Empty ModuleName means non-modular.
	ModuleName    string `json:"module_name,omitempty"`
	ModuleStream  string `json:"module_stream,omitempty"`
	ModuleVersion string `json:"module_version,omitempty"`
	ModuleContext string `json:"module_context,omitempty"`
	// RepoName is the repository (within the mirror) that shipped the rpm.
	RepoName string `json:"repo_name"`
	// PackageName is the source RPM's name, used for topic synthesis and
	// updateinfo filtering.
	PackageName string `json:"package_name"`
}

// Modular reports whether the package was built as part of a module stream.
func (p *AdvisoryPackage) Modular() bool {
	return p.ModuleName != ""
}

// AdvisoryCVE is one CVE fixed by an advisory.
type AdvisoryCVE struct {
	ID                 int64  `json:"id"`
	AdvisoryID         int64  `json:"advisory_id"`
	CVE                string `json:"cve"`
	Cvss3ScoringVector string `json:"cvss3_scoring_vector,omitempty"`
	Cvss3BaseScore     string `json:"cvss3_base_score,omitempty"`
	CWE                string `json:"cwe,omitempty"`
}

// AdvisoryFix is one tracker ticket resolved by an advisory.
type AdvisoryFix struct {
	ID          int64  `json:"id"`
	AdvisoryID  int64  `json:"advisory_id"`
	TicketID    string `json:"ticket_id"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// AdvisoryAffectedProduct records which (product, version, arch) slice an
// advisory applies to, one row per mirror that matched.
type AdvisoryAffectedProduct struct {
	ID           int64  `json:"id"`
	AdvisoryID   int64  `json:"advisory_id"`
	ProductID    int64  `json:"supported_product_id"`
	Variant      string `json:"variant"`
	Name         string `json:"name"`
	MajorVersion int    `json:"major_version"`
	MinorVersion *int   `json:"minor_version,omitempty"`
	Arch         string `json:"arch"`
}
