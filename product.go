package apollo

// SupportedProduct is one downstream distribution the pipeline produces
// advisories for.
type SupportedProduct struct {
	ID int64 `json:"id"`
	// Name is unique and treated as immutable once a match has been recorded
	// against it; advisory text rewrites depend on it.
	Name string `json:"name"`
	// Variant is the upstream variant this product rebuilds, e.g.
	// "Red Hat Enterprise Linux".
	Variant string `json:"variant"`
	Vendor  string `json:"vendor"`
	// Code prefixes downstream advisory names, e.g. "RL" yields
	// "RLSA-2024:1234".
	Code string `json:"code"`

	Mirrors []Mirror `json:"mirrors,omitempty"`
}

// Mirror is a downstream repository configuration that selects a slice of
// upstream advisories by (variant, major, minor, arch).
type Mirror struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"supported_product_id"`
	Name      string `json:"name"`
	// Selector against UpstreamAffectedProduct rows. A nil MatchMinorVersion
	// matches any minor version.
	MatchVariant      string `json:"match_variant"`
	MatchMajorVersion int    `json:"match_major_version"`
	MatchMinorVersion *int   `json:"match_minor_version,omitempty"`
	MatchArch         string `json:"match_arch"`
	Active            bool   `json:"active"`

	Repomds []Repomd `json:"repomds,omitempty"`
}

// Repomd is one YUM repository belonging to a mirror.
type Repomd struct {
	ID       int64  `json:"id"`
	MirrorID int64  `json:"mirror_id"`
	RepoName string `json:"repo_name"`
	// Arch must equal the owning mirror's MatchArch for its packages to
	// participate in matching.
	Arch string `json:"arch"`
	// Production marks repositories whose matches set an advisory's
	// PublishedAt.
	Production bool   `json:"production"`
	URL        string `json:"url"`
	DebugURL   string `json:"debug_url,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
}
