package apollo

import "time"

// UpstreamAdvisory is an advisory as published by the upstream vendor,
// written by the ingestion side and read-only to the matcher.
type UpstreamAdvisory struct {
	ID int64 `json:"id"`
	// Name is globally unique, e.g. "RHSA-2024:1234".
	Name        string       `json:"name"`
	IssuedAt    time.Time    `json:"issued_at"`
	Synopsis    string       `json:"synopsis"`
	Description string       `json:"description,omitempty"`
	Kind        AdvisoryKind `json:"kind"`
	Severity    Severity     `json:"severity"`
	Topic       string       `json:"topic,omitempty"`

	Packages         []UpstreamPackage         `json:"packages,omitempty"`
	CVEs             []UpstreamCVE             `json:"cves,omitempty"`
	Bugs             []UpstreamBug             `json:"bugs,omitempty"`
	AffectedProducts []UpstreamAffectedProduct `json:"affected_products,omitempty"`
}

// UpstreamPackage is one NEVRA an upstream advisory references.
type UpstreamPackage struct {
	ID         int64  `json:"id"`
	AdvisoryID int64  `json:"advisory_id"`
	NEVRA      string `json:"nevra"`
}

// UpstreamCVE is one CVE an upstream advisory fixes.
type UpstreamCVE struct {
	ID                 int64  `json:"id"`
	AdvisoryID         int64  `json:"advisory_id"`
	CVE                string `json:"cve"`
	Cvss3ScoringVector string `json:"cvss3_scoring_vector,omitempty"`
	Cvss3BaseScore     string `json:"cvss3_base_score,omitempty"`
	CWE                string `json:"cwe,omitempty"`
}

// UpstreamBug is one tracker ticket an upstream advisory resolves.
type UpstreamBug struct {
	ID          int64  `json:"id"`
	AdvisoryID  int64  `json:"advisory_id"`
	TicketID    string `json:"ticket_id"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// UpstreamAffectedProduct is the (variant, version, arch) slice an upstream
// advisory declares itself applicable to. Mirrors select candidates by
// matching their selector against these rows.
type UpstreamAffectedProduct struct {
	ID           int64  `json:"id"`
	AdvisoryID   int64  `json:"advisory_id"`
	Variant      string `json:"variant"`
	Name         string `json:"name"`
	MajorVersion int    `json:"major_version"`
	MinorVersion *int   `json:"minor_version,omitempty"`
	Arch         string `json:"arch"`
}
