// Package apollo holds the domain types shared across the errata pipeline:
// upstream advisories as ingested, downstream advisories as published, the
// products and mirrors that bind the two, and the updateinfo document served
// to package managers.
//
// The behavior lives elsewhere: the matcher package produces downstream
// advisories from upstream ones, the updateinfo package renders them for DNF,
// and datastore/postgres persists everything.
package apollo
