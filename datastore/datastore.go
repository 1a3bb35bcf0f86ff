// Package datastore defines the interfaces the apollo components need from
// persistent storage.
//
// Consumers accept these interfaces; the postgres subpackage implements them.
package datastore

// Store is the aggregate of every storage concern a full deployment needs.
type Store interface {
	MatcherStore
	UpdateinfoStore
	AdvisoryStore
}
