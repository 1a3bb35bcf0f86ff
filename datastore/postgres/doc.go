// Package postgres implements the datastore interfaces over PostgreSQL.
//
// One exported method per file. Every method records a prometheus counter
// and duration histogram per query it issues.
package postgres
