// Package postgres provides the PostgreSQL job store for batch records and
// the embedded schema migrations it depends on.
package postgres
