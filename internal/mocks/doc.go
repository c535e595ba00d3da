// Package mocks provides hand-written test doubles shared across packages:
// a generation backend, an in-memory job store, a budget ledger, a
// broadcaster and a push connection. Each mock records its calls and
// exposes Fn fields to override behavior.
package mocks
