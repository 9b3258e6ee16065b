// Package storage persists tenants, their session credentials and their
// routing tables.
//
// Drivers:
//   - "memory": process-local maps (tests, throwaway runs)
//   - "sqlite": single-file database (modernc.org/sqlite, no cgo)
//   - "mongo":  document store with users / sessions / group_configs collections
//
// Callers treat every tenant's data as partitioned by tenant id; the store
// does not provide cross-tenant transactions.
package storage
