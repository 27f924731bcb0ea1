// Package store provides the database access layer for game results.
// It opens a fresh connection for every statement and reports outcomes as
// Result values instead of errors, so callers always handle the failure case.
// Supported drivers are "sqlserver" (go-mssqldb) and "sqlite" (modernc).
package store
