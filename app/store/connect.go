package store

import (
	"context"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"                      // sql server driver
	_ "github.com/microsoft/go-mssqldb/integratedauth/krb5" // kerberos for integrated auth outside windows
	_ "modernc.org/sqlite"              // sqlite driver
)

// ConnectFunc opens a database handle or returns nil
type ConnectFunc func(ctx context.Context, p Params) *sqlx.DB

// Connect opens a database handle and verifies it with ping bounded by connect timeout.
// Returns nil on any failure, the cause is logged and never propagated.
func Connect(ctx context.Context, p Params) (res *sqlx.DB) {
	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] unexpected error connecting to database %s: %v", p, x)
			res = nil
		}
	}()

	dsn, err := p.DSN()
	if err != nil {
		log.Printf("[WARN] database connection failed: %v", err)
		return nil
	}

	db, err := sqlx.Open(p.Driver, dsn)
	if err != nil {
		log.Printf("[WARN] database connection failed, %s: %v", p, err)
		return nil
	}
	db.SetMaxOpenConns(1) // one connection per handle, nothing is pooled across requests

	pingCtx, cancel := context.WithTimeout(ctx, p.Timeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Printf("[WARN] database connection failed, %s: %v", p, err)
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("[WARN] failed to close database handle: %v", closeErr)
		}
		return nil
	}
	return db
}
