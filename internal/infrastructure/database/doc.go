// Package database manages the SQLite connection for Warden Core.
//
// This package provides:
//   - Connection setup with WAL mode and busy-timeout pragmas
//   - Embedded schema migrations applied at startup
//   - Health checks and transaction helpers
//
// SQLite is configured with a single-connection pool because it supports
// only one writer; concurrent readers are served through WAL mode.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/warden.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
