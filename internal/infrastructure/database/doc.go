// Package database provides SQLite connectivity for the INDI Panel catalog:
// the capture list and the audit trail.
//
// The database is optional. When database.enabled is false the panel runs
// without a catalog and the corresponding API routes return 503.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only, one YYYYMMDD_HHMMSS_description.up.sql file
// per change, each applied in its own transaction.
package database
