// Package database provides the SQLite connection that backs the access
// audit log.
//
// Open configures WAL mode and a busy timeout through the go-sqlite3
// connection string and limits the pool to a single connection, which
// SQLite needs for one writer and which keeps a ":memory:" database alive
// for tests.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_description.up.sql
// (with an optional matching .down.sql). The migrations package embeds
// them and registers the filesystem here:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Applied versions are tracked in the schema_migrations table.
package database
