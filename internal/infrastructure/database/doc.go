// Package database provides SQLite connectivity for the control center's
// local state: persisted preferences (the selected release per plugin) and
// the audit trail of start/stop actions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the top-level migrations package and are
// additive-only: new columns must be nullable or carry a default.
package database
