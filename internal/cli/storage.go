package cli

import "github.com/hamicek/ruleengine/internal/storage/sqlite"

// openStorage opens the SQLite-backed storage.Adapter every subcommand
// persists rules through, creating the database file if it doesn't
// already exist.
func openStorage(dbPath string) (*sqlite.Adapter, error) {
	return sqlite.Open(dbPath)
}
