// Package migrations contains embedded SQL migrations for the SQLite record
// stores.
package migrations

import "embed"

//go:embed journal/*.sql
var JournalFS embed.FS

//go:embed snapshots/*.sql
var SnapshotsFS embed.FS
