// Package migrations embeds the SQL schema of the access audit log.
package migrations

import (
	"embed"

	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
