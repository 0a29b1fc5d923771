// Package migrations embeds the SQL migrations applied to the Postgres
// audit store via golang-migrate, mirroring the teacher's
// pkg/store/metadata/postgres/migrations embed pattern.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
