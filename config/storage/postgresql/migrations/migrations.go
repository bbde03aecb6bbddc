package migrations

import "embed"

// MigrationsFS embeds the factory schema migrations
//
//go:embed *.sql
var MigrationsFS embed.FS
