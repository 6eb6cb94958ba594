// Package migrations embeds the SQL migration files.
package migrations

import "embed"

// FS contains the schema migrations, as *_up.sql / *_down.sql pairs applied
// in filename order.
//
//go:embed *.sql
var FS embed.FS
