// Package migrations embeds the goose SQL migrations of the statistics store.
package migrations

import "embed"

// FS holds the *.sql migrations, applied in file name order.
//
//go:embed *.sql
var FS embed.FS
