// Package migrations embeds the versioned schema applied by `enrollhub migrate`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
