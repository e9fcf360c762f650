// Package migrations embeds the goose SQL migrations for each supported dialect.
package migrations

import "embed"

// FS holds one directory of migrations per dialect ("sqlite", "postgres").
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
