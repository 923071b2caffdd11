// Package db embeds the database schema.
package db

import _ "embed"

// Schema holds the idempotent DDL for the offer catalog and usage ledger.
//
//go:embed migrations/001_schema.sql
var Schema string
