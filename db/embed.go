// Package db embeds the PostgreSQL schema of the order store.
package db

import _ "embed"

// Schema creates the variant, order, line item, shipment, adjustment,
// promotion, tax rate and API key tables. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
