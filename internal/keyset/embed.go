package keyset

import _ "embed"

//go:embed migrations/postgres/001_signing_keys.sql
var migrationSigningKeys string
