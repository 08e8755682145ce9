package sql

// Registers the "pgx" database/sql driver name.
import _ "github.com/jackc/pgx/v5/stdlib"
