package sql

import (
	"fmt"
	"strings"
)

// Dialect abstracts the placeholder and upsert syntax differences between
// the SQL drivers this backend targets, following
// meszmate-xmpp-go/storage/{sql,mysql,postgres,sqlite}'s Dialect pattern.
type Dialect interface {
	// Placeholder returns the n-th (1-indexed) bound-parameter placeholder.
	Placeholder(n int) string
	// Name identifies the dialect for CREATE TABLE variations.
	Name() string
	// UpsertSuffix returns the clause appended to an INSERT to make it an
	// upsert on conflictColumns, setting updateColumns from the incoming
	// row. updateColumns empty means "do nothing on conflict".
	UpsertSuffix(conflictColumns []string, updateColumns []string) string
}

// SQLite uses "?" placeholders and Postgres-style ON CONFLICT, driven by
// github.com/mattn/go-sqlite3.
type SQLite struct{}

func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) Name() string           { return "sqlite" }

func (SQLite) UpsertSuffix(conflictColumns, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO NOTHING"
	}
	sets := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		sets[i] = col + " = excluded." + col
	}
	return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// MySQL uses "?" placeholders and has no ON CONFLICT syntax at all, driven
// by github.com/go-sql-driver/mysql.
type MySQL struct{}

func (MySQL) Placeholder(int) string { return "?" }
func (MySQL) Name() string           { return "mysql" }

func (MySQL) UpsertSuffix(conflictColumns, updateColumns []string) string {
	if len(updateColumns) == 0 {
		// MySQL has no DO NOTHING; a no-op update on the first conflict
		// column is the idiomatic stand-in.
		return "ON DUPLICATE KEY UPDATE " + conflictColumns[0] + " = " + conflictColumns[0]
	}
	sets := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		sets[i] = col + " = VALUES(" + col + ")"
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// Postgres uses "$n" placeholders, driven by github.com/jackc/pgx/v5/stdlib.
type Postgres struct{}

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Postgres) Name() string             { return "postgres" }

func (Postgres) UpsertSuffix(conflictColumns, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO NOTHING"
	}
	sets := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		sets[i] = col + " = EXCLUDED." + col
	}
	return "ON CONFLICT (" + strings.Join(conflictColumns, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}
