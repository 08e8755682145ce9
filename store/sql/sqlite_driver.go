package sql

// Blank-imported so callers that want a SQLite-backed Store only need to
// import this package; registers the "sqlite3" database/sql driver name.
import _ "github.com/mattn/go-sqlite3"
