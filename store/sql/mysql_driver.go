package sql

// Registers the "mysql" database/sql driver name.
import _ "github.com/go-sql-driver/mysql"
