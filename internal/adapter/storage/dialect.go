package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

// Dialect captures the few places where MySQL and SQLite differ.
type Dialect struct {
	Name       string
	DriverName string
	// lockClause is appended to reads made inside a unit of work.
	lockClause string
	schema     []Migration
	unique     func(error) bool
}

var (
	MySQL = Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		lockClause: " FOR UPDATE",
		schema:     mysqlMigrations,
		unique: func(err error) bool {
			var me *mysql.MySQLError
			return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
		},
	}

	// SQLite serializes writers, so row locks are not needed.
	SQLite = Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		schema:     sqliteMigrations,
		unique: func(err error) bool {
			return strings.Contains(err.Error(), "UNIQUE constraint failed")
		},
	}
)

func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql":
		return MySQL, nil
	case "sqlite":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
}

func (d Dialect) isUniqueViolation(err error) bool {
	return err != nil && d.unique(err)
}

// isLockContention reports MySQL deadlocks and lock wait timeouts. The
// transaction was rolled back and may be retried from the start.
func isLockContention(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && (me.Number == mysqlDeadlockDetected || me.Number == mysqlLockWaitTimeout)
}

// Open opens and pings the database. SQLite gets a single connection so an
// in-memory database is shared by every caller.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	if d.Name == SQLite.Name {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.Name == SQLite.Name {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return db, nil
}

// sqliteDSN turns on foreign keys and a sortable timestamp format so range
// queries on DATETIME columns compare correctly as text.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "_time_format=") {
		dsn += sep + "_time_format=sqlite"
		sep = "&"
	}
	if !strings.Contains(dsn, "foreign_keys") {
		dsn += sep + "_pragma=foreign_keys(1)"
	}
	return dsn
}
