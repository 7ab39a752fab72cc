package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"

	auth "github.com/goliatone/go-auth-service"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals
var gooseMu sync.Mutex

type options struct {
	debug  bool
	logger auth.Logger
}

// Option configures Open and Migrate
type Option func(*options)

// WithDebug logs every query through bundebug
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Open connects to driver using dsn and pings the database
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*bun.DB, error) {
	o := applyOptions(opts)

	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch driver {
	case DriverSQLite:
		sqldb, err = sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if isMemoryDSN(dsn) {
			// each connection to :memory: is its own database
			sqldb.SetMaxOpenConns(1)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if o.debug {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
		))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, nil
}

// Migrate applies every pending migration for driver
func Migrate(ctx context.Context, db *bun.DB, driver string, opts ...Option) error {
	o := applyOptions(opts)

	dir, dialect, err := migrationSource(driver)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if o.logger != nil {
		goose.SetLogger(gooseLogger{logger: o.logger})
	} else {
		goose.SetLogger(goose.NopLogger())
	}

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// MigrationVersion reports the highest applied migration
func MigrationVersion(ctx context.Context, db *bun.DB, driver string) (int64, error) {
	_, dialect, err := migrationSource(driver)
	if err != nil {
		return 0, err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db.DB)
}

// Migrations exposes the embedded migration files for driver
func Migrations(driver string) (fs.FS, error) {
	dir, _, err := migrationSource(driver)
	if err != nil {
		return nil, err
	}
	return fs.Sub(migrations, dir)
}

func migrationSource(driver string) (dir, dialect string, err error) {
	switch driver {
	case DriverSQLite:
		return "migrations/sqlite", "sqlite3", nil
	case DriverPostgres:
		return "migrations/postgres", "postgres", nil
	}
	return "", "", fmt.Errorf("unsupported database driver %q", driver)
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

type gooseLogger struct {
	logger auth.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSuffix(format, "\n"), v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSuffix(format, "\n"), v...)
}
