package registry

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Options selects and configures the storage backend.
type Options struct {
	Backend string // "sqlite" or "mysql"

	SQLitePath string

	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Conn is an open store together with the dialect that speaks to it.
type Conn struct {
	DB      *sqlx.DB
	Dialect Dialect
}

// Open connects to the configured backend and verifies the connection.
func Open(ctx context.Context, opts Options) (*Conn, error) {
	dialect, err := DialectFor(opts.Backend)
	if err != nil {
		return nil, err
	}

	var dsn string
	switch dialect.(type) {
	case SQLite:
		path := opts.SQLitePath
		if path == "" {
			path = "data/moderation.db"
		}
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=5000"
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = opts.Username
		cfg.Passwd = opts.Password
		cfg.Net = "tcp"
		port := opts.Port
		if port == 0 {
			port = 3306
		}
		cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(port))
		cfg.DBName = opts.Database
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	}

	db, err := sqlx.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", dialect.Name(), err)
	}
	if _, ok := dialect.(SQLite); ok {
		// One writer at a time; concurrent writers would fail with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s store: %w", dialect.Name(), err)
	}
	return &Conn{DB: db, Dialect: dialect}, nil
}

// Close closes the underlying database.
func (c *Conn) Close() error {
	return c.DB.Close()
}
