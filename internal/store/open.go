// Package store opens the configured job store backend.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mark3748/jobdesk-go/internal/catalog"
	"github.com/mark3748/jobdesk-go/internal/jobs"
	"github.com/mark3748/jobdesk-go/internal/store/memory"
	"github.com/mark3748/jobdesk-go/internal/store/mysql"
	"github.com/mark3748/jobdesk-go/internal/store/postgres"
)

// Backend is everything the API and worker need from a store.
type Backend interface {
	jobs.Store
	jobs.OverdueFinder
	catalog.Store
}

// Conn is an opened backend. SQL is nil for the memory driver.
type Conn struct {
	Backend
	Driver string
	SQL    *sql.DB
	Ping   func(ctx context.Context) error
	Close  func()
}

// Open connects to driver ("postgres", "mysql" or "memory") at url. The
// pool is capped at maxConns; every operation waiting on it is bounded by
// the coordinator timeout.
func Open(ctx context.Context, driver, url string, maxConns int) (*Conn, error) {
	switch driver {
	case "postgres":
		cfg, err := pgxpool.ParseConfig(url)
		if err != nil {
			return nil, fmt.Errorf("parse postgres url: %w", err)
		}
		if maxConns > 0 {
			cfg.MaxConns = int32(maxConns)
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		sqldb := stdlib.OpenDBFromPool(pool)
		return &Conn{
			Backend: postgres.New(pool),
			Driver:  driver,
			SQL:     sqldb,
			Ping:    pool.Ping,
			Close: func() {
				_ = sqldb.Close()
				pool.Close()
			},
		}, nil
	case "mysql":
		db, err := mysql.Open(url, maxConns)
		if err != nil {
			return nil, err
		}
		return &Conn{
			Backend: mysql.New(db),
			Driver:  driver,
			SQL:     db,
			Ping:    db.PingContext,
			Close:   func() { _ = db.Close() },
		}, nil
	case "memory":
		return &Conn{
			Backend: memory.New(),
			Driver:  driver,
			Ping:    func(context.Context) error { return nil },
			Close:   func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
}
