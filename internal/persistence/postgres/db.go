package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/adpilot/adpilot/internal/errs"
)

// DefaultTimeout bounds individual repository operations.
const DefaultTimeout = 5 * time.Second

// Connect opens and pings a PostgreSQL pool.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, err, "opening postgres connection")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.StorageFailure, err, "pinging postgres")
	}
	return db, nil
}
