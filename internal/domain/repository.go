// Package domain defines the shared types and the storage, cache and bus
// contracts used across SentinelStream.
package domain

import (
	"context"
	"time"
)

// Repository persists the user directory and evaluated transactions.
// Implementations exist for SQLite and PostgreSQL.
type Repository interface {
	// ResolveUser maps an external user code to its internal key and
	// inserts the row the first time the code is seen.
	ResolveUser(ctx context.Context, code string) (int64, error)

	// SaveTransaction returns ErrDuplicate when the id is already stored.
	SaveTransaction(ctx context.Context, tx *Transaction) error
	// GetTransaction returns ErrNotFound for unknown ids.
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	TransactionExists(ctx context.Context, txID string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects the driver and its connection settings.
type RepositoryConfig struct {
	Driver string // "sqlite" or "postgres"

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Pool limits; zero keeps the driver default.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
