// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var dsn string
	switch cfg.Driver {
	case "sqlite":
		var err error
		if dsn, err = sqliteDSN(cfg); err != nil {
			return nil, err
		}
	case "postgres":
		dsn = postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// open connects and verifies the database is reachable.
func open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return db, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// ResolveUser returns the internal key for an external user code, inserting
// the user on first sight. Concurrent callers for the same code get the same key.
func (r *SQLRepository) ResolveUser(ctx context.Context, code string) (int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, fmt.Errorf("%w: user code is required", domain.ErrInvalidInput)
	}

	insert := `INSERT INTO users (user_code, created_at) VALUES (?, ?) ON CONFLICT (user_code) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, r.rebind(insert), code, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}

	var key int64
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT user_key FROM users WHERE user_code = ?`), code).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("select user: %w", err)
	}
	return key, nil
}

// SaveTransaction stores the fact row. A second save with the same id
// returns domain.ErrDuplicate and leaves the first row untouched.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	reasons, err := json.Marshal(tx.Reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (
			id, user_key, amount, currency, merchant, location,
			fraud_score, final_decision, rule, reasons, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserKey, tx.Amount.String(), tx.Currency, tx.Merchant, tx.Location,
		tx.FraudScore, string(tx.Decision), string(tx.Rule), string(reasons), tx.LatencyMs, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %s", domain.ErrDuplicate, tx.ID)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_key, amount, currency, merchant, location,
		       fraud_score, final_decision, rule, reasons, latency_ms, created_at
		FROM transactions
		WHERE id = ?
	`

	var (
		tx       domain.Transaction
		decision string
		rule     string
		reasons  string
	)
	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&tx.ID, &tx.UserKey, &tx.Amount, &tx.Currency, &tx.Merchant, &tx.Location,
		&tx.FraudScore, &decision, &rule, &reasons, &tx.LatencyMs, &tx.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Decision = domain.Decision(decision)
	tx.Rule = domain.RuleLabel(rule)
	if err := json.Unmarshal([]byte(reasons), &tx.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons for %s: %w", txID, err)
	}

	return &tx, nil
}

// TransactionExists reports whether a transaction id has been stored.
func (r *SQLRepository) TransactionExists(ctx context.Context, txID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM transactions WHERE id = ?`), txID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DB exposes the connection pool for health and metrics collectors.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
