package repository

// Schema definitions for the SentinelStream store. The users table differs
// per driver only in how the surrogate key is generated.

const schemaUsersSQLite = `
CREATE TABLE IF NOT EXISTS users (
    user_key INTEGER PRIMARY KEY AUTOINCREMENT,
    user_code TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);
`

const schemaUsersPostgres = `
CREATE TABLE IF NOT EXISTS users (
    user_key BIGSERIAL PRIMARY KEY,
    user_code TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);
`

// Amounts are stored as decimal strings so they round-trip exactly.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_key BIGINT NOT NULL REFERENCES users(user_key),
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    merchant TEXT NOT NULL,
    location TEXT NOT NULL,
    fraud_score DOUBLE PRECISION NOT NULL,
    final_decision TEXT NOT NULL,
    rule TEXT NOT NULL,
    reasons TEXT NOT NULL,
    latency_ms BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_key);
CREATE INDEX IF NOT EXISTS idx_transactions_decision ON transactions(final_decision);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

// AllSchemas returns all schema statements for driver in order.
func AllSchemas(driver string) []string {
	users := schemaUsersSQLite
	if driver == "postgres" {
		users = schemaUsersPostgres
	}
	return []string{
		users,
		schemaTransactions,
	}
}
