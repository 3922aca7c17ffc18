package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// InitDB opens the sqlite database at databasePath and ensures the schema
// exists. The returned handle is shared by all stores.
func InitDB(databasePath string) (*sql.DB, error) {
	if dir := filepath.Dir(databasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", databasePath, err)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// between the check and the write inside a settlement transaction.
	db.SetMaxOpenConns(1)

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		username TEXT,
		direction TEXT NOT NULL,
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		sent_amount REAL NOT NULL,
		received_amount REAL NOT NULL,
		exchange_rate REAL NOT NULL,
		user_bank_name TEXT NOT NULL,
		user_account_number TEXT NOT NULL,
		user_account_name TEXT NOT NULL,
		from_bank TEXT,
		admin_receiving_bank TEXT,
		receipt_ref TEXT,
		counter_receipt_ref TEXT,
		status TEXT DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		confirmed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bank_accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		currency TEXT NOT NULL,
		bank_name TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_name TEXT NOT NULL,
		balance REAL DEFAULT 0.0,
		is_active INTEGER DEFAULT 1,
		display_name TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(currency, bank_name, account_number)
	);

	CREATE TABLE IF NOT EXISTS exchange_rate (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		rate REAL NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(createTableStatement); err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	indexStatements := []string{
		"CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at)",
	}
	for _, stmt := range indexStatements {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("creating index: %w", err)
		}
	}

	return db, nil
}
