package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
)

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientFunds blocks a debit that would take a balance below zero.
	// The ledger row is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTerminalStatus means the transaction is already confirmed or
	// cancelled; terminal statuses are never revisited.
	ErrTerminalStatus = errors.New("transaction already settled or cancelled")
	// ErrDuplicateAccount means a bank account with the same
	// (currency, bank_name, account_number) already exists.
	ErrDuplicateAccount = errors.New("bank account already exists")
)

// Store is the persisted ledger: bank-account balances, the exchange-rate
// singleton, the settings store and the transaction log. Every balance
// mutation is a single atomic read-modify-write keyed by (currency, bank_name).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- exchange rate ---

// InitRate seeds the exchange-rate singleton when it is not set yet.
func (s *Store) InitRate(ctx context.Context, defaultRate float64) error {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exchange_rate").Scan(&count); err != nil {
		return fmt.Errorf("checking exchange rate: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO exchange_rate (id, rate, updated_at) VALUES (1, ?, ?)",
		defaultRate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("initializing exchange rate: %w", err)
	}
	logger.L.Info("Exchange rate initialized", "rate", defaultRate)
	return nil
}

func (s *Store) GetCurrentRate(ctx context.Context) (float64, error) {
	var rate float64
	err := s.db.QueryRowContext(ctx, "SELECT rate FROM exchange_rate WHERE id = 1").Scan(&rate)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading exchange rate: %w", err)
	}
	return rate, nil
}

func (s *Store) UpdateRate(ctx context.Context, rate float64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO exchange_rate (id, rate, updated_at) VALUES (1, ?, ?)",
		rate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating exchange rate: %w", err)
	}
	logger.L.Info("Exchange rate updated", "rate", rate)
	return nil
}

// --- bank accounts ---

func (s *Store) AddBankAccount(ctx context.Context, currency models.Currency, bankName, accountNumber, accountName, displayName string, initialBalance float64) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_accounts
		(currency, bank_name, account_number, account_name, display_name, balance, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		currency, bankName, accountNumber, accountName, nullable(displayName), initialBalance, now, now)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return 0, ErrDuplicateAccount
		}
		return 0, fmt.Errorf("adding bank account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logger.L.Info("Bank account added", "currency", currency, "bank", bankName, "account", accountNumber)
	return id, nil
}

// GetBankAccounts lists accounts, optionally filtered by currency. With
// activeOnly set, deactivated rows are excluded (they remain for audit).
func (s *Store) GetBankAccounts(ctx context.Context, currency models.Currency, activeOnly bool) ([]models.BankAccount, error) {
	query := `SELECT id, currency, bank_name, account_number, account_name, balance,
		is_active, COALESCE(display_name, ''), created_at, updated_at
		FROM bank_accounts WHERE 1=1`
	var params []any
	if currency != "" {
		query += " AND currency = ?"
		params = append(params, currency)
	}
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY currency, bank_name"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.BankAccount
	for rows.Next() {
		var a models.BankAccount
		if err := rows.Scan(&a.ID, &a.Currency, &a.BankName, &a.AccountNumber, &a.AccountName,
			&a.Balance, &a.IsActive, &a.DisplayName, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning bank account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) DeactivateBankAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE bank_accounts SET is_active = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivating bank account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logger.L.Info("Bank account deactivated", "id", id)
	return nil
}

func (s *Store) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE bank_accounts SET display_name = ?, updated_at = ? WHERE id = ?",
		displayName, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating display name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- balances ---

func (s *Store) GetBalances(ctx context.Context) ([]models.BalanceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT currency, bank_name, balance, COALESCE(display_name, '')
		FROM bank_accounts WHERE is_active = 1
		ORDER BY currency, bank_name`)
	if err != nil {
		return nil, fmt.Errorf("listing balances: %w", err)
	}
	defer rows.Close()

	var balances []models.BalanceRow
	for rows.Next() {
		var b models.BalanceRow
		if err := rows.Scan(&b.Currency, &b.BankName, &b.Balance, &b.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, currency models.Currency, bankName string) (float64, error) {
	var balance float64
	err := s.db.QueryRowContext(ctx,
		"SELECT balance FROM bank_accounts WHERE currency = ? AND bank_name = ? AND is_active = 1",
		currency, bankName).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return balance, nil
}

// UpdateBalance applies an additive balance change to the ledger row for
// (currency, bank_name) in a single UPDATE.
func (s *Store) UpdateBalance(ctx context.Context, currency models.Currency, bankName string, delta float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bank_accounts SET balance = balance + ?, updated_at = ?
		WHERE currency = ? AND bank_name = ? AND is_active = 1`,
		delta, time.Now().UTC(), currency, bankName)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logger.L.Info("Balance updated", "currency", currency, "bank", bankName, "delta", delta)
	return nil
}

// SetBalance sets an absolute balance, creating the ledger row when it does
// not exist yet (account number and name are filled in later by the operator).
func (s *Store) SetBalance(ctx context.Context, currency models.Currency, bankName string, balance float64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE bank_accounts SET balance = ?, updated_at = ?
		WHERE currency = ? AND bank_name = ? AND is_active = 1`,
		balance, now, currency, bankName)
	if err != nil {
		return fmt.Errorf("setting balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bank_accounts
		(currency, bank_name, account_number, account_name, balance, is_active, created_at, updated_at)
		VALUES (?, ?, '', '', ?, 1, ?, ?)`,
		currency, bankName, balance, now, now)
	if err != nil {
		return fmt.Errorf("creating balance row: %w", err)
	}
	return nil
}

// DebitForSettlement performs the settlement debit as one atomic unit: the
// insufficiency check and the debit run inside a single transaction so
// concurrent settlements against the same row cannot interleave between the
// check and the write. On insufficient funds no mutation occurs.
func (s *Store) DebitForSettlement(ctx context.Context, currency models.Currency, bankName string, amount float64) (before, after float64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning settlement tx: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		"SELECT balance FROM bank_accounts WHERE currency = ? AND bank_name = ? AND is_active = 1",
		currency, bankName).Scan(&before)
	if err == sql.ErrNoRows {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading balance for settlement: %w", err)
	}

	after = before - amount
	if after < 0 {
		return before, before, ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bank_accounts SET balance = balance - ?, updated_at = ?
		WHERE currency = ? AND bank_name = ? AND is_active = 1`,
		amount, time.Now().UTC(), currency, bankName)
	if err != nil {
		return before, before, fmt.Errorf("applying settlement debit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return before, before, fmt.Errorf("committing settlement debit: %w", err)
	}
	return before, after, nil
}

// InitializeBalances seeds ledger rows that do not exist yet. Existing rows
// are left alone.
func (s *Store) InitializeBalances(ctx context.Context, initial []config.InitialBalance) error {
	for _, ib := range initial {
		accounts, err := s.GetBankAccounts(ctx, ib.Currency, false)
		if err != nil {
			return err
		}
		exists := false
		for _, acc := range accounts {
			if acc.BankName == ib.BankName {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		if _, err := s.AddBankAccount(ctx, ib.Currency, ib.BankName, "", "", "", ib.Balance); err != nil {
			return err
		}
		logger.L.Info("Seeded ledger row", "currency", ib.Currency, "bank", ib.BankName, "balance", ib.Balance)
	}
	return nil
}

// --- settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// --- transactions ---

func (s *Store) CreateTransaction(ctx context.Context, t *models.Transaction) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			user_id, username, direction, from_currency, to_currency,
			sent_amount, received_amount, exchange_rate,
			user_bank_name, user_account_number, user_account_name,
			from_bank, admin_receiving_bank, receipt_ref, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		t.UserID, t.Username, t.Direction, t.FromCurrency, t.ToCurrency,
		t.SentAmount, t.ReceivedAmount, t.ExchangeRate,
		t.UserBankName, t.UserAccountNumber, t.UserAccountName,
		t.FromBank, t.AdminReceivingBank, t.ReceiptRef, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("creating transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logger.L.Info("Transaction created", "id", id, "direction", t.Direction)
	return id, nil
}

const transactionColumns = `id, user_id, COALESCE(username, ''), direction, from_currency, to_currency,
	sent_amount, received_amount, exchange_rate,
	user_bank_name, user_account_number, user_account_name,
	COALESCE(from_bank, ''), COALESCE(admin_receiving_bank, ''),
	COALESCE(receipt_ref, ''), COALESCE(counter_receipt_ref, ''),
	status, created_at, confirmed_at`

// scanTransaction is the single row shape for transactions. Every read path
// goes through it; there is no positional-index access anywhere else.
func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	var confirmedAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.Username, &t.Direction, &t.FromCurrency, &t.ToCurrency,
		&t.SentAmount, &t.ReceivedAmount, &t.ExchangeRate,
		&t.UserBankName, &t.UserAccountNumber, &t.UserAccountName,
		&t.FromBank, &t.AdminReceivingBank,
		&t.ReceiptRef, &t.CounterReceiptRef,
		&t.Status, &t.CreatedAt, &confirmedAt)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t.ConfirmedAt = &confirmedAt.Time
	}
	return &t, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading transaction %d: %w", id, err)
	}
	return t, nil
}

func (s *Store) GetRecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// GetTransactionsSince lists transactions created at or after the cutoff,
// newest first.
func (s *Store) GetTransactionsSince(ctx context.Context, since time.Time) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE created_at >= ? ORDER BY created_at DESC, id DESC", since)
	if err != nil {
		return nil, fmt.Errorf("listing transactions since %s: %w", since, err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// GetPendingTransactionByUser is the explicit fallback lookup for transports
// that can only recover the originating user from a notification.
func (s *Store) GetPendingTransactionByUser(ctx context.Context, userID int64) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		WHERE user_id = ? AND status = 'pending'
		ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading pending transaction for user %d: %w", userID, err)
	}
	return t, nil
}

// UpdateReceivedAmount revises the received amount of a still-pending
// transaction. Settled amounts are frozen.
func (s *Store) UpdateReceivedAmount(ctx context.Context, id int64, amount float64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET received_amount = ? WHERE id = ? AND status = 'pending'",
		amount, id)
	if err != nil {
		return fmt.Errorf("updating received amount: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	logger.L.Info("Transaction received_amount corrected", "id", id, "amount", amount)
	return nil
}

func (s *Store) SetCounterReceipt(ctx context.Context, id int64, ref string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET counter_receipt_ref = ? WHERE id = ?", ref, id)
	if err != nil {
		return fmt.Errorf("updating counter receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ConfirmTransaction moves pending -> confirmed. The WHERE clause enforces
// the one-way transition: a terminal row is never touched.
func (s *Store) ConfirmTransaction(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET status = 'confirmed', confirmed_at = ? WHERE id = ? AND status = 'pending'",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("confirming transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	logger.L.Info("Transaction confirmed", "id", id)
	return nil
}

// CancelTransaction moves pending -> cancelled. The provisional credit made
// at creation time is intentionally not reversed; see DESIGN.md.
func (s *Store) CancelTransaction(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET status = 'cancelled' WHERE id = ? AND status = 'pending'", id)
	if err != nil {
		return fmt.Errorf("cancelling transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	logger.L.Info("Transaction cancelled", "id", id)
	return nil
}

func (s *Store) missingOrTerminal(ctx context.Context, id int64) error {
	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM transactions WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading transaction status: %w", err)
	}
	return fmt.Errorf("%w: transaction %d is %s", ErrTerminalStatus, id, status)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
