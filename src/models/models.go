package models

import "time"

// Currency is one of the two statically known currencies the service brokers.
type Currency string

const (
	THB Currency = "THB"
	MMK Currency = "MMK"
)

// Direction of an exchange. Fixed at session start and copied into the transaction.
type Direction string

const (
	THBToMMK Direction = "THB_TO_MMK"
	MMKToTHB Direction = "MMK_TO_THB"
)

// Currencies returns the (from, to) pair for the direction.
func (d Direction) Currencies() (Currency, Currency) {
	if d == MMKToTHB {
		return MMK, THB
	}
	return THB, MMK
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == THBToMMK || d == MMKToTHB
}

// Transaction statuses. Transitions are one-way: pending -> confirmed or
// pending -> cancelled. Confirmed and cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// BankAccount is a ledger row: the unit of atomic balance mutation, keyed by
// (currency, bank_name, account_number). Rows are never deleted, only
// deactivated; inactive rows are excluded from matching and balance listings.
type BankAccount struct {
	ID            int64     `json:"id"`
	Currency      Currency  `json:"currency"`
	BankName      string    `json:"bank_name"`
	AccountNumber string    `json:"account_number"`
	AccountName   string    `json:"account_name"`
	Balance       float64   `json:"balance"`
	IsActive      bool      `json:"is_active"`
	DisplayName   string    `json:"display_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Display returns the reporting alias, falling back to the bank name.
func (a *BankAccount) Display() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.BankName
}

// Transaction is a single exchange request. The exchange rate is captured at
// creation and never retroactively changed. ReceivedAmount may be revised at
// most once, from pending state, when the counter-receipt reveals a different
// confirmed amount within tolerance.
type Transaction struct {
	ID                 int64      `json:"id"`
	UserID             int64      `json:"user_id"`
	Username           string     `json:"username,omitempty"`
	Direction          Direction  `json:"direction"`
	FromCurrency       Currency   `json:"from_currency"`
	ToCurrency         Currency   `json:"to_currency"`
	SentAmount         float64    `json:"sent_amount"`
	ReceivedAmount     float64    `json:"received_amount"`
	ExchangeRate       float64    `json:"exchange_rate"`
	UserBankName       string     `json:"user_bank_name"`
	UserAccountNumber  string     `json:"user_account_number"`
	UserAccountName    string     `json:"user_account_name"`
	FromBank           string     `json:"from_bank,omitempty"`
	AdminReceivingBank string     `json:"admin_receiving_bank,omitempty"`
	ReceiptRef         string     `json:"receipt_ref,omitempty"`
	CounterReceiptRef  string     `json:"counter_receipt_ref,omitempty"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
}

// ReceiptInfo is the structured record the recognition provider extracts from
// a transfer receipt image. Absent fields are nil.
type ReceiptInfo struct {
	Amount       *float64 `json:"amount"`
	SenderBank   *string  `json:"sender_bank"`
	ReceiverBank *string  `json:"receiver_bank"`
	SenderName   *string  `json:"sender_name"`
	ReceiverName *string  `json:"receiver_name"`
	Status       *string  `json:"status"`
	Reference    *string  `json:"reference"`
}

// BalanceRow is one line of a balance listing.
type BalanceRow struct {
	Currency    Currency `json:"currency"`
	BankName    string   `json:"bank_name"`
	Balance     float64  `json:"balance"`
	DisplayName string   `json:"display_name,omitempty"`
}

// Session workflow steps.
type Step int

const (
	StepAwaitingReceipt Step = iota + 1
	StepAwaitingAmount
	StepAwaitingBankInfo
)

func (s Step) String() string {
	switch s {
	case StepAwaitingReceipt:
		return "awaiting_receipt"
	case StepAwaitingAmount:
		return "awaiting_amount"
	case StepAwaitingBankInfo:
		return "awaiting_bank_info"
	}
	return "unknown"
}

// Session is the ephemeral per-user workflow state. It is never persisted and
// never shared across users; exactly one live session per user at a time.
type Session struct {
	UserID             int64        `json:"user_id"`
	Username           string       `json:"username,omitempty"`
	Direction          Direction    `json:"direction"`
	FromCurrency       Currency     `json:"from_currency"`
	ToCurrency         Currency     `json:"to_currency"`
	Step               Step         `json:"step"`
	ReceiptRef         string       `json:"receipt_ref,omitempty"`
	ReceiptInfo        *ReceiptInfo `json:"receipt_info,omitempty"`
	SentAmount         float64      `json:"sent_amount,omitempty"`
	ReceivedAmount     float64      `json:"received_amount,omitempty"`
	ExchangeRate       float64      `json:"exchange_rate,omitempty"`
	AdminReceivingBank string       `json:"admin_receiving_bank,omitempty"`
}
