package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		AcceptThreshold: 0.80,
		WarnThreshold:   0.70,
		AmountTolerance: 1000,
		VerifyCurrency:  models.MMK,
		MaxAmount:       10_000_000,
		MaxRetries:      3,
		RetryBaseDelay:  time.Millisecond,
		SessionTTL:      30 * time.Minute,
		THBBanks:        []string{"KBank", "SCB", "KTB", "Bangkok Bank", "Kasikorn"},
		MMKBanks:        []string{"KBZ", "AYA", "CB Bank", "KPay", "Wave Money"},
	}
}

func newServiceTestStore(t *testing.T) *database.Store {
	t.Helper()
	logger.InitLogger("error")
	db, err := database.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewStore(db)
}

// fakeOCR returns a canned extraction, or an error, and counts invocations.
type fakeOCR struct {
	info  *models.ReceiptInfo
	err   error
	calls int
}

func (f *fakeOCR) ExtractReceiptInfo(ctx context.Context, image []byte) (*models.ReceiptInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

// recordingNotifier counts every notification it receives.
type recordingNotifier struct {
	mu                 sync.Mutex
	newTransactions    int
	insufficientFunds  int
	nameWarnings       int
	balanceChanges     int
	userSettledNotices int
	userCancelNotices  int
}

func (r *recordingNotifier) NotifyNewTransaction(t *models.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newTransactions++
}

func (r *recordingNotifier) AlertInsufficientFunds(t *models.Transaction, bank string, balance, required float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insufficientFunds++
}

func (r *recordingNotifier) WarnNameMismatch(t *models.Transaction, similarity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nameWarnings++
}

func (r *recordingNotifier) ReportBalanceChange(bank string, currency models.Currency, before, after float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balanceChanges++
}

func (r *recordingNotifier) NotifyUserSettled(t *models.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userSettledNotices++
}

func (r *recordingNotifier) NotifyUserCancelled(t *models.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userCancelNotices++
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
