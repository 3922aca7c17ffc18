package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/models"
)

func newTestSettlement(t *testing.T, ocr OCRService, mmkBalance float64) (*SettlementService, *recordingNotifier, int64) {
	t.Helper()
	cfg := testConfig()
	store := newServiceTestStore(t)
	ctx := context.Background()
	_, err := store.AddBankAccount(ctx, models.MMK, "KBZ", "222", "Shop Owner", "", mmkBalance)
	require.NoError(t, err)

	txID, err := store.CreateTransaction(ctx, &models.Transaction{
		UserID:             42,
		Username:           "testuser",
		Direction:          models.THBToMMK,
		FromCurrency:       models.THB,
		ToCurrency:         models.MMK,
		SentAmount:         1000,
		ReceivedAmount:     121500,
		ExchangeRate:       121.5,
		UserBankName:       "KBZ",
		UserAccountNumber:  "999",
		UserAccountName:    "Chaw Su Thu Zar",
		AdminReceivingBank: "Kasikorn",
	})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	svc := NewSettlementService(store, ocr, notifier, NewValidatorService(cfg), cfg)
	return svc, notifier, txID
}

func counterReceipt(amount float64, name string) *models.ReceiptInfo {
	return &models.ReceiptInfo{
		Amount:       floatPtr(amount),
		ReceiverBank: strPtr("KBZ"),
		ReceiverName: strPtr(name),
	}
}

func TestConfirmCounterReceiptExactMatch(t *testing.T) {
	ocr := &fakeOCR{info: counterReceipt(121500, "Chaw Su Thu Zar")}
	svc, notifier, txID := newTestSettlement(t, ocr, 5_000_000)

	res, err := svc.ConfirmCounterReceipt(context.Background(), txID, []byte("img"), "receipts/out/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.NameSimilarity)
	assert.False(t, res.NameWarning)
	assert.False(t, res.AmountRevised)
	assert.Equal(t, "receipts/out/1.jpg", res.Transaction.CounterReceiptRef)
	assert.Equal(t, 0, notifier.nameWarnings)
}

func TestConfirmCounterReceiptRevisesAmountWithinTolerance(t *testing.T) {
	ocr := &fakeOCR{info: counterReceipt(121000, "Chaw Su Thu Zar")}
	svc, _, txID := newTestSettlement(t, ocr, 5_000_000)
	ctx := context.Background()

	res, err := svc.ConfirmCounterReceipt(ctx, txID, []byte("img"), "r")
	require.NoError(t, err)
	assert.True(t, res.AmountRevised)
	assert.Equal(t, 121000.0, res.Transaction.ReceivedAmount)

	got, err := svc.store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, 121000.0, got.ReceivedAmount)
}

func TestConfirmCounterReceiptRejectsAmountOutsideTolerance(t *testing.T) {
	ocr := &fakeOCR{info: counterReceipt(120000, "Chaw Su Thu Zar")}
	svc, _, txID := newTestSettlement(t, ocr, 5_000_000)
	ctx := context.Background()

	_, err := svc.ConfirmCounterReceipt(ctx, txID, []byte("img"), "r")
	assert.ErrorIs(t, err, ErrAmountMismatch)

	got, err := svc.store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "rejection keeps the transaction pending")
	assert.Equal(t, 121500.0, got.ReceivedAmount, "rejection never revises the amount")
}

func TestConfirmCounterReceiptAcceptsBorderlineName(t *testing.T) {
	// "chawsuthu" vs "chawsuthuzar": similarity 0.75, above the warning line
	ocr := &fakeOCR{info: counterReceipt(121500, "Chaw Su Thu")}
	svc, notifier, txID := newTestSettlement(t, ocr, 5_000_000)

	res, err := svc.ConfirmCounterReceipt(context.Background(), txID, []byte("img"), "r")
	require.NoError(t, err)
	assert.False(t, res.NameWarning)
	assert.Equal(t, 0, notifier.nameWarnings)
}

func TestConfirmCounterReceiptWarnsOnWrongNameWithoutBlocking(t *testing.T) {
	ocr := &fakeOCR{info: counterReceipt(121500, "Totally Different Person")}
	svc, notifier, txID := newTestSettlement(t, ocr, 5_000_000)

	res, err := svc.ConfirmCounterReceipt(context.Background(), txID, []byte("img"), "r")
	require.NoError(t, err, "a name mismatch flags, it never blocks")
	assert.True(t, res.NameWarning)
	assert.Less(t, res.NameSimilarity, 0.70)
	assert.Equal(t, 1, notifier.nameWarnings)
	assert.Equal(t, models.StatusPending, res.Transaction.Status)
}

func TestConfirmCounterReceiptProceedsWithoutAmount(t *testing.T) {
	ocr := &fakeOCR{info: &models.ReceiptInfo{}}
	svc, notifier, txID := newTestSettlement(t, ocr, 5_000_000)
	ctx := context.Background()

	res, err := svc.ConfirmCounterReceipt(ctx, txID, []byte("img"), "r")
	require.NoError(t, err, "an unreadable amount leaves the receipt unverified, not blocked")
	assert.False(t, res.AmountRevised)
	assert.Equal(t, 0, notifier.nameWarnings)

	got, err := svc.store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, 121500.0, got.ReceivedAmount)
	assert.Equal(t, "r", got.CounterReceiptRef)
}

func TestConfirmCounterReceiptProceedsOnRecognitionFailure(t *testing.T) {
	ocr := &fakeOCR{err: context.DeadlineExceeded}
	svc, _, txID := newTestSettlement(t, ocr, 5_000_000)
	ctx := context.Background()

	_, err := svc.ConfirmCounterReceipt(ctx, txID, []byte("img"), "r")
	require.NoError(t, err)

	got, err := svc.store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, "r", got.CounterReceiptRef)
}

func TestConfirmCounterReceiptSkipsRecognitionForUnverifiedCurrency(t *testing.T) {
	// wildly wrong amount, but THB payouts are not verified at all
	ocr := &fakeOCR{info: counterReceipt(999, "Somebody Else")}
	svc, notifier, _ := newTestSettlement(t, ocr, 5_000_000)
	ctx := context.Background()

	txID, err := svc.store.CreateTransaction(ctx, &models.Transaction{
		UserID:          7,
		Direction:       models.MMKToTHB,
		FromCurrency:    models.MMK,
		ToCurrency:      models.THB,
		SentAmount:      121500,
		ReceivedAmount:  1000,
		ExchangeRate:    121.5,
		UserBankName:    "Kasikorn",
		UserAccountName: "Somchai Prasert",
	})
	require.NoError(t, err)

	res, err := svc.ConfirmCounterReceipt(ctx, txID, []byte("img"), "r")
	require.NoError(t, err)
	assert.Equal(t, 0, ocr.calls, "recognition only runs for the verify-enabled currency")
	assert.False(t, res.AmountRevised)
	assert.Equal(t, 0, notifier.nameWarnings)
}

func TestSettleConfirmsAndDebits(t *testing.T) {
	svc, notifier, txID := newTestSettlement(t, &fakeOCR{}, 5_000_000)
	ctx := context.Background()

	tx, err := svc.Settle(ctx, txID, "KBZ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, tx.Status)
	assert.Equal(t, 1, notifier.balanceChanges)
	assert.Equal(t, 1, notifier.userSettledNotices)

	balance, err := svc.store.GetBalance(ctx, models.MMK, "KBZ")
	require.NoError(t, err)
	assert.Equal(t, 4_878_500.0, balance)

	got, err := svc.store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
}

func TestSettleInsufficientFundsFailsClosed(t *testing.T) {
	svc, notifier, txID := newTestSettlement(t, &fakeOCR{}, 100_000)
	ctx := context.Background()

	_, err := svc.Settle(ctx, txID, "KBZ")
	assert.ErrorIs(t, err, database.ErrInsufficientFunds)
	assert.Equal(t, 1, notifier.insufficientFunds, "exactly one alert")
	assert.Equal(t, 0, notifier.userSettledNotices)

	balance, err := svc.store.GetBalance(ctx, models.MMK, "KBZ")
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, balance, "balance untouched")

	got, err := svc.store.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "transaction stays pending")
}

func TestSettleRejectsUnknownBank(t *testing.T) {
	svc, _, txID := newTestSettlement(t, &fakeOCR{}, 5_000_000)

	_, err := svc.Settle(context.Background(), txID, "Monzo")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSettleRejectsTerminalTransaction(t *testing.T) {
	svc, _, txID := newTestSettlement(t, &fakeOCR{}, 5_000_000)
	ctx := context.Background()

	_, err := svc.Settle(ctx, txID, "KBZ")
	require.NoError(t, err)

	_, err = svc.Settle(ctx, txID, "KBZ")
	assert.ErrorIs(t, err, database.ErrTerminalStatus)

	balance, err := svc.store.GetBalance(ctx, models.MMK, "KBZ")
	require.NoError(t, err)
	assert.Equal(t, 4_878_500.0, balance, "double settle never double debits")
}

func TestSkipVerification(t *testing.T) {
	svc, _, txID := newTestSettlement(t, &fakeOCR{}, 5_000_000)
	ctx := context.Background()

	tx, err := svc.SkipVerification(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, tx.Status)

	_, err = svc.Settle(ctx, txID, "KBZ")
	require.NoError(t, err)

	_, err = svc.SkipVerification(ctx, txID)
	assert.ErrorIs(t, err, database.ErrTerminalStatus)
}

func TestCancelKeepsProvisionalCredit(t *testing.T) {
	svc, notifier, txID := newTestSettlement(t, &fakeOCR{}, 5_000_000)
	ctx := context.Background()

	// the THB side was credited when the request was created; cancelling
	// the transaction must not invent a reversal the operator did not make
	require.NoError(t, svc.store.SetBalance(ctx, models.THB, "Kasikorn", 51000))

	tx, err := svc.Cancel(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, tx.Status)
	assert.Equal(t, 1, notifier.userCancelNotices)

	balance, err := svc.store.GetBalance(ctx, models.THB, "Kasikorn")
	require.NoError(t, err)
	assert.Equal(t, 51000.0, balance)

	mmk, err := svc.store.GetBalance(ctx, models.MMK, "KBZ")
	require.NoError(t, err)
	assert.Equal(t, 5_000_000.0, mmk)
}

func TestCancelTerminalTransaction(t *testing.T) {
	svc, _, txID := newTestSettlement(t, &fakeOCR{}, 5_000_000)
	ctx := context.Background()

	_, err := svc.Cancel(ctx, txID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, txID)
	assert.ErrorIs(t, err, database.ErrTerminalStatus)
}
