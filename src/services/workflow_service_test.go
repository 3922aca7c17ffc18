package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwehtet-dev/exchange-bot/src/models"
)

func newTestWorkflow(t *testing.T, ocr OCRService) (*WorkflowService, *recordingNotifier) {
	t.Helper()
	cfg := testConfig()
	store := newServiceTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InitRate(ctx, 121.5))
	_, err := store.AddBankAccount(ctx, models.THB, "Kasikorn", "111", "Shop Owner", "", 50000)
	require.NoError(t, err)
	_, err = store.AddBankAccount(ctx, models.MMK, "KBZ", "222", "Shop Owner", "", 5_000_000)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	wf := NewWorkflowService(store, ocr, notifier, NewValidatorService(cfg), cfg)
	return wf, notifier
}

func matchingReceipt(amount float64) *models.ReceiptInfo {
	info := &models.ReceiptInfo{
		ReceiverBank: strPtr("KBank"),
		ReceiverName: strPtr("Shop Owner"),
		SenderBank:   strPtr("SCB"),
		SenderName:   strPtr("Chaw Su Thu Zar"),
	}
	if amount > 0 {
		info.Amount = floatPtr(amount)
	}
	return info
}

func TestWorkflowHappyPath(t *testing.T) {
	wf, notifier := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	sess, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingReceipt, sess.Step)
	assert.Equal(t, 121.5, sess.ExchangeRate)

	sess, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "receipts/in/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingBankInfo, sess.Step, "readable amount skips the amount step")
	assert.Equal(t, 1000.0, sess.SentAmount)
	assert.Equal(t, 121500.0, sess.ReceivedAmount)
	assert.Equal(t, "Kasikorn", sess.AdminReceivingBank)

	tx, err := wf.SubmitBankInfo(ctx, 42, "KBZ", "999-888", "Chaw Su Thu Zar")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, tx.Status)
	assert.Equal(t, models.THBToMMK, tx.Direction)
	assert.Equal(t, "SCB", tx.FromBank)
	assert.Equal(t, 1, notifier.newTransactions)

	_, ok := wf.Session(42)
	assert.False(t, ok, "session ends on transaction creation")
}

func TestWorkflowCreditsReceivingBank(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)
	_, err = wf.SubmitBankInfo(ctx, 42, "KBZ", "999888777", "Chaw Su Thu Zar")
	require.NoError(t, err)

	balance, err := wf.store.GetBalance(ctx, models.THB, "Kasikorn")
	require.NoError(t, err)
	assert.Equal(t, 51000.0, balance, "incoming THB lands on the receiving account")
}

func TestWorkflowManualAmountWhenUnreadable(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(0)})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)

	sess, err := wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingAmount, sess.Step)

	sess, err = wf.SubmitAmount(ctx, 42, 2000)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingBankInfo, sess.Step)
	assert.Equal(t, 243000.0, sess.ReceivedAmount)
}

func TestWorkflowRejectsUnmatchedReceipt(t *testing.T) {
	info := matchingReceipt(1000)
	info.ReceiverName = strPtr("Somebody Else")
	wf, _ := newTestWorkflow(t, &fakeOCR{info: info})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	assert.ErrorIs(t, err, ErrUnmatchedAccount)

	sess, ok := wf.Session(42)
	require.True(t, ok, "session survives a rejected receipt")
	assert.Equal(t, models.StepAwaitingReceipt, sess.Step)
}

func TestWorkflowReceiptStatusGate(t *testing.T) {
	cases := []struct {
		status string
		passes bool
	}{
		{"Transaction Successful", true},
		{"SUCCESS", true},
		{"FAILED", false},
		{"Completed", false}, // anything that does not say success is re-prompted
		{"Transferred", false},
	}
	for _, c := range cases {
		info := matchingReceipt(1000)
		info.Status = strPtr(c.status)
		wf, _ := newTestWorkflow(t, &fakeOCR{info: info})
		ctx := context.Background()

		_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
		require.NoError(t, err)
		_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
		if c.passes {
			assert.NoError(t, err, "status %q", c.status)
			continue
		}
		assert.ErrorIs(t, err, ErrValidation, "status %q", c.status)
		sess, ok := wf.Session(42)
		require.True(t, ok)
		assert.Equal(t, models.StepAwaitingReceipt, sess.Step, "session stays parked for a retry")
	}
}

func TestWorkflowProceedsWithoutReceiverName(t *testing.T) {
	// nothing extracted at all, the shape a mock recognizer produces
	wf, _ := newTestWorkflow(t, &fakeOCR{info: &models.ReceiptInfo{}})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)

	sess, err := wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err, "no extracted name means nothing to validate")
	assert.Equal(t, models.StepAwaitingAmount, sess.Step)
	assert.Equal(t, "", sess.AdminReceivingBank)
}

func TestWorkflowFallsBackToReceiptBankWithoutName(t *testing.T) {
	info := matchingReceipt(1000)
	info.ReceiverName = nil
	wf, _ := newTestWorkflow(t, &fakeOCR{info: info})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)

	sess, err := wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)
	assert.Equal(t, "KBank", sess.AdminReceivingBank, "the receipt's bank field stands in")
}

func TestWorkflowStepOrderEnforced(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	_, err := wf.SubmitAmount(ctx, 42, 1000)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)

	_, err = wf.SubmitAmount(ctx, 42, 1000)
	assert.ErrorIs(t, err, ErrSessionStep)
	_, err = wf.SubmitBankInfo(ctx, 42, "KBZ", "999", "Name")
	assert.ErrorIs(t, err, ErrSessionStep)
}

func TestWorkflowRejectsUnknownDirection(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	_, err := wf.StartExchange(context.Background(), 42, "testuser", "USD_TO_MMK")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWorkflowRejectsUnsupportedBank(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)

	_, err = wf.SubmitBankInfo(ctx, 42, "Monzo", "999888777", "Chaw Su Thu Zar")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestWorkflowRejectsShortBankDetails(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)

	_, err = wf.SubmitBankInfo(ctx, 42, "K", "999888777", "Chaw Su Thu Zar")
	assert.ErrorIs(t, err, ErrValidation, "bank name needs 2 characters")
	_, err = wf.SubmitBankInfo(ctx, 42, "KBZ", "9998", "Chaw Su Thu Zar")
	assert.ErrorIs(t, err, ErrValidation, "account number needs 5 digits")
	_, err = wf.SubmitBankInfo(ctx, 42, "KBZ", "999888777", "C")
	assert.ErrorIs(t, err, ErrValidation, "account name needs 2 characters")

	sess, ok := wf.Session(42)
	require.True(t, ok, "rejection keeps the session alive")
	assert.Equal(t, models.StepAwaitingBankInfo, sess.Step)
}

func TestWorkflowQuotesRateAtCreationTime(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)

	// the operator moves the rate while the user is mid-flow
	require.NoError(t, wf.store.UpdateRate(ctx, 122.0))

	tx, err := wf.SubmitBankInfo(ctx, 42, "KBZ", "999888777", "Chaw Su Thu Zar")
	require.NoError(t, err)
	assert.Equal(t, 122.0, tx.ExchangeRate, "the rate at creation wins over the one shown at start")
	assert.Equal(t, 1000.0, tx.SentAmount)
	assert.Equal(t, 122000.0, tx.ReceivedAmount)
}

func TestWorkflowCancelMidFlow(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	assert.ErrorIs(t, wf.Cancel(ctx, 42), ErrNoActiveSession)

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)

	require.NoError(t, wf.Cancel(ctx, 42))
	_, ok := wf.Session(42)
	assert.False(t, ok)

	// cancelling before any transaction exists must not touch balances
	balance, err := wf.store.GetBalance(ctx, models.THB, "Kasikorn")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, balance)
}

func TestWorkflowRestartReplacesSession(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(1000)})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)

	sess, err := wf.StartExchange(ctx, 42, "testuser", models.MMKToTHB)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingReceipt, sess.Step)
	assert.Equal(t, models.MMKToTHB, sess.Direction)
}

func TestWorkflowAmountOverCap(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeOCR{info: matchingReceipt(0)})
	ctx := context.Background()

	_, err := wf.StartExchange(ctx, 42, "testuser", models.THBToMMK)
	require.NoError(t, err)
	_, err = wf.SubmitReceipt(ctx, 42, []byte("img"), "r")
	require.NoError(t, err)

	_, err = wf.SubmitAmount(ctx, 42, 10_000_001)
	assert.ErrorIs(t, err, ErrValidation)
}
