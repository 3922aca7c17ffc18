package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
)

func TestHandleTodayTransactions(t *testing.T) {
	logger.InitLogger("error")
	db, err := database.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := database.NewStore(db)
	ctx := context.Background()

	newTx := func() *models.Transaction {
		return &models.Transaction{
			UserID:            42,
			Direction:         models.THBToMMK,
			FromCurrency:      models.THB,
			ToCurrency:        models.MMK,
			SentAmount:        1000,
			ReceivedAmount:    121500,
			ExchangeRate:      121.5,
			UserBankName:      "KBZ",
			UserAccountNumber: "1234567890",
			UserAccountName:   "Chaw Su Thu Zar",
		}
	}
	confirmed, err := store.CreateTransaction(ctx, newTx())
	require.NoError(t, err)
	require.NoError(t, store.ConfirmTransaction(ctx, confirmed))
	_, err = store.CreateTransaction(ctx, newTx())
	require.NoError(t, err)
	cancelled, err := store.CreateTransaction(ctx, newTx())
	require.NoError(t, err)
	require.NoError(t, store.CancelTransaction(ctx, cancelled))

	h := NewAdminHandler(nil, nil, store, newHandlerTestConfig(t))
	rec := httptest.NewRecorder()
	h.HandleTodayTransactions(rec, httptest.NewRequest(http.MethodGet, "/api/admin/transactions/today", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Transactions []models.Transaction `json:"transactions"`
		Summary      struct {
			Confirmed     int                `json:"confirmed"`
			Pending       int                `json:"pending"`
			Cancelled     int                `json:"cancelled"`
			TotalSent     map[string]float64 `json:"total_sent"`
			TotalReceived map[string]float64 `json:"total_received"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Transactions, 3)
	assert.Equal(t, 1, resp.Summary.Confirmed)
	assert.Equal(t, 1, resp.Summary.Pending)
	assert.Equal(t, 1, resp.Summary.Cancelled)
	assert.Equal(t, 1000.0, resp.Summary.TotalSent["THB"], "only confirmed volume counts")
	assert.Equal(t, 121500.0, resp.Summary.TotalReceived["MMK"])
}
