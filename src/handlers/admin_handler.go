package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
	"github.com/zwehtet-dev/exchange-bot/src/security"
	"github.com/zwehtet-dev/exchange-bot/src/services"
)

// AdminHandler is the operator surface: rate and balance management,
// account administration and transaction settlement.
type AdminHandler struct {
	auth       *security.AuthService
	settlement *services.SettlementService
	store      *database.Store
	cfg        *config.AppConfig
}

func NewAdminHandler(auth *security.AuthService, settlement *services.SettlementService, store *database.Store, cfg *config.AppConfig) *AdminHandler {
	return &AdminHandler{
		auth:       auth,
		settlement: settlement,
		store:      store,
		cfg:        cfg,
	}
}

func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		logger.L.Warn("Operator login failed", "username", req.Username)
		sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	logger.L.Info("Operator logged in", "username", req.Username)
	sendJSON(w, map[string]string{"token": token}, http.StatusOK)
}

// --- rate ---

func (h *AdminHandler) HandleGetRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.store.GetCurrentRate(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, map[string]float64{"rate": rate}, http.StatusOK)
}

func (h *AdminHandler) HandleUpdateRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Rate <= 0 {
		sendJSONError(w, "rate must be positive", http.StatusBadRequest)
		return
	}
	if err := h.store.UpdateRate(r.Context(), req.Rate); err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, map[string]float64{"rate": req.Rate}, http.StatusOK)
}

// --- balances ---

func (h *AdminHandler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.store.GetBalances(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, balances, http.StatusOK)
}

// HandleAdjustBalance applies a signed correction to one ledger row.
func (h *AdminHandler) HandleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency models.Currency `json:"currency"`
		BankName string          `json:"bank_name"`
		Delta    float64         `json:"delta"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.UpdateBalance(r.Context(), req.Currency, req.BankName, req.Delta); err != nil {
		sendServiceError(w, err)
		return
	}
	balance, err := h.store.GetBalance(r.Context(), req.Currency, req.BankName)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	operator, _ := OperatorFromContext(r.Context())
	logger.L.Info("Balance adjusted", "operator", operator,
		"currency", req.Currency, "bank", req.BankName, "delta", req.Delta, "balance", balance)
	sendJSON(w, map[string]float64{"balance": balance}, http.StatusOK)
}

// HandleSetBalance overwrites one ledger row, creating it when missing.
func (h *AdminHandler) HandleSetBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency models.Currency `json:"currency"`
		BankName string          `json:"bank_name"`
		Balance  float64         `json:"balance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.SetBalance(r.Context(), req.Currency, req.BankName, req.Balance); err != nil {
		sendServiceError(w, err)
		return
	}
	operator, _ := OperatorFromContext(r.Context())
	logger.L.Info("Balance set", "operator", operator,
		"currency", req.Currency, "bank", req.BankName, "balance", req.Balance)
	sendJSON(w, map[string]float64{"balance": req.Balance}, http.StatusOK)
}

// --- bank accounts ---

func (h *AdminHandler) HandleListBanks(w http.ResponseWriter, r *http.Request) {
	currency := models.Currency(r.URL.Query().Get("currency"))
	accounts, err := h.store.GetBankAccounts(r.Context(), currency, r.URL.Query().Get("all") != "true")
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, accounts, http.StatusOK)
}

func (h *AdminHandler) HandleAddBank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Currency       models.Currency `json:"currency"`
		BankName       string          `json:"bank_name"`
		AccountNumber  string          `json:"account_number"`
		AccountName    string          `json:"account_name"`
		DisplayName    string          `json:"display_name"`
		InitialBalance float64         `json:"initial_balance"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.BankName == "" || req.AccountNumber == "" || req.AccountName == "" {
		sendJSONError(w, "bank_name, account_number and account_name are required", http.StatusBadRequest)
		return
	}
	if req.Currency != models.THB && req.Currency != models.MMK {
		sendJSONError(w, "currency must be THB or MMK", http.StatusBadRequest)
		return
	}

	id, err := h.store.AddBankAccount(r.Context(), req.Currency, req.BankName,
		req.AccountNumber, req.AccountName, req.DisplayName, req.InitialBalance)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, map[string]int64{"id": id}, http.StatusCreated)
}

func (h *AdminHandler) HandleDeactivateBank(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeactivateBankAccount(r.Context(), id); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) HandleUpdateDisplayName(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.UpdateDisplayName(r.Context(), id, req.DisplayName); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- transactions ---

func (h *AdminHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			sendJSONError(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}
	transactions, err := h.store.GetRecentTransactions(r.Context(), limit)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, transactions, http.StatusOK)
}

// HandleTodayTransactions lists everything created since local midnight with
// per-status counts and the confirmed volume per currency.
func (h *AdminHandler) HandleTodayTransactions(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	transactions, err := h.store.GetTransactionsSince(r.Context(), midnight.UTC())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	summary := struct {
		Confirmed     int                         `json:"confirmed"`
		Pending       int                         `json:"pending"`
		Cancelled     int                         `json:"cancelled"`
		TotalSent     map[models.Currency]float64 `json:"total_sent"`
		TotalReceived map[models.Currency]float64 `json:"total_received"`
	}{
		TotalSent:     map[models.Currency]float64{},
		TotalReceived: map[models.Currency]float64{},
	}
	for _, t := range transactions {
		switch t.Status {
		case models.StatusConfirmed:
			summary.Confirmed++
			summary.TotalSent[t.FromCurrency] += t.SentAmount
			summary.TotalReceived[t.ToCurrency] += t.ReceivedAmount
		case models.StatusPending:
			summary.Pending++
		case models.StatusCancelled:
			summary.Cancelled++
		}
	}
	sendJSON(w, map[string]any{
		"transactions": transactions,
		"summary":      summary,
	}, http.StatusOK)
}

func (h *AdminHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.store.GetTransaction(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, tx, http.StatusOK)
}

// HandleCounterReceipt verifies the operator's payout receipt against the
// transaction.
func (h *AdminHandler) HandleCounterReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		sendJSONError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("receipt")
	if err != nil {
		sendJSONError(w, "receipt file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxReceiptBytes))
	if err != nil {
		sendJSONError(w, "Failed to read receipt", http.StatusBadRequest)
		return
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".jpg"
	}
	ref := filepath.Join(h.cfg.CounterReceiptsDir, fmt.Sprintf("%d_%d%s", id, time.Now().UnixNano(), ext))
	if err := os.WriteFile(ref, image, 0o644); err != nil {
		logger.L.Error("Failed to store counter receipt", "transaction", id, "error", err)
		sendJSONError(w, "Failed to store receipt", http.StatusInternalServerError)
		return
	}

	res, err := h.settlement.ConfirmCounterReceipt(r.Context(), id, image, ref)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, res, http.StatusOK)
}

func (h *AdminHandler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		BankName string `json:"bank_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	tx, err := h.settlement.Settle(r.Context(), id, req.BankName)
	if errors.Is(err, database.ErrInsufficientFunds) {
		sendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, tx, http.StatusOK)
}

func (h *AdminHandler) HandleSkipVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.settlement.SkipVerification(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	operator, _ := OperatorFromContext(r.Context())
	logger.L.Warn("Verification skipped", "operator", operator, "transaction", id)
	sendJSON(w, tx, http.StatusOK)
}

func (h *AdminHandler) HandleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.settlement.Cancel(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, tx, http.StatusOK)
}

// --- settings ---

func (h *AdminHandler) HandleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	value, err := h.store.GetSetting(r.Context(), key)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, map[string]string{"key": key, "value": value}, http.StatusOK)
}

func (h *AdminHandler) HandleSetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req struct {
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.store.SetSetting(r.Context(), key, req.Value); err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, map[string]string{"key": key, "value": req.Value}, http.StatusOK)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		sendJSONError(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
