package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
	"github.com/zwehtet-dev/exchange-bot/src/services"
	"github.com/zwehtet-dev/exchange-bot/src/utils"
)

const maxReceiptBytes = 10 << 20

// ExchangeHandler is the user-facing surface: the messaging transport calls
// these endpoints on behalf of its users.
type ExchangeHandler struct {
	workflow *services.WorkflowService
	store    *database.Store
	cfg      *config.AppConfig
}

func NewExchangeHandler(workflow *services.WorkflowService, store *database.Store, cfg *config.AppConfig) *ExchangeHandler {
	return &ExchangeHandler{
		workflow: workflow,
		store:    store,
		cfg:      cfg,
	}
}

// HandleStart opens an exchange session.
func (h *ExchangeHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    int64  `json:"user_id"`
		Username  string `json:"username"`
		Direction string `json:"direction"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		sendJSONError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.workflow.StartExchange(r.Context(), req.UserID, req.Username, models.Direction(req.Direction))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, sess, http.StatusCreated)
}

// HandleReceipt accepts the transfer receipt either as multipart form data
// or, for transports that only hand out a download link, as a JSON body
// naming a receipt URL.
func (h *ExchangeHandler) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.handleReceiptURL(w, r)
		return
	}
	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		sendJSONError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		sendJSONError(w, "user_id is required", http.StatusBadRequest)
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

	ref, err := h.saveReceipt(h.cfg.ReceiptsDir, userID, header.Filename, image)
	if err != nil {
		logger.L.Error("Failed to store receipt", "userID", userID, "error", err)
		sendJSONError(w, "Failed to store receipt", http.StatusInternalServerError)
		return
	}

	sess, err := h.workflow.SubmitReceipt(r.Context(), userID, image, ref)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, sess, http.StatusOK)
}

// handleReceiptURL downloads the receipt from the transport's file URL. The
// download is retried with backoff; exhaustion leaves the session untouched
// so the user can resend.
func (h *ExchangeHandler) handleReceiptURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     int64  `json:"user_id"`
		ReceiptURL string `json:"receipt_url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		sendJSONError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.ReceiptURL == "" {
		sendJSONError(w, "receipt_url is required", http.StatusBadRequest)
		return
	}

	image, err := h.fetchReceipt(r.Context(), req.ReceiptURL)
	if err != nil {
		logger.L.Error("Failed to download receipt", "userID", req.UserID, "error", err)
		sendServiceError(w, err)
		return
	}

	name := strings.SplitN(req.ReceiptURL, "?", 2)[0]
	ref, err := h.saveReceipt(h.cfg.ReceiptsDir, req.UserID, name, image)
	if err != nil {
		logger.L.Error("Failed to store receipt", "userID", req.UserID, "error", err)
		sendJSONError(w, "Failed to store receipt", http.StatusInternalServerError)
		return
	}

	sess, err := h.workflow.SubmitReceipt(r.Context(), req.UserID, image, ref)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	sendJSON(w, sess, http.StatusOK)
}

func (h *ExchangeHandler) fetchReceipt(ctx context.Context, url string) ([]byte, error) {
	policy := utils.RetryPolicy{
		MaxAttempts: h.cfg.MaxRetries,
		BaseDelay:   h.cfg.RetryBaseDelay,
		Multiplier:  2,
	}
	client := &http.Client{Timeout: 30 * time.Second}
	var image []byte
	err := policy.Do(ctx, "download receipt", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("receipt download returned %s", resp.Status)
		}
		image, err = io.ReadAll(io.LimitReader(resp.Body, maxReceiptBytes))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: downloading receipt: %v", services.ErrRetryExhausted, err)
	}
	return image, nil
}

// HandleInput accepts the user's free-form text and dispatches on the
// session step: an amount while AwaitingAmount, a pipe-delimited
// "bank|account_number|account_name" triple while AwaitingBankInfo.
func (h *ExchangeHandler) HandleInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Text   string `json:"text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, ok := h.workflow.Session(req.UserID)
	if !ok {
		sendServiceError(w, services.ErrNoActiveSession)
		return
	}

	switch sess.Step {
	case models.StepAwaitingAmount:
		amount, err := parseAmount(req.Text)
		if err != nil {
			sendJSONError(w, "amount must be a positive number", http.StatusBadRequest)
			return
		}
		sess, err := h.workflow.SubmitAmount(r.Context(), req.UserID, amount)
		if err != nil {
			sendServiceError(w, err)
			return
		}
		sendJSON(w, sess, http.StatusOK)
	case models.StepAwaitingBankInfo:
		parts := strings.Split(req.Text, "|")
		if len(parts) != 3 {
			sendJSONError(w, "expected bank|account_number|account_name", http.StatusBadRequest)
			return
		}
		tx, err := h.workflow.SubmitBankInfo(r.Context(), req.UserID,
			strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]))
		if err != nil {
			sendServiceError(w, err)
			return
		}
		sendJSON(w, tx, http.StatusCreated)
	default:
		sendJSONError(w, fmt.Sprintf("session is at %s, send a receipt image first", sess.Step), http.StatusConflict)
	}
}

func parseAmount(text string) (float64, error) {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(text))
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// HandleCancel abandons the in-progress session.
func (h *ExchangeHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.workflow.Cancel(r.Context(), req.UserID); err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleInfo reports the current rate, the supported banks and the user's
// session or latest pending transaction, when a user_id is given.
func (h *ExchangeHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	rate, err := h.store.GetCurrentRate(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	resp := map[string]any{
		"rate":      rate,
		"thb_banks": h.cfg.THBBanks,
		"mmk_banks": h.cfg.MMKBanks,
	}
	if idStr := r.URL.Query().Get("user_id"); idStr != "" {
		userID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			sendJSONError(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		if sess, ok := h.workflow.Session(userID); ok {
			resp["session"] = sess
		}
		if tx, err := h.store.GetPendingTransactionByUser(r.Context(), userID); err == nil {
			resp["pending_transaction"] = tx
		}
	}
	sendJSON(w, resp, http.StatusOK)
}

func (h *ExchangeHandler) saveReceipt(dir string, userID int64, original string, image []byte) (string, error) {
	ext := filepath.Ext(original)
	if ext == "" {
		ext = ".jpg"
	}
	name := fmt.Sprintf("%d_%d%s", userID, time.Now().UnixNano(), ext)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
