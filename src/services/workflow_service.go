package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/exchange"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/metrics"
	"github.com/zwehtet-dev/exchange-bot/src/models"
	"github.com/zwehtet-dev/exchange-bot/src/security/validation"
	"github.com/zwehtet-dev/exchange-bot/src/utils"
)

// WorkflowService drives a user's exchange from start to a created pending
// transaction: receipt, amount, receiving bank details. Sessions are
// ephemeral and expire after the configured TTL; all steps for one user are
// serialized by a per-user lock, so a user can never advance two sessions
// at once.
type WorkflowService struct {
	store     *database.Store
	ocr       OCRService
	notifier  NotifierService
	validator *ValidatorService
	cfg       *config.AppConfig
	sessions  *cache.Cache
	userLocks sync.Map
}

func NewWorkflowService(store *database.Store, ocr OCRService, notifier NotifierService, validator *ValidatorService, cfg *config.AppConfig) *WorkflowService {
	return &WorkflowService{
		store:     store,
		ocr:       ocr,
		notifier:  notifier,
		validator: validator,
		cfg:       cfg,
		sessions:  cache.New(cfg.SessionTTL, cfg.SessionTTL/2),
	}
}

func (s *WorkflowService) lockUser(userID int64) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%d", userID)
}

func (s *WorkflowService) getSession(userID int64) (*models.Session, bool) {
	v, ok := s.sessions.Get(sessionKey(userID))
	if !ok {
		return nil, false
	}
	return v.(*models.Session), true
}

func (s *WorkflowService) saveSession(sess *models.Session) {
	s.sessions.Set(sessionKey(sess.UserID), sess, cache.DefaultExpiration)
}

// StartExchange opens a fresh session, replacing any in-progress one.
func (s *WorkflowService) StartExchange(ctx context.Context, userID int64, username string, direction models.Direction) (*models.Session, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrValidation, direction)
	}
	unlock := s.lockUser(userID)
	defer unlock()

	rate, err := s.store.GetCurrentRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading exchange rate: %w", err)
	}

	from, to := direction.Currencies()
	sess := &models.Session{
		UserID:       userID,
		Username:     username,
		Direction:    direction,
		FromCurrency: from,
		ToCurrency:   to,
		Step:         models.StepAwaitingReceipt,
		ExchangeRate: rate,
	}
	s.saveSession(sess)
	logger.L.Info("Exchange session started", "userID", userID, "direction", direction, "rate", rate)
	return sess, nil
}

// SubmitReceipt runs OCR over the transfer receipt, matches the receiving
// account against the configured accounts, and advances the session. When
// the receipt carries a readable amount the amount step is skipped.
func (s *WorkflowService) SubmitReceipt(ctx context.Context, userID int64, image []byte, ref string) (*models.Session, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	sess, ok := s.getSession(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	if sess.Step != models.StepAwaitingReceipt {
		return nil, fmt.Errorf("%w: session is at %s", ErrSessionStep, sess.Step)
	}

	info, err := s.ocr.ExtractReceiptInfo(ctx, image)
	if err != nil {
		metrics.OCRExtractions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}
	metrics.OCRExtractions.WithLabelValues("ok").Inc()
	sanitizeReceiptInfo(info)

	if info.Status != nil && !transferSucceeded(*info.Status) {
		return nil, fmt.Errorf("%w: receipt shows transfer status %q", ErrValidation, *info.Status)
	}

	sess.ReceiptRef = ref
	sess.ReceiptInfo = info

	// The receiver check only has evidence to act on when recognition
	// produced a name; otherwise the receipt's bank field, if any, stands in.
	if info.ReceiverName != nil && *info.ReceiverName != "" {
		accounts, err := s.store.GetBankAccounts(ctx, sess.FromCurrency, true)
		if err != nil {
			return nil, fmt.Errorf("listing receiving accounts: %w", err)
		}
		account, score, err := s.validator.MatchAccount(accounts, info)
		if err != nil {
			return nil, err
		}
		logger.L.Info("Receipt matched receiving account",
			"userID", userID, "bank", account.BankName, "similarity", score)
		sess.AdminReceivingBank = account.BankName
	} else {
		logger.L.Warn("Receipt carried no receiver name, skipping account validation", "userID", userID)
		if info.ReceiverBank != nil {
			sess.AdminReceivingBank = *info.ReceiverBank
		}
	}

	if info.Amount != nil && *info.Amount > 0 {
		if err := s.applyAmount(sess, *info.Amount); err != nil {
			return nil, err
		}
		sess.Step = models.StepAwaitingBankInfo
	} else {
		sess.Step = models.StepAwaitingAmount
	}
	s.saveSession(sess)
	return sess, nil
}

// SubmitAmount sets the sent amount manually when the receipt amount was
// unreadable.
func (s *WorkflowService) SubmitAmount(ctx context.Context, userID int64, amount float64) (*models.Session, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	sess, ok := s.getSession(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	if sess.Step != models.StepAwaitingAmount {
		return nil, fmt.Errorf("%w: session is at %s", ErrSessionStep, sess.Step)
	}
	if err := s.applyAmount(sess, amount); err != nil {
		return nil, err
	}
	sess.Step = models.StepAwaitingBankInfo
	s.saveSession(sess)
	return sess, nil
}

// applyAmount validates and quotes: the sent amount is rounded under its own
// currency's rule, then converted at the session's captured rate.
func (s *WorkflowService) applyAmount(sess *models.Session, amount float64) error {
	if err := s.validator.ValidateAmount(amount); err != nil {
		return err
	}
	sent, received, err := exchange.Convert(amount, sess.ExchangeRate, sess.FromCurrency, sess.ToCurrency)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	sess.SentAmount = sent
	sess.ReceivedAmount = received
	return nil
}

// SubmitBankInfo records where the user wants to receive funds, creates the
// pending transaction and credits the receiving bank's ledger row with the
// incoming amount. The operator is notified; the session ends here.
func (s *WorkflowService) SubmitBankInfo(ctx context.Context, userID int64, bankName, accountNumber, accountName string) (*models.Transaction, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	sess, ok := s.getSession(userID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	if sess.Step != models.StepAwaitingBankInfo {
		return nil, fmt.Errorf("%w: session is at %s", ErrSessionStep, sess.Step)
	}

	bankName = validation.StripUnprintable(bankName)
	accountName = validation.StripUnprintable(accountName)
	accountNumber = validation.SanitizeAccountNumber(accountNumber)
	if len(bankName) < 2 || len(accountNumber) < 5 || len(accountName) < 2 {
		return nil, fmt.Errorf("%w: bank name and account name need at least 2 characters, account number at least 5 digits", ErrValidation)
	}
	if !s.bankAllowed(sess.ToCurrency, bankName) {
		return nil, fmt.Errorf("%w: %q is not a supported %s bank", ErrValidation, bankName, sess.ToCurrency)
	}

	// The quote follows the live rate up to the moment the request is
	// recorded, not the rate shown when the session opened.
	rate, err := s.store.GetCurrentRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading exchange rate: %w", err)
	}
	if rate != sess.ExchangeRate {
		sent, received, err := exchange.Convert(sess.SentAmount, rate, sess.FromCurrency, sess.ToCurrency)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		sess.ExchangeRate, sess.SentAmount, sess.ReceivedAmount = rate, sent, received
	}

	t := &models.Transaction{
		UserID:             sess.UserID,
		Username:           sess.Username,
		Direction:          sess.Direction,
		FromCurrency:       sess.FromCurrency,
		ToCurrency:         sess.ToCurrency,
		SentAmount:         sess.SentAmount,
		ReceivedAmount:     sess.ReceivedAmount,
		ExchangeRate:       sess.ExchangeRate,
		UserBankName:       bankName,
		UserAccountNumber:  accountNumber,
		UserAccountName:    accountName,
		FromBank:           senderBank(sess.ReceiptInfo),
		AdminReceivingBank: sess.AdminReceivingBank,
		ReceiptRef:         sess.ReceiptRef,
		Status:             models.StatusPending,
	}
	id, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return nil, err
	}
	t.ID = id

	// The incoming funds land on the receiving account as soon as the
	// request is recorded; settlement later debits the outgoing side.
	if err := s.store.UpdateBalance(ctx, sess.FromCurrency, sess.AdminReceivingBank, sess.SentAmount); err != nil {
		logger.L.Error("Failed to credit receiving bank", "transaction", id,
			"bank", sess.AdminReceivingBank, "error", err)
	}

	metrics.TransactionsCreated.WithLabelValues(string(sess.Direction)).Inc()
	s.notifier.NotifyNewTransaction(t)
	s.sessions.Delete(sessionKey(userID))
	logger.L.Info("Exchange request created", "id", id, "userID", userID,
		"sent", utils.FormatAmount(t.SentAmount, t.FromCurrency),
		"toReceive", utils.FormatAmount(t.ReceivedAmount, t.ToCurrency))
	return t, nil
}

// Cancel abandons the in-progress session. It does not touch transactions
// already created from earlier sessions.
func (s *WorkflowService) Cancel(ctx context.Context, userID int64) error {
	unlock := s.lockUser(userID)
	defer unlock()

	if _, ok := s.getSession(userID); !ok {
		return ErrNoActiveSession
	}
	s.sessions.Delete(sessionKey(userID))
	logger.L.Info("Exchange session cancelled", "userID", userID)
	return nil
}

// Session returns the user's current session, if any.
func (s *WorkflowService) Session(userID int64) (*models.Session, bool) {
	return s.getSession(userID)
}

func (s *WorkflowService) bankAllowed(currency models.Currency, bankName string) bool {
	for _, b := range s.cfg.AllowedBanks(currency) {
		if exchange.BanksMatch(b, bankName) {
			return true
		}
	}
	return false
}

// transferSucceeded accepts only statuses that say so: a receipt naming any
// other outcome, known or not, gets re-prompted.
func transferSucceeded(status string) bool {
	return strings.Contains(strings.ToLower(status), "success")
}

func senderBank(info *models.ReceiptInfo) string {
	if info == nil || info.SenderBank == nil {
		return ""
	}
	return *info.SenderBank
}

func sanitizeReceiptInfo(info *models.ReceiptInfo) {
	clean := func(p *string) {
		if p != nil {
			*p = validation.StripUnprintable(*p)
		}
	}
	clean(info.SenderBank)
	clean(info.ReceiverBank)
	clean(info.SenderName)
	clean(info.ReceiverName)
	clean(info.Status)
	clean(info.Reference)
}
