package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/exchange"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/metrics"
	"github.com/zwehtet-dev/exchange-bot/src/models"
	"github.com/zwehtet-dev/exchange-bot/src/utils"
)

// SettlementService is the operator side of a transaction: verifying the
// counter receipt, paying the user out of a chosen bank, or cancelling.
// Every path fails closed: when verification or the debit cannot complete,
// the transaction stays pending and no balance moves.
type SettlementService struct {
	store     *database.Store
	ocr       OCRService
	notifier  NotifierService
	validator *ValidatorService
	cfg       *config.AppConfig
}

func NewSettlementService(store *database.Store, ocr OCRService, notifier NotifierService, validator *ValidatorService, cfg *config.AppConfig) *SettlementService {
	return &SettlementService{
		store:     store,
		ocr:       ocr,
		notifier:  notifier,
		validator: validator,
		cfg:       cfg,
	}
}

// VerificationResult reports how the counter receipt compared to the
// transaction.
type VerificationResult struct {
	Transaction    *models.Transaction `json:"transaction"`
	NameSimilarity float64             `json:"name_similarity"`
	NameWarning    bool                `json:"name_warning"`
	AmountRevised  bool                `json:"amount_revised"`
}

// ConfirmCounterReceipt checks the operator's payout receipt against the
// pending transaction. Recognition runs only for the verify-enabled currency;
// an unreadable receipt or a missing amount is logged and settlement proceeds
// unverified. A detected amount outside tolerance blocks (the override is
// SkipVerification); within tolerance and different it revises the recorded
// amount once. A low receiver-name score warns the operator but never blocks.
func (s *SettlementService) ConfirmCounterReceipt(ctx context.Context, txID int64, image []byte, ref string) (*VerificationResult, error) {
	t, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: transaction %d is %s", database.ErrTerminalStatus, txID, t.Status)
	}

	res := &VerificationResult{Transaction: t}
	if t.ToCurrency == s.cfg.VerifyCurrency {
		if err := s.verifyCounterReceipt(ctx, t, image, res); err != nil {
			return nil, err
		}
	} else {
		logger.L.Info("Counter receipt verification skipped", "transaction", txID,
			"currency", t.ToCurrency, "verifyCurrency", s.cfg.VerifyCurrency)
	}

	if err := s.store.SetCounterReceipt(ctx, txID, ref); err != nil {
		return nil, err
	}
	t.CounterReceiptRef = ref

	logger.L.Info("Counter receipt recorded", "transaction", txID,
		"similarity", res.NameSimilarity, "warning", res.NameWarning, "amountRevised", res.AmountRevised)
	return res, nil
}

func (s *SettlementService) verifyCounterReceipt(ctx context.Context, t *models.Transaction, image []byte, res *VerificationResult) error {
	info, err := s.ocr.ExtractReceiptInfo(ctx, image)
	if err != nil {
		metrics.OCRExtractions.WithLabelValues("error").Inc()
		logger.L.Warn("Counter receipt recognition failed, proceeding unverified",
			"transaction", t.ID, "error", err)
		return nil
	}
	metrics.OCRExtractions.WithLabelValues("ok").Inc()

	if info.Amount == nil {
		logger.L.Warn("Counter receipt has no readable amount, proceeding unverified",
			"transaction", t.ID)
	} else {
		receiptAmount := exchange.Round(*info.Amount, t.ToCurrency)
		if !s.validator.AmountWithinTolerance(t.ReceivedAmount, receiptAmount) {
			logger.L.Warn("Counter receipt amount outside tolerance", "transaction", t.ID,
				"expected", t.ReceivedAmount, "actual", receiptAmount)
			return fmt.Errorf("%w: expected %s, receipt shows %s", ErrAmountMismatch,
				utils.FormatAmount(t.ReceivedAmount, t.ToCurrency),
				utils.FormatAmount(receiptAmount, t.ToCurrency))
		}
		if receiptAmount != t.ReceivedAmount {
			if err := s.store.UpdateReceivedAmount(ctx, t.ID, receiptAmount); err != nil {
				return err
			}
			t.ReceivedAmount = receiptAmount
			res.AmountRevised = true
		}
	}

	if info.ReceiverName != nil && *info.ReceiverName != "" {
		similarity, warn := s.validator.NameCheck(t.UserAccountName, info)
		res.NameSimilarity = similarity
		if warn {
			res.NameWarning = true
			logger.L.Warn("Counter receipt receiver name mismatch", "transaction", t.ID,
				"similarity", similarity)
			s.notifier.WarnNameMismatch(t, similarity)
		}
	}
	return nil
}

// SkipVerification lets the operator bypass the counter receipt check. The
// transaction must still be pending; the override is logged for audit.
func (s *SettlementService) SkipVerification(ctx context.Context, txID int64) (*models.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: transaction %d is %s", database.ErrTerminalStatus, txID, t.Status)
	}
	logger.L.Warn("Counter receipt verification skipped by operator", "transaction", txID)
	return t, nil
}

// Settle pays the user out of the chosen bank and confirms the transaction.
// The insufficiency check and the debit are one atomic unit inside the
// store; on insufficient funds exactly one alert is raised, the balance is
// untouched and the transaction stays pending.
func (s *SettlementService) Settle(ctx context.Context, txID int64, bankName string) (*models.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: transaction %d is %s", database.ErrTerminalStatus, txID, t.Status)
	}
	if !s.bankAllowed(t.ToCurrency, bankName) {
		return nil, fmt.Errorf("%w: %q is not a supported %s bank", ErrValidation, bankName, t.ToCurrency)
	}

	before, after, err := s.store.DebitForSettlement(ctx, t.ToCurrency, bankName, t.ReceivedAmount)
	if errors.Is(err, database.ErrInsufficientFunds) {
		metrics.InsufficientFundsAlerts.Inc()
		s.notifier.AlertInsufficientFunds(t, bankName, before, t.ReceivedAmount)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.ConfirmTransaction(ctx, txID); err != nil {
		// The debit went through but the status flip did not; put the
		// money back so the ledger stays consistent with the pending state.
		if rbErr := s.store.UpdateBalance(ctx, t.ToCurrency, bankName, t.ReceivedAmount); rbErr != nil {
			logger.L.Error("Failed to restore balance after confirm failure",
				"transaction", txID, "bank", bankName, "error", rbErr)
		}
		return nil, err
	}

	metrics.TransactionsConfirmed.Inc()
	s.notifier.ReportBalanceChange(bankName, t.ToCurrency, before, after)
	if t.AdminReceivingBank != "" {
		if held, err := s.store.GetBalance(ctx, t.FromCurrency, t.AdminReceivingBank); err == nil {
			s.notifier.ReportBalanceChange(t.AdminReceivingBank, t.FromCurrency, held, held)
		}
	}
	t.Status = models.StatusConfirmed
	s.notifier.NotifyUserSettled(t)
	logger.L.Info("Transaction settled", "id", txID, "bank", bankName,
		"paid", utils.FormatAmount(t.ReceivedAmount, t.ToCurrency),
		"balanceAfter", after)
	return t, nil
}

// Cancel marks a pending transaction cancelled. The credit applied to the
// receiving bank at creation time is left in place; the operator reconciles
// any refund out of band.
func (s *SettlementService) Cancel(ctx context.Context, txID int64) (*models.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CancelTransaction(ctx, txID); err != nil {
		return nil, err
	}
	metrics.TransactionsCancelled.Inc()
	t.Status = models.StatusCancelled
	s.notifier.NotifyUserCancelled(t)
	return t, nil
}

func (s *SettlementService) bankAllowed(currency models.Currency, bankName string) bool {
	for _, b := range s.cfg.AllowedBanks(currency) {
		if exchange.BanksMatch(b, bankName) {
			return true
		}
	}
	return false
}
