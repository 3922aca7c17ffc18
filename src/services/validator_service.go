package services

import (
	"fmt"
	"math"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/exchange"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
)

// ValidatorService applies the fuzzy matching and amount rules: the accept
// threshold decides matches, the warn band flags borderline names for manual
// review, and the amount tolerance bounds acceptable counter-receipt drift.
type ValidatorService struct {
	acceptThreshold float64
	warnThreshold   float64
	amountTolerance float64
	maxAmount       float64
}

func NewValidatorService(cfg *config.AppConfig) *ValidatorService {
	return &ValidatorService{
		acceptThreshold: cfg.AcceptThreshold,
		warnThreshold:   cfg.WarnThreshold,
		amountTolerance: cfg.AmountTolerance,
		maxAmount:       cfg.MaxAmount,
	}
}

// ValidateAmount rejects non-positive amounts and amounts above the single
// transaction cap.
func (v *ValidatorService) ValidateAmount(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if amount > v.maxAmount {
		return fmt.Errorf("%w: amount exceeds the per-transaction limit of %.0f", ErrValidation, v.maxAmount)
	}
	return nil
}

// MatchAccount finds the configured account the receipt was paid into. Bank
// names must match (when the receipt names a receiver bank); among bank
// matches, the account whose holder name scores highest wins, provided it
// clears the accept threshold.
func (v *ValidatorService) MatchAccount(accounts []models.BankAccount, info *models.ReceiptInfo) (*models.BankAccount, float64, error) {
	receiverName := ""
	if info.ReceiverName != nil {
		receiverName = *info.ReceiverName
	}
	receiverBank := ""
	if info.ReceiverBank != nil {
		receiverBank = *info.ReceiverBank
	}

	var best *models.BankAccount
	bestScore := -1.0
	for i := range accounts {
		acc := &accounts[i]
		if !acc.IsActive {
			continue
		}
		if receiverBank != "" && !exchange.BanksMatch(receiverBank, acc.BankName) {
			continue
		}
		score := exchange.Similarity(receiverName, acc.AccountName)
		if score > bestScore {
			best, bestScore = acc, score
		}
	}

	if best == nil || bestScore < v.acceptThreshold {
		logger.L.Warn("Receipt did not match any configured account",
			"receiverName", receiverName, "receiverBank", receiverBank, "bestScore", bestScore)
		return nil, bestScore, ErrUnmatchedAccount
	}
	return best, bestScore, nil
}

// NameCheck compares the counter receipt's receiver name against the name
// the user registered. The check never blocks a settlement: a score below
// the warning threshold flags the payout for the operator to double-check.
func (v *ValidatorService) NameCheck(expected string, info *models.ReceiptInfo) (similarity float64, warn bool) {
	actual := ""
	if info.ReceiverName != nil {
		actual = *info.ReceiverName
	}
	similarity = exchange.Similarity(expected, actual)
	return similarity, similarity < v.warnThreshold
}

// AmountWithinTolerance reports whether the receipt amount is close enough
// to the expected amount.
func (v *ValidatorService) AmountWithinTolerance(expected, actual float64) bool {
	return math.Abs(expected-actual) <= v.amountTolerance
}
