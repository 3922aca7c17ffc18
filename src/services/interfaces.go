package services

import (
	"context"

	"github.com/zwehtet-dev/exchange-bot/src/models"
)

// OCRService extracts structured transfer details from a receipt image.
type OCRService interface {
	ExtractReceiptInfo(ctx context.Context, image []byte) (*models.ReceiptInfo, error)
}

// NotifierService delivers operator alerts and user-facing notices. Delivery
// failures are logged but never fail the business operation that triggered
// the notification.
type NotifierService interface {
	NotifyNewTransaction(t *models.Transaction)
	AlertInsufficientFunds(t *models.Transaction, bank string, balance, required float64)
	WarnNameMismatch(t *models.Transaction, similarity float64)
	ReportBalanceChange(bank string, currency models.Currency, before, after float64)
	NotifyUserSettled(t *models.Transaction)
	NotifyUserCancelled(t *models.Transaction)
}
