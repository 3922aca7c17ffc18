package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/models"
	"github.com/zwehtet-dev/exchange-bot/src/utils"
)

// NewNotifierService builds the configured alert channel.
func NewNotifierService(cfg *config.AppConfig) NotifierService {
	provider := strings.ToLower(cfg.NotifierProvider)
	logger.L.Info("Initializing notifier service", "provider", provider)

	switch provider {
	case "mailgun":
		if cfg.MailgunDomain == "" || cfg.MailgunPrivateAPIKey == "" || cfg.SenderEmail == "" || cfg.OperatorEmail == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, SenderEmail or OperatorEmail missing). Falling back to LogNotifierService.")
			return &LogNotifierService{}
		}
		mg := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", cfg.MailgunDomain)
		return &MailgunNotifierService{
			mg:            mg,
			senderEmail:   cfg.SenderEmail,
			senderName:    cfg.SenderName,
			operatorEmail: cfg.OperatorEmail,
		}
	default:
		return &LogNotifierService{}
	}
}

// MailgunNotifierService emails operator alerts; user-facing notices are
// logged for the transport layer to pick up.
type MailgunNotifierService struct {
	mg            mailgun.Mailgun
	senderEmail   string
	senderName    string
	operatorEmail string
}

func (s *MailgunNotifierService) send(subject, body string) {
	from := fmt.Sprintf("%s <%s>", s.senderName, s.senderEmail)
	message := s.mg.NewMessage(from, subject, body, s.operatorEmail)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	resp, id, err := s.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send operator alert via Mailgun", "error", err, "subject", subject, "mailgunResp", resp, "mailgunId", id)
		return
	}
	logger.L.Info("Operator alert sent via Mailgun", "subject", subject, "id", id)
}

func (s *MailgunNotifierService) NotifyNewTransaction(t *models.Transaction) {
	body := fmt.Sprintf(`New exchange request #%d

User: %s (%d)
Direction: %s
Sent: %s
To receive: %s
Rate: %g
User account: %s %s (%s)`,
		t.ID, t.Username, t.UserID, t.Direction,
		utils.FormatAmount(t.SentAmount, t.FromCurrency),
		utils.FormatAmount(t.ReceivedAmount, t.ToCurrency),
		t.ExchangeRate, t.UserBankName, t.UserAccountNumber, t.UserAccountName)
	s.send(fmt.Sprintf("New exchange request #%d", t.ID), body)
}

func (s *MailgunNotifierService) AlertInsufficientFunds(t *models.Transaction, bank string, balance, required float64) {
	body := fmt.Sprintf(`Settlement of transaction #%d is blocked.

Bank: %s
Available: %s
Required: %s

The transaction remains pending. Top up the account or settle from another bank.`,
		t.ID, bank,
		utils.FormatAmount(balance, t.ToCurrency),
		utils.FormatAmount(required, t.ToCurrency))
	s.send(fmt.Sprintf("Insufficient funds for transaction #%d", t.ID), body)
}

func (s *MailgunNotifierService) WarnNameMismatch(t *models.Transaction, similarity float64) {
	body := fmt.Sprintf(`Counter receipt for transaction #%d has a borderline receiver name match (similarity %.2f).

Expected: %s
Please verify the receipt manually before settling.`, t.ID, similarity, t.UserAccountName)
	s.send(fmt.Sprintf("Name mismatch warning for transaction #%d", t.ID), body)
}

func (s *MailgunNotifierService) ReportBalanceChange(bank string, currency models.Currency, before, after float64) {
	body := fmt.Sprintf("Balance of %s changed: %s -> %s",
		bank, utils.FormatAmount(before, currency), utils.FormatAmount(after, currency))
	s.send(fmt.Sprintf("Balance change on %s", bank), body)
}

func (s *MailgunNotifierService) NotifyUserSettled(t *models.Transaction) {
	logger.L.Info("User notice: transaction settled", "id", t.ID, "userID", t.UserID,
		"amount", utils.FormatAmount(t.ReceivedAmount, t.ToCurrency))
}

func (s *MailgunNotifierService) NotifyUserCancelled(t *models.Transaction) {
	logger.L.Info("User notice: transaction cancelled", "id", t.ID, "userID", t.UserID)
}

// LogNotifierService writes every notification to the structured log.
type LogNotifierService struct{}

func (s *LogNotifierService) NotifyNewTransaction(t *models.Transaction) {
	logger.L.Info("Operator alert: new exchange request", "id", t.ID, "userID", t.UserID,
		"direction", t.Direction,
		"sent", utils.FormatAmount(t.SentAmount, t.FromCurrency),
		"toReceive", utils.FormatAmount(t.ReceivedAmount, t.ToCurrency))
}

func (s *LogNotifierService) AlertInsufficientFunds(t *models.Transaction, bank string, balance, required float64) {
	logger.L.Warn("Operator alert: insufficient funds for settlement", "id", t.ID, "bank", bank,
		"available", utils.FormatAmount(balance, t.ToCurrency),
		"required", utils.FormatAmount(required, t.ToCurrency))
}

func (s *LogNotifierService) WarnNameMismatch(t *models.Transaction, similarity float64) {
	logger.L.Warn("Operator alert: borderline receiver name match", "id", t.ID, "similarity", similarity)
}

func (s *LogNotifierService) ReportBalanceChange(bank string, currency models.Currency, before, after float64) {
	logger.L.Info("Operator alert: balance change", "bank", bank, "currency", currency,
		"before", before, "after", after)
}

func (s *LogNotifierService) NotifyUserSettled(t *models.Transaction) {
	logger.L.Info("User notice: transaction settled", "id", t.ID, "userID", t.UserID)
}

func (s *LogNotifierService) NotifyUserCancelled(t *models.Transaction) {
	logger.L.Info("User notice: transaction cancelled", "id", t.ID, "userID", t.UserID)
}
