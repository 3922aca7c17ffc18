package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_transactions_created_total",
		Help: "Exchange transactions created, by direction.",
	}, []string{"direction"})

	TransactionsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_transactions_confirmed_total",
		Help: "Exchange transactions confirmed and settled.",
	})

	TransactionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_transactions_cancelled_total",
		Help: "Exchange transactions cancelled by the operator.",
	})

	InsufficientFundsAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exchange_insufficient_funds_alerts_total",
		Help: "Settlement attempts blocked by insufficient funds.",
	})

	OCRExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_ocr_extractions_total",
		Help: "Receipt OCR extraction attempts, by outcome.",
	}, []string{"outcome"})
)
