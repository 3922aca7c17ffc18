package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/zwehtet-dev/exchange-bot/src/config"
	"github.com/zwehtet-dev/exchange-bot/src/database"
	"github.com/zwehtet-dev/exchange-bot/src/handlers"
	"github.com/zwehtet-dev/exchange-bot/src/logger"
	"github.com/zwehtet-dev/exchange-bot/src/security"
	"github.com/zwehtet-dev/exchange-bot/src/services"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	logger.InitLogger(cfg.LogLevel)
	logger.L.Info("Exchange service starting...")

	if err := cfg.CreateDirectories(); err != nil {
		logger.L.Error("Failed to create storage directories", "error", err)
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", cfg.DatabasePath)
	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		logger.L.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := database.NewStore(db)

	ctx := context.Background()
	if err := store.InitRate(ctx, cfg.DefaultExchangeRate); err != nil {
		logger.L.Error("Failed to initialize exchange rate", "error", err)
		os.Exit(1)
	}
	if err := store.InitializeBalances(ctx, cfg.InitialBalances); err != nil {
		logger.L.Error("Failed to seed ledger rows", "error", err)
		os.Exit(1)
	}

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(cfg.JWTSecret, cfg.OperatorUsername, cfg.OperatorPasswordHash, cfg.TokenExpiry)
	ocrService := services.NewOCRService(cfg)
	notifier := services.NewNotifierService(cfg)
	validator := services.NewValidatorService(cfg)
	workflow := services.NewWorkflowService(store, ocrService, notifier, validator, cfg)
	settlement := services.NewSettlementService(store, ocrService, notifier, validator, cfg)

	exchangeHandler := handlers.NewExchangeHandler(workflow, store, cfg)
	adminHandler := handlers.NewAdminHandler(authService, settlement, store, cfg)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	// User flow, called by the messaging transport
	apiRouter.HandleFunc("POST /api/exchange/start", exchangeHandler.HandleStart)
	apiRouter.HandleFunc("POST /api/exchange/receipt", exchangeHandler.HandleReceipt)
	apiRouter.HandleFunc("POST /api/exchange/input", exchangeHandler.HandleInput)
	apiRouter.HandleFunc("POST /api/exchange/cancel", exchangeHandler.HandleCancel)
	apiRouter.HandleFunc("GET /api/exchange/info", exchangeHandler.HandleInfo)

	apiRouter.HandleFunc("POST /api/admin/login", adminHandler.HandleLogin)

	// Operator routes behind the token guard
	adminRouter := http.NewServeMux()
	adminRouter.HandleFunc("GET /api/admin/rate", adminHandler.HandleGetRate)
	adminRouter.HandleFunc("PUT /api/admin/rate", adminHandler.HandleUpdateRate)
	adminRouter.HandleFunc("GET /api/admin/balances", adminHandler.HandleGetBalances)
	adminRouter.HandleFunc("POST /api/admin/balances/adjust", adminHandler.HandleAdjustBalance)
	adminRouter.HandleFunc("POST /api/admin/balances/set", adminHandler.HandleSetBalance)
	adminRouter.HandleFunc("GET /api/admin/banks", adminHandler.HandleListBanks)
	adminRouter.HandleFunc("POST /api/admin/banks", adminHandler.HandleAddBank)
	adminRouter.HandleFunc("DELETE /api/admin/banks/{id}", adminHandler.HandleDeactivateBank)
	adminRouter.HandleFunc("PUT /api/admin/banks/{id}/display-name", adminHandler.HandleUpdateDisplayName)
	adminRouter.HandleFunc("GET /api/admin/transactions", adminHandler.HandleListTransactions)
	adminRouter.HandleFunc("GET /api/admin/transactions/today", adminHandler.HandleTodayTransactions)
	adminRouter.HandleFunc("GET /api/admin/transactions/{id}", adminHandler.HandleGetTransaction)
	adminRouter.HandleFunc("POST /api/admin/transactions/{id}/receipt", adminHandler.HandleCounterReceipt)
	adminRouter.HandleFunc("POST /api/admin/transactions/{id}/settle", adminHandler.HandleSettle)
	adminRouter.HandleFunc("POST /api/admin/transactions/{id}/skip-verification", adminHandler.HandleSkipVerification)
	adminRouter.HandleFunc("POST /api/admin/transactions/{id}/cancel", adminHandler.HandleCancelTransaction)
	adminRouter.HandleFunc("GET /api/admin/settings/{key}", adminHandler.HandleGetSetting)
	adminRouter.HandleFunc("PUT /api/admin/settings/{key}", adminHandler.HandleSetSetting)
	apiRouter.Handle("/api/admin/", adminHandler.AuthMiddleware(adminRouter))

	rootMux.Handle("/api/", apiRouter)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			logger.L.Error("Health check failed", "error", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Exchange service is running"})
		} else if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := rateLimitMiddleware(rootMux)

	serverAddr := ":" + cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
