package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodeedhub/backend/internal/cache"
	"github.com/goodeedhub/backend/internal/config"
	"github.com/goodeedhub/backend/internal/handler"
	"github.com/goodeedhub/backend/internal/logging"
	"github.com/goodeedhub/backend/internal/repository"
	"github.com/goodeedhub/backend/internal/scheduler"
	"github.com/goodeedhub/backend/internal/service"
	"github.com/goodeedhub/backend/pkg/auth"
	pkgstripe "github.com/goodeedhub/backend/pkg/stripe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("invalid configuration", "error", err)
	}
	logger := logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("failed to connect to database", "error", err)
	}
	defer pool.Close()

	ledgerRepo := repository.NewPgLedgerRepository(pool)
	causeRepo := repository.NewPgCauseRepository(pool)
	donorRepo := repository.NewPgDonorRepository(pool)

	// 決済ゲートウェイ（未設定の場合は決済 API がエラーを返す）
	gateway := pkgstripe.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	if !cfg.StripeEnabled() {
		logger.Warn("stripe is not configured; payment endpoints will fail")
	}

	// Webhook 重複配信の高速判定（REDIS_URL 未設定なら DB の冪等性のみ）
	var events service.EventLog
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logging.Fatal("failed to connect to redis", "error", err)
		}
		defer rdb.Close()
		events = cache.NewRedisEventLog(rdb, cache.DefaultEventTTL)
	}

	paymentService := service.NewPaymentService(gateway, causeRepo, cfg.Currency, cfg.FrontendURL, logger)
	reconciler := service.NewReconciler(ledgerRepo, gateway, events, logger)
	donationService := service.NewDonationService(ledgerRepo, causeRepo, donorRepo)

	sched, err := scheduler.New(logger)
	if err != nil {
		logging.Fatal("failed to create scheduler", "error", err)
	}
	if cfg.StripeEnabled() {
		err := sched.Every("sweep-pending-donations", cfg.PendingSweepInterval,
			reconciler.SweepJob(cfg.PendingSweepAge, service.DefaultSweepBatch))
		if err != nil {
			logging.Fatal("failed to schedule pending sweep", "error", err)
		}
	}
	sched.Start()

	h := handler.New(pool, cfg.FrontendURL)
	paymentHandler := handler.NewPaymentHandler(paymentService, reconciler, logger)
	donationHandler := handler.NewDonationHandler(donationService, logger)
	limiter := handler.NewRateLimiter(cfg.RateLimitPerMinute, logger)

	// 認証必要エンドポイント
	wrapAuth := func(next http.Handler) http.Handler {
		if cfg.AuthRequired {
			return auth.RequireAuth([]byte(cfg.JWTSecret))(next)
		}
		return auth.DevAuth(next)
	}
	donorOnly := func(next http.HandlerFunc) http.Handler {
		return wrapAuth(limiter.Middleware(auth.RequireRole(auth.RoleDonor)(next)))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health)

	// 決済 API
	mux.Handle("POST /api/payments/intent", donorOnly(paymentHandler.CreateIntent))
	mux.Handle("POST /api/payments/checkout-session", donorOnly(paymentHandler.CreateCheckoutSession))
	mux.Handle("POST /api/payments/confirm", wrapAuth(http.HandlerFunc(paymentHandler.Confirm)))
	mux.Handle("GET /api/payments/verify/{transactionId}", wrapAuth(http.HandlerFunc(paymentHandler.Verify)))
	mux.Handle("GET /api/payments/webhook-status/{transactionId}", wrapAuth(http.HandlerFunc(paymentHandler.WebhookStatus)))
	// 認証不要（セッション確認は結果ページから、Webhook は署名で検証）
	mux.HandleFunc("GET /api/payments/verify-session/{sessionId}", paymentHandler.VerifySession)
	mux.HandleFunc("POST /api/payments/webhook", paymentHandler.Webhook)

	// 寄付一覧
	mux.Handle("GET /api/donations/me", wrapAuth(http.HandlerFunc(donationHandler.ListMine)))
	mux.HandleFunc("GET /api/causes/{id}/donations", donationHandler.ListForCause)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler.RequestLogger(logger)(handler.SecurityHeaders(h.CORS(mux))),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if err := sched.Shutdown(); err != nil {
		logger.Error("scheduler shutdown error", "error", err)
	}
	logger.Info("stopped")
}
