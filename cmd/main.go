package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"disparador/internal/config"
	"disparador/internal/infrastructure"
	"disparador/internal/interfaces/http"
	"disparador/internal/repository"
	"disparador/internal/usecases"
)

func main() {
	// Load .env file (optional outside local dev)
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file loaded:", err)
	}

	cfg := config.Load()

	log, err := infrastructure.NewLogger()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Connect to PostgreSQL (schema is migrated on connect)
	pgClient, err := infrastructure.NewPostgresClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connect failed", zap.Error(err))
	}
	defer pgClient.Close()

	// Redis backs OTP request throttling; the service degrades without it.
	rdb, err := infrastructure.NewRedisClient(cfg.RedisAddr, cfg.RedisPass)
	if err != nil {
		log.Warn("redis unavailable, otp throttling disabled", zap.Error(err))
		rdb = nil
	}

	// Initialize Repositories
	tenantRepo := repository.NewTenantRepository(pgClient.Pool)
	usageRepo := repository.NewUsageRepository(pgClient.Pool)
	otpRepo := repository.NewOtpRepository(pgClient.Pool)
	userRepo := repository.NewUserRepository(pgClient.Pool)
	settingsRepo := repository.NewSettingsRepository(pgClient.Pool)

	// Transport & instance lifecycle
	transport := infrastructure.NewWhatsAppTransport(cfg.AuthFolder, log)
	manager := infrastructure.NewInstanceManager(transport, log)
	defer manager.Shutdown()

	// Usecases
	quota := usecases.NewQuotaEngine(tenantRepo, usageRepo, log)
	dispatcher := usecases.NewDispatcher(manager, quota, cfg.Limits, log)
	otpLimiter := usecases.NewRedisOtpLimiter(rdb)
	otpService := usecases.NewOtpService(
		otpRepo,
		userRepo,
		settingsRepo,
		otpLimiter,
		dispatcher,
		infrastructure.NewHTTPWebhookSender(),
		infrastructure.NewSMTPEmailSender(),
		infrastructure.NewHTTPSMSSender(),
		log,
	)

	// HTTP surface
	middleware := http.NewMiddleware(cfg.JWTSecret)
	handler := http.NewHandler(manager, dispatcher, otpService, quota, tenantRepo, userRepo, cfg.JWTSecret, log)

	r := gin.Default()
	http.SetupRoutes(r, handler, middleware)

	go func() {
		log.Info("server listening", zap.String("port", cfg.Port))
		if err := r.Run(":" + cfg.Port); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
}
