package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ndmitriev/storefront-system/internal/broker"
	"github.com/ndmitriev/storefront-system/internal/config"
	"github.com/ndmitriev/storefront-system/internal/handler"
	"github.com/ndmitriev/storefront-system/internal/mailer"
	"github.com/ndmitriev/storefront-system/internal/middleware"
	"github.com/ndmitriev/storefront-system/internal/notifier"
	"github.com/ndmitriev/storefront-system/internal/payment"
	"github.com/ndmitriev/storefront-system/internal/repository"
	"github.com/ndmitriev/storefront-system/internal/service"
	"github.com/ndmitriev/storefront-system/internal/worker"
)

const paypalSandboxURL = "https://api-m.sandbox.paypal.com"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("failed to parse config", "error", err)
	}

	if cfg.DatabaseURI == "" {
		sugar.Fatal("database URI is required")
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("failed to init repository", "error", err)
	}

	var gateway service.Gateway
	if cfg.PayPalClientID != "" && cfg.PayPalSecret != "" {
		baseURL := cfg.PayPalAddress
		if baseURL == "" {
			baseURL = paypalSandboxURL
		}
		gateway = payment.NewClient(baseURL, cfg.PayPalClientID, cfg.PayPalSecret)
	}

	var mail *mailer.Mailer
	var mailSender service.MailSender
	var workerMail worker.Mailer
	if cfg.SMTPAddress != "" {
		mail = mailer.New(cfg.SMTPAddress, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom, cfg.PublicURL)
		mailSender = mail
		workerMail = mail
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, repo)

	svc := service.NewService(repo, gateway, mailSender, authMiddleware)
	defer svc.Close()

	var workerPub worker.Publisher
	if cfg.AMQPURL != "" {
		pub, err := broker.NewPublisher(cfg.AMQPURL)
		if err != nil {
			sugar.Fatalw("failed to init broker publisher", "error", err)
		}
		defer pub.Close()
		workerPub = pub
	}

	hub := notifier.NewHub(svc, logger)

	h := handler.NewHandler(svc, logger, authMiddleware, hub, cfg.UploadDir, cfg.PayPalClientID)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	outbox := worker.NewWorker(repo, hub, workerPub, workerMail, logger)

	// Запуск фоновой доставки событий outbox
	g.Go(func() error {
		outbox.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting storefront server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("server stopped with error", "error", err)
	}

	sugar.Info("server stopped")
}
