// Command notifier consumes code notifications published by the server when
// NOTIFICATION_TRANSPORT=kafka and delivers them over Twilio SMS or SMTP e-mail.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"optout/internal/notification"
	"optout/internal/platform/config"
	"optout/internal/platform/health"
	"optout/internal/platform/kafka/consumer"
	"optout/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("notifier exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("notifier stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := cfg.Notification
	var sms, email notification.Sender
	if n.Twilio.AccountSID != "" {
		sms = notification.NewTwilioSMSSender(n.Twilio.AccountSID, n.Twilio.AuthToken, n.Twilio.FromNumber)
	}
	if n.SMTP.Host != "" {
		email = notification.NewSMTPEmailSender(n.SMTP.Host, n.SMTP.Port, n.SMTP.Username, n.SMTP.Password, n.SMTP.From)
	}
	if sms == nil && email == nil {
		return errors.New("notifier needs TWILIO_ACCOUNT_SID or SMTP_HOST")
	}

	c, err := consumer.New(consumer.Config{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.NotifierGroupID,
		Topics:  []string{cfg.Kafka.NotificationTopic},
	}, notification.NewDispatcher(sms, email, log), log)
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	defer c.Close()

	h := health.New(cfg.Environment)
	h.RegisterCheck("kafka", c.Healthy)
	r := chi.NewRouter()
	h.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.NotifierAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	log.Info("notifier started",
		"topic", cfg.Kafka.NotificationTopic,
		"group", cfg.Kafka.NotifierGroupID,
		"sms", sms != nil,
		"email", email != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
