/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storefront/authserver/config"
	"github.com/storefront/authserver/internal/logging"
	"github.com/storefront/authserver/internal/mail"
	"github.com/storefront/authserver/internal/mq"
)

// mailerCmd consumes the outbound mail queue and delivers over SMTP.
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Deliver queued mail over SMTP",
	Long: `Consumes mail published by the API when MAIL_BACKEND is rabbitmq or
pubsub, and delivers each message to the configured SMTP relay. Usage:

	MAIL_BACKEND=rabbitmq authserver mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.Setup("authserver-mailer", cfg.Log.Format, cfg.Log.Level, os.Stderr)

		if cfg.Mail.Backend != mail.BackendRabbitMQ && cfg.Mail.Backend != mail.BackendPubSub {
			return fmt.Errorf("mailer needs MAIL_BACKEND=%s or %s, got %q", mail.BackendRabbitMQ, mail.BackendPubSub, cfg.Mail.Backend)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg.Mail.Backend, cfg)
		if err != nil {
			return fmt.Errorf("connect %s: %w", cfg.Mail.Backend, err)
		}
		defer func() {
			_ = broker.Close()
		}()

		smtpSender, err := mail.NewSMTPSender(cfg.Mail)
		if err != nil {
			return err
		}

		relay, err := mail.NewRelay(broker, cfg.Mail.Channel, smtpSender, logger)
		if err != nil {
			return err
		}
		return relay.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
