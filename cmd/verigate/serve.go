// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/internal/config"
	"github.com/verigate/verigate/internal/logging"
	"github.com/verigate/verigate/internal/mail"
	"github.com/verigate/verigate/internal/observability"
	"github.com/verigate/verigate/internal/web"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the account API",
		Long: `Start the HTTP account API together with the email dispatcher, the
retention sweeper and, when metrics.addr is set, the metrics and health server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, nil)
		},
	}
}

// runServe runs until ctx is cancelled or a server fails. ready, when not
// nil, is called with the bound API address once requests are accepted.
func runServe(ctx context.Context, cfg *config.Config, ready func(addr string)) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.SetDefault("verigate", version, cfg.Log.Format, level)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	be, err := openBackend(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer be.close()

	var accepting atomic.Bool
	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, accepting.Load)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := obsServer.Stop(stopCtx); err != nil {
				slog.Warn("error stopping observability server", "error", err)
			}
		}()
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	dispatcher, err := newDispatcher(cfg.Mail, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer drainCancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			slog.Warn("email queue not drained", "error", err)
		}
	}()

	accounts, err := auth.NewService(be.users, be.codes, be.tx, auth.NewArgon2idHasher(), dispatcher,
		auth.WithLogger(logger),
		auth.WithCodeLength(cfg.Auth.CodeLength),
		auth.WithCodeTTLs(cfg.Auth.EmailVerificationTTL, cfg.Auth.TwoFactorTTL),
		auth.WithRequiredDelivery(cfg.Mail.Delivery == config.DeliverySync),
	)
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionService(be.sessions, cfg.Session.IdleTimeout, cfg.Session.AbsoluteTimeout,
		auth.WithSessionLogger(logger))
	if err != nil {
		return err
	}

	sweeper, err := auth.NewSweeper(be.codes, be.sessions, cfg.Retention.CodeRetention, cfg.Retention.Interval, logger)
	if err != nil {
		return err
	}
	sweeper.OnSweep(func(r auth.SweepResult) { metrics.RecordSweep(r.Codes, r.Sessions) })
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()
	defer func() {
		cancel()
		<-sweepDone
	}()

	handler, err := web.NewHandler(accounts, sessions, web.Config{
		CookieName:             cfg.Session.CookieName,
		CookieSecure:           cfg.Session.CookieSecure,
		RevokeOnPasswordChange: cfg.Session.RevokeOnPasswordChange,
	}, web.WithLogger(logger), web.WithRecorder(metrics))
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	serveErrCh := make(chan error, 1)
	go func() {
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrCh <- serveErr
		}
	}()

	accepting.Store(true)
	logger.InfoContext(ctx, "account API listening",
		"addr", listener.Addr().String(),
		"store", cfg.Store.Driver,
		"mail_delivery", cfg.Mail.Delivery,
		"mail_transport", cfg.Mail.Transport)
	if ready != nil {
		ready(listener.Addr().String())
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErrCh:
		runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	}
	accepting.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping account API", "error", err)
	}
	return runErr
}

func newDispatcher(cfg config.MailConfig, logger *slog.Logger, recorder mail.Recorder) (*mail.Dispatcher, error) {
	var sender mail.Sender
	switch cfg.Transport {
	case config.TransportSMTP:
		smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.From,
		})
		if err != nil {
			return nil, err
		}
		sender = smtp
	default:
		sender = mail.NewLogSender(logger)
	}

	dcfg := mail.DefaultConfig()
	dcfg.Sync = cfg.Delivery == config.DeliverySync
	dcfg.Workers = cfg.Workers
	dcfg.QueueSize = cfg.QueueSize
	dcfg.MaxRetries = cfg.MaxRetries
	dcfg.RetryBase = cfg.RetryBase

	return mail.NewDispatcher(sender, dcfg, mail.WithLogger(logger), mail.WithRecorder(recorder))
}

// monitorServerErrors cancels the serve context when a background server
// reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
