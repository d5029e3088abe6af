// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/verigate/verigate/pkg/errutil"
)

// Delivery outcomes reported to a Recorder.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

// Recorder observes delivery outcomes.
type Recorder interface {
	RecordEmailDelivery(status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEmailDelivery(string) {}

// Config controls delivery.
type Config struct {
	// Sync delivers inside Send and returns the final error. Otherwise Send
	// queues the message and returns immediately.
	Sync       bool
	Workers    int
	QueueSize  int
	MaxRetries uint64
	RetryBase  time.Duration
	// SendTimeout bounds each attempt.
	SendTimeout time.Duration
}

// DefaultConfig returns the asynchronous defaults.
func DefaultConfig() Config {
	return Config{
		Workers:     2,
		QueueSize:   256,
		MaxRetries:  3,
		RetryBase:   500 * time.Millisecond,
		SendTimeout: 30 * time.Second,
	}
}

type message struct {
	to, subject, body string
}

// Dispatcher wraps a Sender with retries and, in asynchronous mode, a
// bounded queue drained by a fixed worker pool. Messages that do not fit in
// the queue are dropped and reported.
type Dispatcher struct {
	sender   Sender
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	queue chan message
	wg    sync.WaitGroup

	mu     sync.RWMutex // guards closed and the queue close
	closed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithRecorder sets the delivery outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// NewDispatcher creates a Dispatcher and starts its workers.
func NewDispatcher(sender Sender, cfg Config, opts ...Option) (*Dispatcher, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_DISPATCHER_INVALID").Errorf("sender is required")
	}
	if !cfg.Sync && (cfg.Workers <= 0 || cfg.QueueSize <= 0) {
		return nil, oops.Code("MAIL_DISPATCHER_INVALID").
			With("workers", cfg.Workers).
			With("queue_size", cfg.QueueSize).
			Errorf("workers and queue size must be positive")
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultConfig().RetryBase
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}

	d := &Dispatcher{
		sender:   sender,
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}

	if !cfg.Sync {
		d.queue = make(chan message, cfg.QueueSize)
		for range cfg.Workers {
			d.wg.Add(1)
			go d.work()
		}
	}
	return d, nil
}

// Send delivers the message, or queues it in asynchronous mode.
func (d *Dispatcher) Send(ctx context.Context, to, subject, body string) error {
	msg := message{to: to, subject: subject, body: body}
	if d.cfg.Sync {
		return d.deliver(ctx, msg)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return oops.Code("MAIL_DISPATCHER_CLOSED").Errorf("dispatcher is closed")
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		d.recorder.RecordEmailDelivery(StatusDropped)
		return oops.Code("MAIL_QUEUE_FULL").
			With("queue_size", d.cfg.QueueSize).
			Errorf("mail queue is full")
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d.cfg.Sync {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("MAIL_DRAIN_TIMEOUT").With("pending", len(d.queue)).Wrap(ctx.Err())
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		if err := d.deliver(context.Background(), msg); err != nil {
			errutil.LogErrorContext(context.Background(), d.logger, slog.LevelError, "email delivery failed", err)
		}
	}
}

// deliver sends msg, retrying with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, msg message) error {
	attempts := 0
	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		if err := d.sender.Send(attemptCtx, msg.to, msg.subject, msg.body); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.recorder.RecordEmailDelivery(StatusFailed)
		return oops.Code("MAIL_DELIVERY_FAILED").
			With("subject", msg.subject).
			With("attempts", attempts).
			Wrap(err)
	}
	d.recorder.RecordEmailDelivery(StatusSent)
	return nil
}
