package driftq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"
)

// StepHandler processes a single delivery. Returning nil acks the delivery;
// any error nacks it with a reason derived from the error.
type StepHandler interface {
	Handle(ctx context.Context, msg ConsumeMessage) error
}

type StepFunc func(ctx context.Context, msg ConsumeMessage) error

func (f StepFunc) Handle(ctx context.Context, msg ConsumeMessage) error { return f(ctx, msg) }

type WorkerConfig struct {
	Client  *Client
	Consume ConsumeOptions
	Handler StepHandler

	// Concurrency bounds simultaneously active handler executions.
	// Values < 1 mean 1.
	Concurrency int

	// OnError receives worker-level failures: stream read errors and
	// failed ack/nack RPCs. Handler errors never land here; they become
	// nack reasons instead.
	OnError func(error)

	// NackReason formats the nack reason for a failed delivery. When nil,
	// or when it returns "", the reason falls back to err.Error() and then
	// to the error's type name.
	NackReason func(ctx context.Context, msg ConsumeMessage, err error) string

	// MaxNackReasonBytes caps the reason size in bytes. Zero means 1024.
	MaxNackReasonBytes int

	// Logger overrides the client's logger for worker diagnostics.
	Logger Logger
}

// Worker pulls deliveries from a consume stream and dispatches each to the
// handler under a concurrency bound, resolving every delivery to exactly one
// ack or nack.
type Worker struct {
	c   *Client
	opt ConsumeOptions
	h   StepHandler

	sem     *semaphore.Weighted
	onError func(error)
	logger  Logger

	nackReason func(ctx context.Context, msg ConsumeMessage, err error) string
	maxReason  int
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Client == nil {
		return nil, errors.New("worker: Client is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("worker: Handler is required")
	}
	if cfg.Consume.Topic == "" || cfg.Consume.Group == "" || cfg.Consume.Owner == "" {
		return nil, errors.New("worker: ConsumeOptions requires Topic, Group, Owner")
	}
	if cfg.Consume.LeaseMS < 0 {
		return nil, errors.New("worker: LeaseMS must be >= 0")
	}

	conc := cfg.Concurrency
	if conc < 1 {
		conc = 1
	}

	maxReason := cfg.MaxNackReasonBytes
	if maxReason <= 0 {
		maxReason = 1024
	}

	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Client.logger
	}

	return &Worker{
		c:          cfg.Client,
		opt:        cfg.Consume,
		h:          cfg.Handler,
		sem:        semaphore.NewWeighted(int64(conc)),
		onError:    cfg.OnError,
		logger:     logger,
		nackReason: cfg.NackReason,
		maxReason:  maxReason,
	}, nil
}

// Run consumes and processes until ctx is cancelled or the server closes the
// stream. Cancellation is a normal shutdown: Run stops pulling, waits for
// every in-flight delivery to reach its ack or nack, and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	msgs, errs, err := w.c.ConsumeStream(ctx, w.opt)
	if err != nil {
		return err
	}

	// Deliveries that started handling are always driven to a terminal
	// ack/nack, even while Run is shutting down, so per-delivery work hangs
	// off a context that survives run-loop cancellation.
	base := context.WithoutCancel(ctx)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			w.report(err)
			wg.Wait()
			return err

		case m, ok := <-msgs:
			if !ok {
				wg.Wait()
				return nil
			}

			// Spawn before gating: a full pool delays dispatch, never
			// stream intake.
			wg.Add(1)
			go func(msg ConsumeMessage) {
				defer wg.Done()
				w.handleOne(base, msg)
			}(m)
		}
	}
}

// outcome is the single terminal result of a delivery: either an ack, or a
// nack with a reason. It is computed exactly once per delivery before any
// terminal RPC is issued.
type outcome struct {
	ack    bool
	reason string
}

func (w *Worker) handleOne(ctx context.Context, msg ConsumeMessage) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		// Only reachable if the detached base context dies, which a normal
		// shutdown never does.
		w.report(fmt.Errorf("worker: dispatch p=%d off=%d: %w", msg.Partition, msg.Offset, err))
		return
	}
	defer w.sem.Release(1)

	out := w.resolve(ctx, msg)

	if out.ack {
		err := w.c.Ack(ctx, AckRequest{
			Topic:     w.opt.Topic,
			Group:     w.opt.Group,
			Owner:     w.opt.Owner,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		})
		if err != nil {
			w.report(fmt.Errorf("worker: ack p=%d off=%d: %w", msg.Partition, msg.Offset, err))
		}
		return
	}

	err := w.c.Nack(ctx, NackRequest{
		Topic:     w.opt.Topic,
		Group:     w.opt.Group,
		Owner:     w.opt.Owner,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Reason:    out.reason,
	})
	if err != nil {
		w.report(fmt.Errorf("worker: nack p=%d off=%d: %w", msg.Partition, msg.Offset, err))
	}
}

// resolve runs the handler under the envelope deadline, if any, and decides
// the delivery's one terminal outcome.
func (w *Worker) resolve(ctx context.Context, msg ConsumeMessage) outcome {
	err := w.process(ctx, msg)
	if err == nil {
		return outcome{ack: true}
	}
	w.logger.Debugf("driftq: delivery failed p=%d off=%d attempts=%d: %v", msg.Partition, msg.Offset, msg.Attempts, err)
	return outcome{reason: w.formatReason(ctx, msg, err)}
}

func (w *Worker) process(ctx context.Context, msg ConsumeMessage) error {
	dl := envelopeDeadline(msg)
	if dl.IsZero() {
		return w.h.Handle(ctx, msg)
	}

	if time.Until(dl) <= 0 {
		// Already expired: never invoke the handler.
		return ErrDeadlineExceeded
	}

	hctx, cancel := context.WithDeadline(ctx, dl)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.h.Handle(hctx, msg) }()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		// The handler may still be running; the buffered channel lets its
		// goroutine finish on its own. The delivery fails now.
		return ErrDeadlineExceeded
	}
}

// formatReason resolves the nack reason through an ordered fallback chain:
// caller-supplied formatter, then the error text, then the error's type name
// (some errors stringify empty). The result is byte-capped without splitting
// a multi-byte rune.
func (w *Worker) formatReason(ctx context.Context, msg ConsumeMessage, err error) string {
	var s string
	if w.nackReason != nil {
		s = w.nackReason(ctx, msg, err)
	}
	if s == "" && err != nil {
		s = err.Error()
	}
	if s == "" && err != nil {
		s = fmt.Sprintf("%T", err)
	}
	return truncateBytes(s, w.maxReason)
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

func (w *Worker) report(err error) {
	if err == nil {
		return
	}
	w.logger.Errorf("driftq: %v", err)
	if w.onError != nil {
		w.onError(err)
	}
}

func envelopeDeadline(msg ConsumeMessage) time.Time {
	if msg.Envelope == nil || msg.Envelope.Deadline == nil {
		return time.Time{}
	}
	return *msg.Envelope.Deadline
}
