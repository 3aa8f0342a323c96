package driftq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is an httptest server speaking just enough of the broker's
// /v1 surface for worker tests: a canned NDJSON consume stream plus
// recording ack/nack endpoints.
type fakeBroker struct {
	t *testing.T

	mu     sync.Mutex
	acked  []AckRequest
	nacked []NackRequest

	// stream is written verbatim as the consume response body.
	stream []ConsumeMessage

	// holdStream keeps the consume response open until closed, so tests
	// can cancel the worker while the stream is still live.
	holdStream chan struct{}

	// ackStatus overrides the ack response code per offset.
	ackStatus map[int64]int

	// beforeAck runs while an ack request is being served.
	beforeAck func(AckRequest)

	srv *httptest.Server
}

func newFakeBroker(t *testing.T, msgs ...ConsumeMessage) *fakeBroker {
	b := &fakeBroker{t: t, stream: msgs}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/consume":
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		for _, m := range b.stream {
			raw, _ := json.Marshal(m)
			_, _ = w.Write(append(raw, '\n'))
		}
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		if b.holdStream != nil {
			<-b.holdStream
		}

	case "/v1/ack":
		var req AckRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if b.beforeAck != nil {
			b.beforeAck(req)
		}
		b.mu.Lock()
		b.acked = append(b.acked, req)
		status := b.ackStatus[req.Offset]
		b.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		if status >= 400 {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "INTERNAL", Message: "ack failed"})
			return
		}
		w.WriteHeader(status)

	case "/v1/nack":
		var req NackRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.nacked = append(b.nacked, req)
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBroker) acks() []AckRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]AckRequest(nil), b.acked...)
}

func (b *fakeBroker) nacks() []NackRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]NackRequest(nil), b.nacked...)
}

func (b *fakeBroker) client(t *testing.T) *Client {
	c, err := Dial(context.Background(), Config{BaseURL: b.srv.URL, Logger: NopLogger{}})
	require.NoError(t, err)
	return c
}

func workerOpts() ConsumeOptions {
	return ConsumeOptions{Topic: "demo", Group: "demo", Owner: "worker-1"}
}

func TestWorker_AcksOnSuccess(t *testing.T) {
	b := newFakeBroker(t, ConsumeMessage{Partition: 0, Offset: 1, Attempts: 1, Key: "k", Value: "v"})

	wk, err := NewWorker(WorkerConfig{
		Client:  b.client(t),
		Consume: workerOpts(),
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			return nil // Ack
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	acks := b.acks()
	require.Len(t, acks, 1)
	assert.Equal(t, AckRequest{Topic: "demo", Group: "demo", Owner: "worker-1", Partition: 0, Offset: 1}, acks[0])
	assert.Empty(t, b.nacks())
}

func TestWorker_NacksOnHandlerError(t *testing.T) {
	b := newFakeBroker(t, ConsumeMessage{Partition: 2, Offset: 99, Attempts: 1, Key: "k", Value: "v"})

	wk, err := NewWorker(WorkerConfig{
		Client:  b.client(t),
		Consume: workerOpts(),
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			return errors.New("boom") // Nack
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	assert.Empty(t, b.acks())
	nacks := b.nacks()
	require.Len(t, nacks, 1)
	assert.Equal(t, "demo", nacks[0].Topic)
	assert.Equal(t, "worker-1", nacks[0].Owner)
	assert.Equal(t, 2, nacks[0].Partition)
	assert.Equal(t, int64(99), nacks[0].Offset)
	assert.Contains(t, nacks[0].Reason, "boom")
}

func TestWorker_HandlerSeesEnvelopeDeadline(t *testing.T) {
	deadline := time.Now().Add(5 * time.Second).UTC().Truncate(time.Millisecond)
	b := newFakeBroker(t, ConsumeMessage{
		Partition: 0, Offset: 1, Attempts: 1,
		Envelope: &Envelope{Deadline: &deadline},
	})

	var got atomic.Value
	wk, err := NewWorker(WorkerConfig{
		Client:  b.client(t),
		Consume: workerOpts(),
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			if dl, ok := ctx.Deadline(); ok {
				got.Store(dl)
			}
			return nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	dl, ok := got.Load().(time.Time)
	require.True(t, ok, "handler ctx should carry the envelope deadline")
	assert.True(t, dl.Equal(deadline), "expected deadline %v, got %v", deadline, dl)
	require.Len(t, b.acks(), 1)
}

func TestWorker_NacksExpiredDeadlineWithoutRunningHandler(t *testing.T) {
	past := time.Now().Add(-time.Second).UTC()
	b := newFakeBroker(t, ConsumeMessage{
		Partition: 1, Offset: 7, Attempts: 3,
		Envelope: &Envelope{Deadline: &past},
	})

	var handlerRan atomic.Int32
	wk, err := NewWorker(WorkerConfig{
		Client:  b.client(t),
		Consume: workerOpts(),
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			handlerRan.Add(1)
			return nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	assert.Zero(t, handlerRan.Load(), "handler must not run for an expired deadline")
	assert.Empty(t, b.acks())
	nacks := b.nacks()
	require.Len(t, nacks, 1)
	assert.Contains(t, nacks[0].Reason, "deadline exceeded")
}

func TestWorker_NacksHandlerExceedingDeadline(t *testing.T) {
	deadline := time.Now().Add(100 * time.Millisecond).UTC()
	b := newFakeBroker(t, ConsumeMessage{
		Partition: 0, Offset: 1, Attempts: 1,
		Envelope: &Envelope{Deadline: &deadline},
	})

	wk, err := NewWorker(WorkerConfig{
		Client:  b.client(t),
		Consume: workerOpts(),
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			time.Sleep(200 * time.Millisecond) // ignores ctx on purpose
			return nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	assert.Empty(t, b.acks())
	nacks := b.nacks()
	require.Len(t, nacks, 1)
	assert.NotEmpty(t, nacks[0].Reason)
}

func TestWorker_ConcurrencyOneSerializesDeliveries(t *testing.T) {
	b := newFakeBroker(t,
		ConsumeMessage{Partition: 0, Offset: 1},
		ConsumeMessage{Partition: 0, Offset: 2},
	)

	var mu sync.Mutex
	var events []string
	record := func(ev string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	b.beforeAck = func(req AckRequest) {
		time.Sleep(30 * time.Millisecond)
		record(fmt.Sprintf("ack-%d", req.Offset))
	}

	wk, err := NewWorker(WorkerConfig{
		Client:      b.client(t),
		Consume:     workerOpts(),
		Concurrency: 1,
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			record(fmt.Sprintf("start-%d", msg.Offset))
			return nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	// With concurrency 1 the second handler must not start until the first
	// delivery's ack has completed.
	require.Equal(t, []string{"start-1", "ack-1", "start-2", "ack-2"}, events)
}

func TestWorker_ConcurrencyBoundHoldsWhileStreamDrains(t *testing.T) {
	msgs := make([]ConsumeMessage, 6)
	for i := range msgs {
		msgs[i] = ConsumeMessage{Partition: 0, Offset: int64(i + 1)}
	}
	b := newFakeBroker(t, msgs...)

	var active, peak atomic.Int32
	release := make(chan struct{})

	wk, err := NewWorker(WorkerConfig{
		Client:      b.client(t),
		Consume:     workerOpts(),
		Concurrency: 2,
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			active.Add(-1)
			return nil
		}),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- wk.Run(context.Background()) }()

	// Give intake time to read the whole stream and park handlers on the
	// semaphore.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), active.Load(), "exactly K handlers should be running")

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(2), peak.Load(), "no more than K handlers may run at once")
	assert.Len(t, b.acks(), 6, "every delivery still reaches a terminal ack")
}

func TestWorker_CancelDrainsInFlight(t *testing.T) {
	b := newFakeBroker(t,
		ConsumeMessage{Partition: 0, Offset: 1},
		ConsumeMessage{Partition: 0, Offset: 2},
		ConsumeMessage{Partition: 0, Offset: 3},
	)
	b.holdStream = make(chan struct{})
	defer close(b.holdStream)

	started := make(chan struct{}, 3)
	proceed := make(chan struct{})

	wk, err := NewWorker(WorkerConfig{
		Client:      b.client(t),
		Consume:     workerOpts(),
		Concurrency: 3,
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			started <- struct{}{}
			<-proceed
			return nil
		}),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wk.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for handlers to start")
		}
	}

	cancel()

	select {
	case err := <-done:
		t.Fatalf("Run returned %v before in-flight deliveries finished", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(proceed)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain")
	}

	assert.Len(t, b.acks(), 3, "all in-flight deliveries must reach ack before Run returns")
}

func TestWorker_AckFailureReportedAndLoopContinues(t *testing.T) {
	b := newFakeBroker(t,
		ConsumeMessage{Partition: 0, Offset: 1},
		ConsumeMessage{Partition: 0, Offset: 2},
	)
	b.ackStatus = map[int64]int{1: http.StatusInternalServerError}

	var reported []error
	var mu sync.Mutex

	wk, err := NewWorker(WorkerConfig{
		Client:      b.client(t),
		Consume:     workerOpts(),
		Concurrency: 1,
		OnError: func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			return nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	// Both deliveries were attempted; the failed ack was reported, not fatal.
	assert.Len(t, b.acks(), 2)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	var apiErr *APIError
	require.ErrorAs(t, reported[0], &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

type emptyError struct{}

func (emptyError) Error() string { return "" }

func TestWorker_ReasonFallsBackToErrorTypeName(t *testing.T) {
	b := newFakeBroker(t, ConsumeMessage{Partition: 0, Offset: 1})

	wk, err := NewWorker(WorkerConfig{
		Client:  b.client(t),
		Consume: workerOpts(),
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			return emptyError{}
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	nacks := b.nacks()
	require.Len(t, nacks, 1)
	assert.Contains(t, nacks[0].Reason, "emptyError")
}

func TestWorker_CustomNackReasonAndByteCap(t *testing.T) {
	b := newFakeBroker(t, ConsumeMessage{Partition: 0, Offset: 1})

	wk, err := NewWorker(WorkerConfig{
		Client:             b.client(t),
		Consume:            workerOpts(),
		MaxNackReasonBytes: 10,
		NackReason: func(ctx context.Context, msg ConsumeMessage, err error) string {
			return strings.Repeat("x", 64)
		},
		Handler: StepFunc(func(ctx context.Context, msg ConsumeMessage) error {
			return errors.New("ignored by the custom formatter")
		}),
	})
	require.NoError(t, err)
	require.NoError(t, wk.Run(context.Background()))

	nacks := b.nacks()
	require.Len(t, nacks, 1)
	assert.Equal(t, strings.Repeat("x", 10), nacks[0].Reason)
}

func TestTruncateBytes(t *testing.T) {
	// ASCII cuts at exactly max bytes.
	assert.Equal(t, "hello", truncateBytes("hello world", 5))
	assert.Equal(t, "hello", truncateBytes("hello", 10))

	// Multi-byte runes are never split: "héllo" is h(1) é(2) l l o.
	got := truncateBytes("héllo", 2)
	assert.Equal(t, "h", got, "cutting inside é must back up to the rune boundary")
	assert.LessOrEqual(t, len(got), 2)

	// A cut landing on a rune boundary keeps the full prefix.
	assert.Equal(t, "hé", truncateBytes("héllo", 3))

	assert.Equal(t, "", truncateBytes("日本", 2), "3-byte rune cannot fit in 2 bytes")
}

func TestNewWorker_Validation(t *testing.T) {
	b := newFakeBroker(t)
	c := b.client(t)
	h := StepFunc(func(ctx context.Context, msg ConsumeMessage) error { return nil })

	_, err := NewWorker(WorkerConfig{Consume: workerOpts(), Handler: h})
	assert.Error(t, err, "missing client")

	_, err = NewWorker(WorkerConfig{Client: c, Consume: workerOpts()})
	assert.Error(t, err, "missing handler")

	_, err = NewWorker(WorkerConfig{Client: c, Handler: h, Consume: ConsumeOptions{Topic: "t", Group: "g"}})
	assert.Error(t, err, "missing owner")

	opt := workerOpts()
	opt.LeaseMS = -1
	_, err = NewWorker(WorkerConfig{Client: c, Handler: h, Consume: opt})
	assert.Error(t, err, "negative lease")
}
