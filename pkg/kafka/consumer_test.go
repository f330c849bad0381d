package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

func init() {
	SetConsumerMetricsRegisterer(prometheus.NewRegistry())
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type recordingCommitter struct {
	commits []int64
}

func (r *recordingCommitter) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	return nil
}

type scriptedHandler struct {
	errs  []error
	calls int
}

func (h *scriptedHandler) Topic() string { return "signals" }

func (h *scriptedHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.calls <= len(h.errs) {
		return h.errs[h.calls-1]
	}
	return nil
}

func newTestConsumer(t *testing.T, h MessageHandler, dlq messageWriter) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(2, time.Millisecond, 2*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	c.dlq = dlq
	if dlq != nil {
		c.cfg.DLQTopic = "signals.dlq"
	}
	c.RegisterHandler(h)
	return c
}

func testMessage(offset int64) *message {
	return &message{topic: "signals", km: kafka.Message{Topic: "signals", Offset: offset, Value: []byte(`{}`)}}
}

func TestHandleSuccessCommits(t *testing.T) {
	h := &scriptedHandler{}
	dlq := &recordingWriter{}
	c := newTestConsumer(t, h, dlq)
	rc := &recordingCommitter{}

	c.handle(testMessage(7), rc)
	if h.calls != 1 || len(dlq.msgs) != 0 {
		t.Fatalf("calls %d dlq %d", h.calls, len(dlq.msgs))
	}
	if len(rc.commits) != 1 || rc.commits[0] != 7 {
		t.Fatalf("commits %v", rc.commits)
	}
}

func TestHandlePermanentSkipsRetry(t *testing.T) {
	h := &scriptedHandler{errs: []error{fmt.Errorf("%w: bad json", ErrPermanent)}}
	dlq := &recordingWriter{}
	c := newTestConsumer(t, h, dlq)
	rc := &recordingCommitter{}

	c.handle(testMessage(3), rc)
	if h.calls != 1 {
		t.Fatalf("permanent error retried: %d calls", h.calls)
	}
	if len(dlq.msgs) != 1 || dlq.msgs[0].Topic != "signals.dlq" {
		t.Fatalf("dlq %+v", dlq.msgs)
	}
	var src string
	for _, hd := range dlq.msgs[0].Headers {
		if hd.Key == "source_topic" {
			src = string(hd.Value)
		}
	}
	if src != "signals" {
		t.Fatalf("source_topic header = %q", src)
	}
	if len(rc.commits) != 1 {
		t.Fatal("dead-lettered message not committed")
	}
}

func TestHandleTransientRetries(t *testing.T) {
	boom := errors.New("broker busy")
	h := &scriptedHandler{errs: []error{boom, boom}}
	c := newTestConsumer(t, h, nil)
	rc := &recordingCommitter{}

	c.handle(testMessage(1), rc)
	if h.calls != 3 || len(rc.commits) != 1 {
		t.Fatalf("calls %d commits %v", h.calls, rc.commits)
	}
}

func TestHandleExhaustedWithoutDLQLeavesOffset(t *testing.T) {
	boom := errors.New("down")
	h := &scriptedHandler{errs: []error{boom, boom, boom, boom}}
	c := newTestConsumer(t, h, nil)
	rc := &recordingCommitter{}

	c.handle(testMessage(1), rc)
	if h.calls != 3 {
		t.Fatalf("calls = %d, want 1 + 2 retries", h.calls)
	}
	if len(rc.commits) != 0 {
		t.Fatal("failed message committed without a DLQ")
	}
}

func TestHandleHookCanReject(t *testing.T) {
	h := &scriptedHandler{}
	dlq := &recordingWriter{}
	c := newTestConsumer(t, h, dlq)
	var seen error
	c.WithConsumerHook(HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return ctx, km, data, fmt.Errorf("%w: rejected", ErrPermanent)
		},
		Err: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) { seen = err },
	})

	c.handle(testMessage(1), &recordingCommitter{})
	if h.calls != 0 || !errors.Is(seen, ErrPermanent) || len(dlq.msgs) != 1 {
		t.Fatalf("calls %d seen %v dlq %d", h.calls, seen, len(dlq.msgs))
	}
}

func TestRegisterHandlerFirstWins(t *testing.T) {
	first, second := &scriptedHandler{}, &scriptedHandler{}
	c := newTestConsumer(t, first, nil)
	c.RegisterHandler(second)
	c.handle(testMessage(1), nil)
	if first.calls != 1 || second.calls != 0 {
		t.Fatalf("first %d second %d", first.calls, second.calls)
	}
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	if _, err := NewConsumer(); err == nil {
		t.Fatal("expected error without brokers")
	}
}
