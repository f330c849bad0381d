package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"OtcPull/internal/domain/models"
	drepo "OtcPull/internal/domain/repository"
	domsvc "OtcPull/internal/domain/service"
	pkgkafka "OtcPull/pkg/kafka"
	"OtcPull/pkg/logger"
	"OtcPull/pkg/util"

	"github.com/segmentio/kafka-go"
)

type publishedAtKey struct{}

// SignalIntake feeds predictions published on a Kafka topic into the
// scheduler. Payload: {asset, direction, confidence, detected_at, pattern}.
type SignalIntake struct {
	topic   string
	maxAge  time.Duration
	sink    domsvc.SignalSink
	clock   drepo.Clock
	log     *logger.Logger
	metrics drepo.Metrics
}

func NewSignalIntake(topic string, maxAge time.Duration, sink domsvc.SignalSink, clock drepo.Clock, log *logger.Logger, metrics drepo.Metrics) *SignalIntake {
	return &SignalIntake{
		topic:   topic,
		maxAge:  maxAge,
		sink:    sink,
		clock:   clock,
		log:     log.With(logger.String("component", "signal_intake")),
		metrics: metrics,
	}
}

func (h *SignalIntake) Topic() string { return h.topic }

type externalSignal struct {
	Asset      string          `json:"asset"`
	Direction  string          `json:"direction"`
	Confidence float64         `json:"confidence"`
	DetectedAt json.RawMessage `json:"detected_at"`
	Pattern    string          `json:"pattern"`
}

// Handle decodes one signal and offers it. Malformed payloads are permanent
// failures; stale ones are dropped.
func (h *SignalIntake) Handle(ctx context.Context, b []byte) error {
	var m externalSignal
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("signal_unmarshal")
		return fmt.Errorf("%w: decode signal: %w", pkgkafka.ErrPermanent, err)
	}
	dir, err := models.ParseDirection(m.Direction)
	if err != nil {
		h.metrics.RecordError("signal_invalid")
		return fmt.Errorf("%w: %w", pkgkafka.ErrPermanent, err)
	}
	if strings.TrimSpace(m.Asset) == "" || m.Confidence < 0 || m.Confidence > 1 {
		h.metrics.RecordError("signal_invalid")
		return fmt.Errorf("%w: invalid signal asset=%q confidence=%v", pkgkafka.ErrPermanent, m.Asset, m.Confidence)
	}

	now := h.clock.Now()
	detected, err := parseDetectedAt(m.DetectedAt)
	if err != nil {
		h.metrics.RecordError("signal_invalid")
		return fmt.Errorf("%w: %w", pkgkafka.ErrPermanent, err)
	}
	if detected.IsZero() {
		if ts, ok := ctx.Value(publishedAtKey{}).(time.Time); ok && !ts.IsZero() {
			detected = ts
		} else {
			detected = now
		}
	}
	if h.maxAge > 0 && now.Sub(detected) > h.maxAge {
		h.log.Debug("stale signal dropped",
			logger.String("asset", m.Asset),
			logger.Duration("age", now.Sub(detected)),
		)
		h.metrics.RecordOffer(m.Asset, string(models.OfferDiscardedStale))
		return nil
	}

	decision, _ := h.sink.Offer(models.Prediction{
		Asset:          m.Asset,
		Direction:      dir,
		Confidence:     m.Confidence,
		BaseConfidence: m.Confidence,
		Pattern:        m.Pattern,
		DetectedAt:     detected,
	})
	h.metrics.RecordLatency("signal_intake", now.Sub(detected).Seconds())
	h.log.Debug("external signal", logger.String("asset", m.Asset), logger.String("decision", string(decision)))
	return nil
}

// Hook carries the Kafka message time into Handle and counts failures.
func (h *SignalIntake) Hook() pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return context.WithValue(ctx, publishedAtKey{}, km.Time), km, data, nil
		},
		Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, err error) {
			h.metrics.RecordError("signal_intake")
			h.log.Warn("signal rejected", logger.String("topic", topic), logger.Error(err))
		},
	}
}

// parseDetectedAt accepts RFC 3339 strings and unix seconds or milliseconds.
// Absent values return the zero time.
func parseDetectedAt(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	s := string(raw)
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 1e11 {
		return time.UnixMilli(n).UTC(), nil
	}
	t, ok := util.ParseTime(s)
	if !ok {
		return time.Time{}, fmt.Errorf("detected_at: unparseable %q", s)
	}
	return t.UTC(), nil
}

var _ pkgkafka.MessageHandler = (*SignalIntake)(nil)
