package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/adminsuite/governance-backend/internal/domain/audit"
	"github.com/adminsuite/governance-backend/internal/domain/errors"
	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
	"github.com/adminsuite/governance-backend/internal/infrastructure/telemetry"
)

const (
	connectTimeout = 5 * time.Second
	flushTimeout   = 10 * time.Second
)

// KafkaPublisher produces governance streams with franz-go. Audit
// entries go out fire-and-forget; erasure notices are produced
// synchronously because downstream purges hang off them.
type KafkaPublisher struct {
	client       *kgo.Client
	logger       *zap.Logger
	tracer       trace.Tracer
	auditTopic   string
	erasureTopic string
}

// NewKafkaPublisher connects a producer and verifies the brokers are
// reachable before returning.
func NewKafkaPublisher(ctx context.Context, cfg config.KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if logger == nil {
		return nil, errors.NewInternalError("logger is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.NewValidationError("MISSING_BROKERS", "at least one kafka broker is required")
	}
	if cfg.AuditTopic == "" || cfg.ErasureTopic == "" {
		return nil, errors.NewValidationError("MISSING_TOPICS", "audit and erasure topics are required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, errors.NewStorageError("create kafka client", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, errors.NewStorageError("ping kafka brokers", err)
	}

	logger.Info("connected to kafka",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("audit_topic", cfg.AuditTopic),
		zap.String("erasure_topic", cfg.ErasureTopic))

	return &KafkaPublisher{
		client:       client,
		logger:       logger,
		tracer:       telemetry.Tracer("governance.events"),
		auditTopic:   cfg.AuditTopic,
		erasureTopic: cfg.ErasureTopic,
	}, nil
}

// StreamEntry produces the entry asynchronously. Broker errors are
// logged and dropped so the append path stays independent of the
// stream; only a marshal failure is returned.
func (p *KafkaPublisher) StreamEntry(ctx context.Context, entry *audit.Entry) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "audit entry is required")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return errors.NewInternalError("failed to marshal audit entry").WithCause(err)
	}

	record := &kgo.Record{
		Topic: p.auditTopic,
		Key:   []byte(entry.Category),
		Value: payload,
	}
	seq := entry.SequenceNum
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("audit stream produce failed",
				zap.Int64("sequence", seq),
				zap.Error(err))
		}
	})
	return nil
}

// NotifyErasure produces the notice synchronously and surfaces broker
// failures to the caller.
func (p *KafkaPublisher) NotifyErasure(ctx context.Context, notice ErasureNotice) error {
	ctx, span := telemetry.StartMessagingSpan(ctx, p.tracer, "kafka", "publish", p.erasureTopic)
	defer span.End()

	payload, err := json.Marshal(notice)
	if err != nil {
		return errors.NewInternalError("failed to marshal erasure notice").WithCause(err)
	}

	record := &kgo.Record{
		Topic: p.erasureTopic,
		Key:   []byte(notice.SubjectID),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		appErr := errors.NewStorageError("publish erasure notice", err)
		telemetry.WithSpanError(span, appErr)
		return appErr
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka flush on close failed", zap.Error(err))
	}
	p.client.Close()
}

var (
	_ AuditStreamer   = (*KafkaPublisher)(nil)
	_ ErasureNotifier = (*KafkaPublisher)(nil)
	_ AuditStreamer   = NoopPublisher{}
	_ ErasureNotifier = NoopPublisher{}
)
