package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/observability/tracing"
	"github.com/nimburion/docrest/pkg/repository/document"
)

// AuditRecord describes one mutating operation.
type AuditRecord struct {
	Resource  string            `json:"resource"`
	Operation string            `json:"operation"`
	Actor     string            `json:"actor,omitempty"`
	IDs       []string          `json:"ids"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
	Before    document.Document `json:"before,omitempty"`
	After     document.Document `json:"after,omitempty"`
}

// AuditSink receives audit records. Implementations must not fail the
// request: delivery errors are logged and dropped.
type AuditSink interface {
	Audit(ctx context.Context, record AuditRecord)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, record AuditRecord)

// Audit implements AuditSink.
func (f AuditSinkFunc) Audit(ctx context.Context, record AuditRecord) { f(ctx, record) }

// LogAuditSink writes audit records to the structured logger.
type LogAuditSink struct {
	logger logger.Logger
}

// NewLogAuditSink creates a LogAuditSink.
func NewLogAuditSink(log logger.Logger) *LogAuditSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogAuditSink{logger: log}
}

// Audit implements AuditSink.
func (s *LogAuditSink) Audit(ctx context.Context, record AuditRecord) {
	fields := []any{
		"audit", true,
		"resource", record.Resource,
		"operation", record.Operation,
		"actor", record.Actor,
		"ids", record.IDs,
		"timestamp", record.Timestamp,
	}
	if record.Before != nil {
		fields = append(fields, "before", record.Before)
	}
	if record.After != nil {
		fields = append(fields, "after", record.After)
	}
	s.logger.WithContext(ctx).Info("audit", fields...)
}

// KafkaAuditConfig configures the Kafka audit sink.
type KafkaAuditConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	MaxAttempts  int
	// QueueSize bounds the records waiting for the publisher. Records are
	// dropped with a warning when it is full.
	QueueSize int
}

const (
	defaultAuditQueueSize    = 1024
	defaultAuditBatchTimeout = 10 * time.Millisecond
)

// KafkaAuditSink publishes audit records as JSON messages keyed by resource.
// Audit only enqueues; a single goroutine publishes, so a slow broker never
// delays the response. Close drains the queue.
type KafkaAuditSink struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  logger.Logger

	queue chan auditMessage
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

type auditMessage struct {
	ctx    context.Context
	record AuditRecord
	msg    kafka.Message
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaAuditSink creates a sink writing to cfg.Topic.
func NewKafkaAuditSink(cfg KafkaAuditConfig, log logger.Logger) (*KafkaAuditSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("audit topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: defaultAuditBatchTimeout,
	}
	log = nonNilLogger(log)
	log.Info("kafka audit sink initialized", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafkaAuditSink(writer, cfg.Topic, cfg.WriteTimeout, cfg.QueueSize, log), nil
}

func newKafkaAuditSink(w messageWriter, topic string, timeout time.Duration, queueSize int, log logger.Logger) *KafkaAuditSink {
	if queueSize <= 0 {
		queueSize = defaultAuditQueueSize
	}
	s := &KafkaAuditSink{
		writer:  w,
		topic:   topic,
		timeout: timeout,
		logger:  nonNilLogger(log),
		queue:   make(chan auditMessage, queueSize),
		done:    make(chan struct{}),
	}
	go s.publishLoop()
	return s
}

// Audit implements AuditSink. It never blocks on the broker.
func (s *KafkaAuditSink) Audit(ctx context.Context, record AuditRecord) {
	value, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("failed to encode audit record", "resource", record.Resource, "error", err)
		return
	}
	item := auditMessage{
		// the request is answered before publishing; detach from its cancellation
		ctx:    context.WithoutCancel(ctx),
		record: record,
		msg: kafka.Message{
			Key:   []byte(record.Resource),
			Value: value,
			Time:  record.Timestamp,
			Headers: []kafka.Header{
				{Key: "operation", Value: []byte(record.Operation)},
			},
		},
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("audit record dropped, sink is closed", "resource", record.Resource, "operation", record.Operation)
		return
	}
	select {
	case s.queue <- item:
	default:
		s.logger.Warn("audit record dropped, queue is full", "resource", record.Resource, "operation", record.Operation)
	}
}

func (s *KafkaAuditSink) publishLoop() {
	defer close(s.done)
	for item := range s.queue {
		s.publish(item)
	}
}

func (s *KafkaAuditSink) publish(item auditMessage) {
	ctx, cancel := context.WithTimeout(item.ctx, s.timeout)
	defer cancel()
	ctx, span := tracing.StartMessagingSpan(ctx, "kafka", s.topic)
	err := s.writer.WriteMessages(ctx, item.msg)
	tracing.End(span, err)
	if err != nil {
		s.logger.Error("failed to publish audit record",
			"topic", s.topic,
			"resource", item.record.Resource,
			"operation", item.record.Operation,
			"error", err,
		)
	}
}

// Close stops accepting records, publishes the queued ones and closes the
// underlying writer.
func (s *KafkaAuditSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}

func nonNilLogger(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.Nop()
	}
	return log
}
