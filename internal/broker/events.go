package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/domain"
)

// Queues are the queue names the service publishes to and consumes from.
type Queues struct {
	Ingestion    string
	StatusUpdate string
	DLQ          string
}

// QueuesFromConfig falls back to the event names for any queue left unset.
func QueuesFromConfig(cfg *config.BrokerConfig) Queues {
	q := Queues{
		Ingestion:    cfg.IngestionQueue,
		StatusUpdate: cfg.StatusUpdateQueue,
		DLQ:          cfg.DLQ,
	}
	if q.Ingestion == "" {
		q.Ingestion = domain.EventDocumentIngestion
	}
	if q.StatusUpdate == "" {
		q.StatusUpdate = domain.EventDocumentStatusUpdate
	}
	if q.DLQ == "" {
		q.DLQ = domain.EventDocumentStatusUpdateDLQ
	}
	return q
}

// EventPublisher publishes the service's outbound events.
type EventPublisher struct {
	pub    Publisher
	queues Queues
}

// NewEventPublisher creates a publisher for the ingestion and DLQ queues.
// Parameters:
//   - pub: transport used for sending.
//   - queues: queue names.
// Returns:
//   - *EventPublisher: publisher bound to the queues.
func NewEventPublisher(pub Publisher, queues Queues) *EventPublisher {
	return &EventPublisher{pub: pub, queues: queues}
}

// PublishDocumentIngestion hands a document to the ingestion worker.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - event: work item for the ingestion worker.
// Returns:
//   - error: non-nil if the transport rejects the message.
func (p *EventPublisher) PublishDocumentIngestion(ctx context.Context, event domain.WorkEvent) error {
	if err := p.pub.Publish(ctx, p.queues.Ingestion, event); err != nil {
		return fmt.Errorf("publish %s for document %s: %w", domain.EventDocumentIngestion, event.DocumentID, err)
	}
	return nil
}

// SendToDLQ parks an event that could not be applied. data is kept verbatim
// when it is valid JSON and stored as a JSON string otherwise.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - event: name of the event that failed.
//   - data: original message body.
//   - cause: why it failed; nil when the body was unreadable.
// Returns:
//   - error: non-nil if the transport rejects the message.
func (p *EventPublisher) SendToDLQ(ctx context.Context, event string, data []byte, cause error) error {
	msg := domain.DLQMessage{
		Event: event,
		Data:  preserve(data),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	if err := p.pub.Publish(ctx, p.queues.DLQ, msg); err != nil {
		return fmt.Errorf("publish %s to dlq: %w", event, err)
	}
	return nil
}

func preserve(data []byte) json.RawMessage {
	if len(data) > 0 && json.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}

// Consumer drains one queue of a Transport.
type Consumer struct {
	transport Transport
	queue     string
}

func NewConsumer(transport Transport, queue string) *Consumer {
	return &Consumer{transport: transport, queue: queue}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	return c.transport.Consume(ctx, c.queue, handler)
}
