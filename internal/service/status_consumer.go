package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
)

// StatusUpdater applies a status change to a document.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, documentID string, status domain.IngestionStatus, details, summary string) (*domain.IngestionLog, error)
}

// DLQRouter parks events that could not be applied.
type DLQRouter interface {
	SendToDLQ(ctx context.Context, event string, data []byte, cause error) error
}

// StatusUpdateConsumer handles status-update messages from the ingestion
// worker. Handle never returns an error: every failure ends in the DLQ and
// the message is acknowledged by the transport.
type StatusUpdateConsumer struct {
	updater StatusUpdater
	dlq     DLQRouter
	logger  *logger.Logger
}

func NewStatusUpdateConsumer(updater StatusUpdater, dlq DLQRouter, log *logger.Logger) *StatusUpdateConsumer {
	return &StatusUpdateConsumer{
		updater: updater,
		dlq:     dlq,
		logger:  log.WithComponent("status-consumer"),
	}
}

// Handle validates one message body and applies it.
func (c *StatusUpdateConsumer) Handle(ctx context.Context, body []byte) error {
	log := c.logger.WithField(logger.FieldEvent, domain.EventDocumentStatusUpdate)

	payload, ok := unwrapEnvelope(body)
	if !ok {
		log.WithField(logger.FieldSize, len(body)).Warn("Status update is not a JSON object")
		c.toDLQ(ctx, log, body, nil)
		return nil
	}

	event, status, err := decodeStatusUpdate(payload)
	if err != nil {
		log.WithError(err).Warn("Invalid status update payload")
		c.toDLQ(ctx, log, payload, err)
		return nil
	}

	log = log.WithFields(logger.Fields{
		logger.FieldDocumentID: event.DocumentID,
		logger.FieldStatus:     string(status),
	})
	ctx = log.WithContext(ctx)

	var details, summary string
	if event.Details != nil {
		details = *event.Details
	}
	if event.Summary != nil {
		summary = *event.Summary
	}

	if _, err := c.updater.UpdateStatus(ctx, event.DocumentID, status, details, summary); err != nil {
		log.WithError(err).Error("Failed to apply status update")
		c.toDLQ(ctx, log, payload, err)
		return nil
	}
	return nil
}

func (c *StatusUpdateConsumer) toDLQ(ctx context.Context, log *logger.Logger, data []byte, cause error) {
	if err := c.dlq.SendToDLQ(ctx, domain.EventDocumentStatusUpdate, data, cause); err != nil {
		log.WithError(err).Error("Failed to route status update to DLQ")
	}
}

// unwrapEnvelope returns the event object from body. Producers that speak the
// {"pattern": ..., "data": {...}} message convention are accepted too.
func unwrapEnvelope(body []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(body)
	var fields map[string]json.RawMessage
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &fields) != nil {
		return nil, false
	}

	_, hasPattern := fields["pattern"]
	data, hasData := fields["data"]
	if hasPattern && hasData {
		inner := bytes.TrimSpace(data)
		if len(inner) > 0 && inner[0] == '{' {
			return inner, true
		}
	}
	return trimmed, true
}

// decodeStatusUpdate enforces the inbound event shape: string documentId and
// status, status one of the known values, details and summary strings when present.
func decodeStatusUpdate(payload []byte) (*domain.StatusUpdateEvent, domain.IngestionStatus, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	documentID, err := requiredString(fields, "documentId")
	if err != nil {
		return nil, "", err
	}
	rawStatus, err := requiredString(fields, "status")
	if err != nil {
		return nil, "", err
	}
	status, err := domain.ParseIngestionStatus(rawStatus)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	event := &domain.StatusUpdateEvent{DocumentID: documentID, Status: rawStatus}
	if event.Details, err = optionalString(fields, "details"); err != nil {
		return nil, "", err
	}
	if event.Summary, err = optionalString(fields, "summary"); err != nil {
		return nil, "", err
	}
	return event, status, nil
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedEvent, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformedEvent, key)
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty %s", ErrMalformedEvent, key)
	}
	return s, nil
}

func optionalString(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %s must be a string", ErrMalformedEvent, key)
	}
	return &s, nil
}
