package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/docpipe/internal/broker"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/repository"
)

type updateCall struct {
	documentID string
	status     domain.IngestionStatus
	details    string
	summary    string
}

type fakeUpdater struct {
	calls []updateCall
	err   error
}

func (u *fakeUpdater) UpdateStatus(_ context.Context, documentID string, status domain.IngestionStatus, details, summary string) (*domain.IngestionLog, error) {
	u.calls = append(u.calls, updateCall{documentID, status, details, summary})
	if u.err != nil {
		return nil, u.err
	}
	return &domain.IngestionLog{DocumentID: documentID, Status: status, AttemptID: 1}, nil
}

type dlqEntry struct {
	event string
	data  []byte
	cause error
}

type fakeDLQ struct {
	entries []dlqEntry
	err     error
}

func (d *fakeDLQ) SendToDLQ(_ context.Context, event string, data []byte, cause error) error {
	d.entries = append(d.entries, dlqEntry{event, data, cause})
	return d.err
}

func TestStatusUpdateConsumer_RejectsMalformedPayloads(t *testing.T) {
	tests := map[string]string{
		"not json":             `hello`,
		"json array":           `[{"documentId":"d1","status":"completed"}]`,
		"json string":          `"completed"`,
		"missing status":       `{"documentId":"d1"}`,
		"missing documentId":   `{"status":"completed"}`,
		"null status":          `{"documentId":"d1","status":null}`,
		"numeric documentId":   `{"documentId":42,"status":"completed"}`,
		"unknown status":       `{"documentId":"d1","status":"DONE"}`,
		"empty documentId":     `{"documentId":"","status":"completed"}`,
		"non string details":   `{"documentId":"d1","status":"failed","details":{"code":1}}`,
		"non string summary":   `{"documentId":"d1","status":"completed","summary":7}`,
		"envelope with no doc": `{"pattern":"document_status_update","data":{"status":"failed"}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			updater := &fakeUpdater{}
			dlq := &fakeDLQ{}
			c := NewStatusUpdateConsumer(updater, dlq, testLogger())

			require.NoError(t, c.Handle(context.Background(), []byte(body)))
			assert.Empty(t, updater.calls, "update must not be called")
			require.Len(t, dlq.entries, 1)
			assert.Equal(t, domain.EventDocumentStatusUpdate, dlq.entries[0].event)
		})
	}
}

func TestStatusUpdateConsumer_ShapeErrorsCarryCause(t *testing.T) {
	dlq := &fakeDLQ{}
	c := NewStatusUpdateConsumer(&fakeUpdater{}, dlq, testLogger())

	require.NoError(t, c.Handle(context.Background(), []byte(`{"documentId":"d1"}`)))
	require.Len(t, dlq.entries, 1)
	assert.ErrorIs(t, dlq.entries[0].cause, ErrMalformedEvent)
	assert.JSONEq(t, `{"documentId":"d1"}`, string(dlq.entries[0].data))
}

func TestStatusUpdateConsumer_NonObjectKeepsRawBody(t *testing.T) {
	dlq := &fakeDLQ{}
	c := NewStatusUpdateConsumer(&fakeUpdater{}, dlq, testLogger())

	require.NoError(t, c.Handle(context.Background(), []byte("garbage")))
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "garbage", string(dlq.entries[0].data))
	assert.Nil(t, dlq.entries[0].cause)
}

func TestStatusUpdateConsumer_AppliesWellFormedEvent(t *testing.T) {
	tests := []struct {
		name string
		body string
		want updateCall
	}{
		{
			name: "all fields",
			body: `{"documentId":"d1","status":"completed","details":"done","summary":"ok"}`,
			want: updateCall{"d1", domain.StatusCompleted, "done", "ok"},
		},
		{
			name: "upper case status",
			body: `{"documentId":"d1","status":"PROCESSING"}`,
			want: updateCall{"d1", domain.StatusProcessing, "", ""},
		},
		{
			name: "null optionals",
			body: `{"documentId":"d1","status":"failed","details":null,"summary":null}`,
			want: updateCall{"d1", domain.StatusFailed, "", ""},
		},
		{
			name: "message envelope",
			body: `{"pattern":"document_status_update","data":{"documentId":"d1","status":"started"}}`,
			want: updateCall{"d1", domain.StatusStarted, "", ""},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			updater := &fakeUpdater{}
			dlq := &fakeDLQ{}
			c := NewStatusUpdateConsumer(updater, dlq, testLogger())

			require.NoError(t, c.Handle(context.Background(), []byte(tc.body)))
			require.Len(t, updater.calls, 1)
			assert.Equal(t, tc.want, updater.calls[0])
			assert.Empty(t, dlq.entries)
		})
	}
}

func TestStatusUpdateConsumer_UpdateErrorGoesToDLQ(t *testing.T) {
	updater := &fakeUpdater{err: ErrNotFound}
	dlq := &fakeDLQ{err: errors.New("dlq unavailable")}
	c := NewStatusUpdateConsumer(updater, dlq, testLogger())

	body := `{"documentId":"d1","status":"completed"}`
	require.NoError(t, c.Handle(context.Background(), []byte(body)))
	require.Len(t, updater.calls, 1)
	require.Len(t, dlq.entries, 1)
	assert.ErrorIs(t, dlq.entries[0].cause, ErrNotFound)
	assert.JSONEq(t, body, string(dlq.entries[0].data))
}

// recordingBroker captures what the EventPublisher sends.
type recordingBroker struct {
	queues []string
	bodies [][]byte
}

func (b *recordingBroker) Publish(_ context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.queues = append(b.queues, queue)
	b.bodies = append(b.bodies, body)
	return nil
}

func TestStatusUpdateConsumer_MissingDocumentEndToEnd(t *testing.T) {
	db := newTestDB(t)
	svc := NewIngestionService(
		repository.NewDocumentRepository(db),
		repository.NewIngestionLogRepository(db),
		repository.NewTransactor(db, 5*time.Second),
		&fakePublisher{}, newMemStorage(), testLogger(), nil,
	)
	rb := &recordingBroker{}
	events := broker.NewEventPublisher(rb, broker.Queues{DLQ: domain.EventDocumentStatusUpdateDLQ})
	c := NewStatusUpdateConsumer(svc, events, testLogger())

	body := `{"documentId":"ghost","status":"completed","summary":"ok"}`
	require.NoError(t, c.Handle(context.Background(), []byte(body)))

	require.Equal(t, []string{domain.EventDocumentStatusUpdateDLQ}, rb.queues)
	var msg domain.DLQMessage
	require.NoError(t, json.Unmarshal(rb.bodies[0], &msg))
	assert.Equal(t, domain.EventDocumentStatusUpdate, msg.Event)
	assert.JSONEq(t, body, string(msg.Data))
	assert.Contains(t, msg.Error, "not found")
	assert.Contains(t, msg.Error, "ghost")
}

func TestStatusUpdateConsumer_CompletesDocumentEndToEnd(t *testing.T) {
	h := newIngestionHarness(t)
	ctx := context.Background()
	seedDocument(t, h.db, "doc-1", "user-a", domain.StatusPending)
	_, err := h.svc.StartIngestion(ctx, "doc-1", "user-a")
	require.NoError(t, err)

	dlq := &fakeDLQ{}
	c := NewStatusUpdateConsumer(h.svc, dlq, testLogger())
	require.NoError(t, c.Handle(ctx, []byte(`{"documentId":"doc-1","status":"COMPLETED","summary":"ok"}`)))
	assert.Empty(t, dlq.entries)

	doc := h.document(t, "doc-1")
	assert.Equal(t, domain.StatusCompleted, doc.Status)
	require.NotNil(t, doc.Summary)
	assert.Equal(t, "ok", *doc.Summary)

	history := h.history(t, "doc-1")
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].AttemptID)
	assert.Equal(t, domain.StatusCompleted, history[0].Status)
}
