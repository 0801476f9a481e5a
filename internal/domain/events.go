package domain

import "encoding/json"

// Event names shared with the external ingestion worker.
const (
	EventDocumentIngestion       = "document_ingestion"
	EventDocumentStatusUpdate    = "document_status_update"
	EventDocumentStatusUpdateDLQ = "document_status_update_dlq"
)

// WorkEvent asks the external worker to process a document.
type WorkEvent struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	AttemptID  int    `json:"attemptId"`
	StorageKey string `json:"storageKey"`
}

// StatusUpdateEvent is the worker's report of a status change. Optional
// fields are pointers so that an absent field can be told apart from an empty one.
type StatusUpdateEvent struct {
	DocumentID string  `json:"documentId"`
	Status     string  `json:"status"`
	Details    *string `json:"details,omitempty"`
	Summary    *string `json:"summary,omitempty"`
}

// DLQMessage wraps an event that could not be validated or applied.
type DLQMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}
