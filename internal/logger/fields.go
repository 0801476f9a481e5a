package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Tracing fields (propagated through context)
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldUserID is the authenticated principal
	FieldUserID = "user_id"

	// FieldDocumentID is the document being ingested
	FieldDocumentID = "document_id"

	// FieldAttemptID is the ingestion attempt number
	FieldAttemptID = "attempt_id"

	// FieldQueue is the broker queue a message came from or goes to
	FieldQueue = "queue"

	// FieldEvent is the event name of a broker message
	FieldEvent = "event"
)

// ============================================
// Metric fields (Entry level)
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
