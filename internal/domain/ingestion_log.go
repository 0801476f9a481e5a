package domain

import (
	"fmt"
	"time"
)

// IngestionLog is one append-only entry in a document's attempt history.
// Rows are never updated; they are removed only together with their document.
type IngestionLog struct {
	ID         string          `gorm:"type:text;primaryKey" json:"id"`
	DocumentID string          `gorm:"column:document_id;type:text;not null;index:idx_ingestion_log_document_id" json:"documentId"`
	AttemptID  int             `gorm:"column:attempt_id;not null;index:idx_ingestion_log_attempt_id" json:"attemptId"`
	Status     IngestionStatus `gorm:"type:text;not null" json:"status"`
	Details    string          `gorm:"type:text" json:"details"`
	CreatedAt  time.Time       `gorm:"index:idx_ingestion_log_created_at" json:"createdAt"`
}

func (IngestionLog) TableName() string {
	return "ingestion_logs"
}

// NextAttemptID applies the attempt numbering rule.
// The first entry of a document is attempt 1. A STARTED entry that follows a
// terminal entry opens the next attempt; every other entry stays in the latest one.
func NextAttemptID(last *IngestionLog, status IngestionStatus) int {
	if last == nil {
		return 1
	}
	if status == StatusStarted && last.Status.IsTerminal() {
		return last.AttemptID + 1
	}
	return last.AttemptID
}

// DefaultLogDetails is the details text used when an event carries none.
func DefaultLogDetails(status IngestionStatus) string {
	return fmt.Sprintf("Document status updated to %s", status)
}
