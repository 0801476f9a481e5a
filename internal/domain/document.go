package domain

import "time"

// Document is an uploaded file and its current ingestion status.
// Status is only changed by the ingestion service, inside a transaction that also appends an IngestionLog.
type Document struct {
	ID          string          `gorm:"type:text;primaryKey" json:"id"`
	UserID      string          `gorm:"column:user_id;type:text;not null;index:idx_document_user_id" json:"userId"`
	Title       string          `gorm:"type:text;not null" json:"title"`
	StorageKey  string          `gorm:"column:s3_key;type:text;not null" json:"storageKey"`
	ContentType string          `gorm:"type:text" json:"contentType"`
	FileSize    int64           `json:"fileSize"`
	PageCount   int             `json:"pageCount"`
	Summary     *string         `gorm:"type:text" json:"summary"`
	Status      IngestionStatus `gorm:"type:text;not null;default:pending;index:idx_document_status" json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (Document) TableName() string {
	return "documents"
}

// OwnedBy reports whether userID owns the document.
func (d *Document) OwnedBy(userID string) bool {
	return d.UserID == userID
}
