package domain

import (
	"fmt"
	"strings"
)

// IngestionStatus is the coarse ingestion state of a document and the snapshot stored on each log.
type IngestionStatus string

const (
	StatusPending    IngestionStatus = "pending"
	StatusStarted    IngestionStatus = "started"
	StatusProcessing IngestionStatus = "processing"
	StatusCompleted  IngestionStatus = "completed"
	StatusFailed     IngestionStatus = "failed"
)

// AllStatuses lists every valid status in lifecycle order.
var AllStatuses = []IngestionStatus{
	StatusPending,
	StatusStarted,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// ParseIngestionStatus accepts any casing of a known status.
func ParseIngestionStatus(s string) (IngestionStatus, error) {
	candidate := IngestionStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range AllStatuses {
		if st == candidate {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown ingestion status %q", s)
}

// IsValid reports whether s is one of the five statuses.
func (s IngestionStatus) IsValid() bool {
	_, err := ParseIngestionStatus(string(s))
	return err == nil
}

// IsTerminal reports whether no further events are expected for the current attempt.
func (s IngestionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s IngestionStatus) String() string {
	return string(s)
}
