package storage

import (
	"strings"

	"github.com/timmy/docpipe/internal/config"
)

// NewStorage builds the ObjectStorage described by the storage config section.
func NewStorage(cfg *config.StorageConfig) (*S3Storage, error) {
	storeType := StorageType(cfg.Type)
	if storeType == "" || (storeType == StorageTypeS3 && cfg.Endpoint != "") {
		storeType = detectStorageType(cfg.Endpoint)
	}

	return NewS3Storage(&S3Config{
		Type:      storeType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
	})
}

func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "":
		return StorageTypeS3
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}

// DocumentKey is where an uploaded document for userID is stored.
func DocumentKey(userID, objectID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "pdf"
	}
	return "users/" + userID + "/documents/" + objectID + "." + ext
}
