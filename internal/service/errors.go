package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrAlreadyInProgress = errors.New("ingestion already in progress")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUpdateFailed      = errors.New("failed to update ingestion status")

	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)
