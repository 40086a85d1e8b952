package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	ErrStatusConflict = errors.New("status changed concurrently")
	ErrNotSupported   = errors.New("operation not supported by this store")
)
