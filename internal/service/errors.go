package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/internal/store/model"
)

type ErrValidation struct {
	error
}

func NewErrValidation(format string, args ...any) *ErrValidation {
	return &ErrValidation{fmt.Errorf(format, args...)}
}

type ErrConflict struct {
	error
}

func NewErrConflict(format string, args ...any) *ErrConflict {
	return &ErrConflict{fmt.Errorf(format, args...)}
}

func NewErrAnalysisExists(owner, name string) *ErrConflict {
	return NewErrConflict("analysis %q already exists for %s", name, owner)
}

type ErrNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrNotFound {
	return &ErrNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrAnalysisNotFound(id uuid.UUID) *ErrNotFound {
	return NewErrResourceNotFound(id, "analysis")
}

func NewErrJobNotFound(id uuid.UUID) *ErrNotFound {
	return NewErrResourceNotFound(id, "job")
}

type ErrForbidden struct {
	error
}

func NewErrForbidden(actor string, id uuid.UUID) *ErrForbidden {
	return &ErrForbidden{fmt.Errorf("%s is not allowed to manage analysis %s", actor, id)}
}

// ErrTransientStore wraps a store failure the caller may retry.
type ErrTransientStore struct {
	error
}

func NewErrTransientStore(err error) *ErrTransientStore {
	return &ErrTransientStore{fmt.Errorf("store unavailable: %w", err)}
}

type ErrWorkerUnavailable struct {
	error
}

func NewErrWorkerUnavailable(err error) *ErrWorkerUnavailable {
	return &ErrWorkerUnavailable{fmt.Errorf("WorkerUnavailable: %w", err)}
}

type ErrPublish struct {
	error
}

func NewErrPublish(err error) *ErrPublish {
	return &ErrPublish{err}
}

// analysisError maps a store error about analysis id to a service error.
func analysisError(id uuid.UUID, err error) error {
	switch {
	case errors.Is(err, store.ErrRecordNotFound):
		return NewErrAnalysisNotFound(id)
	case errors.Is(err, model.ErrAnalysisLocked):
		return NewErrConflict("analysis %s is locked", id)
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, store.ErrStatusConflict):
		return NewErrConflict("analysis %s: %w", id, err)
	case errors.Is(err, store.ErrDuplicateKey):
		return NewErrConflict("analysis name already in use: %w", err)
	case errors.Is(err, model.ErrDataTypeMismatch):
		return NewErrConflict("analysis %s: %w", id, err)
	case errors.Is(err, model.ErrNotMember):
		return NewErrValidation("analysis %s: %w", id, err)
	default:
		return NewErrTransientStore(err)
	}
}
