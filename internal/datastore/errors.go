package datastore

import (
	"strings"

	"gorm.io/gorm"

	"github.com/openledger/imageledger/internal/errors"
)

// Sentinel errors for repository operations. Callers match these with
// errors.Is instead of inspecting driver errors.
var (
	// ErrDuplicateKey indicates a unique constraint violation.
	ErrDuplicateKey = errors.NewStd("duplicate key")

	// ErrImageNotFound indicates the requested image does not exist.
	ErrImageNotFound = errors.NewStd("image not found")

	// ErrTagNotFound indicates the requested tag does not exist.
	ErrTagNotFound = errors.NewStd("tag not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)

// isDuplicateKeyError recognizes unique violations from both drivers, with
// or without gorm's error translation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicateKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || // sqlite
		strings.Contains(msg, "duplicate entry") || // mysql 1062
		strings.Contains(msg, "duplicate key")
}

// dbError creates a categorized database error with context pairs.
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

// conflictError wraps a unique violation so that it matches both
// ErrDuplicateKey and the conflict category.
func conflictError(err error, operation string, batchSize int) error {
	return errors.New(errors.Join(ErrDuplicateKey, err)).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("operation", operation).
		Context("batch_size", batchSize).
		Build()
}
