// Package uuid provides UUID generation and validation utilities.
// Queue operations use random v4 ids; records use time-ordered v7 ids so
// that lexical order follows creation order.
package uuid

import (
	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewTimeOrdered generates a UUID v7, falling back to v4 if the clock source fails.
func NewTimeOrdered() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValidAny reports whether s parses as a UUID of any version.
func IsValidAny(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// ValidateRecordID returns INVALID_INPUT unless id is a UUID.
func ValidateRecordID(id string) error {
	if !IsValidAny(id) {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid record id %q", id)
	}
	return nil
}
