package auth

import (
	"errors"
	"fmt"

	"github.com/router-for-me/clipify/internal/auth/clipify"
)

// ErrNotFound is returned by a Backend when a key holds no value.
var ErrNotFound = errors.New("clipify auth: secret not found")

// storageError classifies a persistence failure as a storage_error.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clipify.AsAuthError(err); ok {
		return err
	}
	return clipify.WrapAuthError(clipify.ErrStorage, fmt.Errorf("token store %s: %w", op, err))
}
