package vault

import (
	"errors"
	"fmt"
)

// ErrValidation is returned when entry fields fail validation.
var ErrValidation = errors.New("validation failed")

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
