package mailstore

import (
	"errors"

	"github.com/ProtonMail/mailstore/backend"
)

// IsNotFound returns true if the error reports a missing mailbox, message or content.
func IsNotFound(err error) bool {
	return errors.Is(err, backend.ErrNotFound)
}

// IsStorageIO returns true if the error comes from a failed backend operation.
func IsStorageIO(err error) bool {
	return errors.Is(err, backend.ErrStorageIO)
}

// IsPrecondition returns true if the error reports a rejected call, such as a duplicate mailbox name.
func IsPrecondition(err error) bool {
	return errors.Is(err, backend.ErrPrecondition)
}
