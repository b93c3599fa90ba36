package chat

import "errors"

var (
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("invalid request")
	ErrPersistence = errors.New("operation failed")
)

// PublicMessage is the text shown to the requester for err.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPersistence):
		return ErrPersistence.Error()
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotFound), errors.Is(err, ErrValidation):
		return err.Error()
	default:
		return ErrPersistence.Error()
	}
}
