package domain

import "errors"

// Client-caused registration failures.
var (
	ErrValidation         = errors.New("all fields are required")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidDateOfBirth = errors.New("invalid date of birth")
	ErrDuplicate          = errors.New("email already registered")
)

// System failures.
var (
	ErrNotFound = errors.New("user not found")
	ErrStorage  = errors.New("storage failure")
	ErrDelivery = errors.New("mail delivery failure")
	ErrScan     = errors.New("birthday scan failure")
)

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrInvalidDateOfBirth) ||
		errors.Is(err, ErrDuplicate)
}
