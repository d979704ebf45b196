package leads

import "errors"

var (
	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")

	// ErrDuplicatePhone is returned when another lead already owns the phone number
	ErrDuplicatePhone = errors.New("lead with this phone already exists")

	// ErrMissingPhone is returned when a lead is created without a phone number
	ErrMissingPhone = errors.New("phone is required")

	// ErrMissingID is returned when an update targets a lead without an id
	ErrMissingID = errors.New("lead id is required")
)
