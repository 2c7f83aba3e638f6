package payments

import "errors"

var (
	ErrInvalidOrderID = errors.New("invalid order id")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrMissingDomain  = errors.New("missing domain")

	// ErrBadSignature means the notification's signature does not match.
	ErrBadSignature = errors.New("bad signature")
	// ErrMalformedNotification means a required notification field is empty.
	ErrMalformedNotification = errors.New("malformed notification")
)
