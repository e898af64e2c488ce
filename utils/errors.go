package utils

import "errors"

// Hard errors surface to the HTTP layer; soft conditions (unknown callback,
// amount mismatch) are logged in place and never reach the caller.
var (
	ErrAuthentication     = errors.New("failed to authenticate with M-Pesa")
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
	ErrProjectNotFound    = errors.New("project not found")
	ErrProviderTransport  = errors.New("M-Pesa request failed")
)
