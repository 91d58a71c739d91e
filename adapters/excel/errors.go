package excel

import "errors"

var (
	// ErrMissingFilePath is returned when file path is not specified
	ErrMissingFilePath = errors.New("file path is required")

	// ErrSheetNotFound is returned when the requested sheet doesn't exist
	ErrSheetNotFound = errors.New("sheet not found")

	// ErrInvalidCredentials is returned by Authenticate for an unknown user
	// or a wrong password
	ErrInvalidCredentials = errors.New("invalid email or password")
)
