package sheetsync

import "errors"

var (
	ErrHeadersUnavailable = errors.New("headers unavailable")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidResponse    = errors.New("invalid service response")
	ErrMissingResource    = errors.New("resource name is required")
	ErrLoginFailed        = errors.New("login failed")
	ErrRemoteRequired     = errors.New("remote is required")
	ErrRecordNotFound     = errors.New("record not found")
	ErrNoCodeColumn       = errors.New("sheet has no Code column")
)
