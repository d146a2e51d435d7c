package backend

import "errors"

// Sentinel errors for backend calls.
var (
	// ErrAuthorization is returned when the backend rejects a request, cannot
	// be reached, or returns an unusable body.
	ErrAuthorization = errors.New("backend: authorization failed")

	// ErrMalformedResponse is returned alongside ErrAuthorization when a 2xx
	// response is missing doors, user, or iot.url_address.
	ErrMalformedResponse = errors.New("backend: malformed response")
)
