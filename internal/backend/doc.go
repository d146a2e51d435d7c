// Package backend is the HTTP client for the access authorization API.
//
// The backend owns users, doors and device registrations. The gateway asks
// it two questions:
//
//   - Authorize: who does this scanned QR code belong to, and which doors
//     behind this reader may they open? (POST /iot_socket)
//   - AuthorizeByDoor: may this QR code open this specific door? Used when a
//     user picks one door from a multi-door result. (POST /get_access_qr)
//
// Both return an AuthorizationResult holding the user, the doors, and the
// HTTP address of the controller that drives them.
//
// # Errors
//
// Every failure wraps ErrAuthorization. A response that decodes but lacks a
// required field also wraps ErrMalformedResponse, so callers can tell
// "backend said no" from "backend sent garbage":
//
//	res, err := client.Authorize(ctx, qr, deviceID)
//	if errors.Is(err, backend.ErrMalformedResponse) {
//	    // contract broken
//	}
//
// # Thread Safety
//
// Client is safe for concurrent use.
package backend
