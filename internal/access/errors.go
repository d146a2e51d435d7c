package access

import "errors"

// Sentinel errors for the access pipeline.
//
// The first three are rejections: the event was dropped before any side
// effect. They are returned so transports can report status, never logged
// as failures.
var (
	// ErrInvalidEvent is returned for an event that cannot be decoded or is
	// missing its device id or payload.
	ErrInvalidEvent = errors.New("access: invalid event")

	// ErrNotScanEvent is returned for a well-formed device message that is
	// not a credential scan.
	ErrNotScanEvent = errors.New("access: not a scan event")

	// ErrScanInProgress is returned when the device already has a scan
	// being processed.
	ErrScanInProgress = errors.New("access: scan already in progress for device")

	// ErrActivationFailed wraps a failure of the door opening sequence.
	// The device screen has already been compensated when it is returned.
	ErrActivationFailed = errors.New("access: relay activation failed")
)
