package device

import "errors"

// ErrDeviceComm is returned when a controller cannot be reached or rejects
// an instruction. Callers decide whether it is fatal for the current event.
//
//	if errors.Is(err, device.ErrDeviceComm) {
//	    // compensate on the screen
//	}
var ErrDeviceComm = errors.New("device: communication failed")
