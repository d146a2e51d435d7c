// Package access is the event processing core of the gateway.
//
// A door controller reports a credential read (a scan event). The Processor
// asks the backend who the credential belongs to and which doors it opens,
// then either opens the single door or asks the user's UI to choose one.
//
// # Flow
//
//	scan event ──▶ Validate ──▶ InFlightSet.TryAcquire ──▶ Authorize
//	                                                         │
//	                         ┌───────────── 1 door ──────────┤
//	                         ▼                               ▼ >1 doors
//	       broadcast access_{user}_success      broadcast user_{user}_access
//	                         │                  (UI answers with user_access)
//	                         ▼
//	                  Activator.Activate
//	          relay ▶ permit screen ▶ wait ▶ idle screen
//	                (any failure: error screen ▶ wait ▶ idle)
//
// # Duplicate scans
//
// Readers report the same QR code several times while it stays in front of
// the camera. InFlightSet holds one entry per device while its scan is
// processed; a second scan for that device is rejected with
// ErrScanInProgress before any backend call. The entry is always released,
// on success or failure.
//
// # Errors
//
// Rejections (ErrInvalidEvent, ErrNotScanEvent, ErrScanInProgress) are
// returned to the transport. Everything after acceptance is logged,
// compensated on the device screen, and reported to Recorders as a Result;
// it never reaches the transport or the real-time channel.
//
// # Usage
//
//	activator := access.NewActivator(sender, access.ActivatorConfigFrom(cfg.Access, loc), log)
//	proc, err := access.NewProcessor(access.Deps{
//	    Authorizer:  backendClient,
//	    Commander:   sender,
//	    Activator:   activator,
//	    Broadcaster: hub,
//	    Logger:      log,
//	})
//	ev, err := access.ParseScanEvent(msg)
//	err = proc.Submit(ctx, ev)
package access
