package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jmuc-msm/onpass-socket/internal/backend"
	"github.com/jmuc-msm/onpass-socket/internal/metrics"
)

// defaultSuccessMessage is shown to the user when their door opens.
const defaultSuccessMessage = "Puerta abierta correctamente"

// Endpoint to device id mappings learned from scans. A door choice follows
// its scan within seconds; stale controllers age out after a day.
const (
	endpointTTL     = 24 * time.Hour
	endpointCleanup = time.Hour
)

// Authorizer resolves credentials. *backend.Client implements it.
type Authorizer interface {
	Authorize(ctx context.Context, qrPayload, deviceID string) (*backend.AuthorizationResult, error)
	AuthorizeByDoor(ctx context.Context, doorID int64, qrPayload string) (*backend.AuthorizationResult, error)
}

// Logger is the logging interface used by the access pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the collaborators of a Processor.
type Deps struct {
	Authorizer  Authorizer
	Commander   Commander
	Activator   *Activator
	Broadcaster Broadcaster

	// InFlight is the duplicate scan guard. Nil creates an empty one.
	InFlight *InFlightSet

	// Recorders receive every Result. Optional.
	Recorders []Recorder

	// SuccessMessage overrides the text of SuccessNotice.
	SuccessMessage string

	Logger Logger
}

// Processor is the scan state machine.
//
// Each scan moves Accepted -> Authorizing -> {door selection | activating}
// -> Done. A device leaves the in-flight set when its scan is Done,
// whatever the outcome.
//
// Thread Safety: all methods are safe for concurrent use. The in-flight
// set is the only state shared between concurrent scans.
type Processor struct {
	auth           Authorizer
	cmd            Commander
	activator      *Activator
	notify         Broadcaster
	inflight       *InFlightSet
	recorders      []Recorder
	successMessage string
	logger         Logger
	now            func() time.Time

	// endpoints maps a controller endpoint to the device id that last
	// scanned from it.
	endpoints *cache.Cache

	wg sync.WaitGroup
}

// NewProcessor creates a Processor.
//
// Returns:
//   - error: If Authorizer, Commander, Activator or Broadcaster is missing
func NewProcessor(deps Deps) (*Processor, error) {
	if deps.Authorizer == nil {
		return nil, errors.New("access: authorizer is required")
	}
	if deps.Commander == nil {
		return nil, errors.New("access: commander is required")
	}
	if deps.Activator == nil {
		return nil, errors.New("access: activator is required")
	}
	if deps.Broadcaster == nil {
		return nil, errors.New("access: broadcaster is required")
	}

	p := &Processor{
		auth:           deps.Authorizer,
		cmd:            deps.Commander,
		activator:      deps.Activator,
		notify:         deps.Broadcaster,
		inflight:       deps.InFlight,
		recorders:      deps.Recorders,
		successMessage: deps.SuccessMessage,
		logger:         deps.Logger,
		now:            time.Now,
		endpoints:      cache.New(endpointTTL, endpointCleanup),
	}
	if p.inflight == nil {
		p.inflight = NewInFlightSet()
	}
	if p.successMessage == "" {
		p.successMessage = defaultSuccessMessage
	}
	if p.logger == nil {
		p.logger = noopLogger{}
	}
	return p, nil
}

// HandleScan processes one scan event to completion.
//
// It returns an error only when the event is rejected before processing
// (ErrNotScanEvent, ErrInvalidEvent, ErrScanInProgress). Once accepted,
// failures are logged and compensated on the device, and nil is returned.
// Processing is detached from ctx cancellation: an accepted scan always
// runs to completion.
func (p *Processor) HandleScan(ctx context.Context, ev ScanEvent) error {
	if err := p.accept(ev); err != nil {
		return err
	}
	p.wg.Add(1)
	defer p.wg.Done()

	p.runScan(context.WithoutCancel(ctx), ev)
	return nil
}

// Submit accepts ev synchronously and processes it in the background.
// The rejection errors are the same as HandleScan. Use Wait to drain.
func (p *Processor) Submit(ctx context.Context, ev ScanEvent) error {
	if err := p.accept(ev); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runScan(context.WithoutCancel(ctx), ev)
	}()
	return nil
}

// Wait blocks until every accepted scan and door selection has finished
// or ctx is done.
func (p *Processor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the number of devices with a scan in progress.
func (p *Processor) InFlight() int {
	return p.inflight.Len()
}

func (p *Processor) accept(ev ScanEvent) error {
	if err := ev.Validate(); err != nil {
		reason := "invalid"
		if errors.Is(err, ErrNotScanEvent) {
			reason = "not_scan"
		}
		metrics.ScansRejectedTotal.WithLabelValues(reason).Inc()
		return err
	}
	if !p.inflight.TryAcquire(ev.DeviceID) {
		metrics.ScansRejectedTotal.WithLabelValues("in_progress").Inc()
		p.logger.Debug("duplicate scan dropped", "device_id", ev.DeviceID)
		return fmt.Errorf("%w: %s", ErrScanInProgress, ev.DeviceID)
	}
	metrics.ScansInFlight.Inc()
	return nil
}

func (p *Processor) release(deviceID string) {
	p.inflight.Release(deviceID)
	metrics.ScansInFlight.Dec()
}

// runScan processes an accepted scan, releases the device, then hands the
// Result to the recorders. A rescan is accepted while recorders run.
func (p *Processor) runScan(ctx context.Context, ev ScanEvent) {
	var res Result
	func() {
		defer p.release(ev.DeviceID)
		res = p.processScan(ctx, ev)
	}()
	p.finish(ctx, res)
}

// processScan runs an accepted scan. The caller owns the in-flight entry.
// Panics are recovered into a failed Result.
func (p *Processor) processScan(ctx context.Context, ev ScanEvent) (res Result) {
	res = Result{
		ID:        uuid.New(),
		Source:    SourceScan,
		DeviceID:  ev.DeviceID,
		StartedAt: p.now(),
	}
	logArgs := append([]any{"scan_id", res.ID.String(), "device_id", ev.DeviceID}, credentialFields(ev.Payload)...)
	p.logger.Info("scan accepted", logArgs...)

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("access: panic: %v", r)
			p.logger.Error("scan processing panicked", append(logArgs, "panic", r)...)
			p.resetScreen(ctx, res.Endpoint)
		}
	}()

	auth, err := p.authorize(ctx, "authorize", func() (*backend.AuthorizationResult, error) {
		return p.auth.Authorize(ctx, ev.Payload, ev.DeviceID)
	})
	if err != nil {
		res.Outcome = OutcomeAuthorizationFailed
		res.Err = err
		// No endpoint is known yet, so the device is not contacted.
		p.logger.Warn("scan authorization failed", append(logArgs, "error", err)...)
		return
	}

	res.Endpoint = auth.DeviceEndpoint
	res.UserID = auth.User.ID
	res.DoorIDs = doorIDs(auth.Doors)
	p.endpoints.SetDefault(auth.DeviceEndpoint, ev.DeviceID)

	if err := p.cmd.ShowLoading(ctx, auth.DeviceEndpoint); err != nil {
		p.logger.Warn("failed to show loading screen", append(logArgs, "error", err)...)
	}

	if len(auth.Doors) > 1 {
		p.notify.Broadcast(SelectDoorChannel(auth.User.ID), DoorSelection{
			Doors:    auth.Doors,
			FullName: auth.User.FullName,
			URL:      auth.DeviceEndpoint,
		})
		metrics.BroadcastsTotal.WithLabelValues("select_door").Inc()
		res.Outcome = OutcomeDoorSelection
		p.logger.Info("door selection requested", append(logArgs, "user_id", auth.User.ID, "doors", len(auth.Doors))...)
		return
	}

	res.Outcome, res.Err = p.openDoor(ctx, p.notify, auth)
	return
}

// HandleUserAccess opens the door a user picked after a door selection.
//
// It bypasses the duplicate scan guard. The success notice goes to notify,
// normally the client that asked; nil uses the processor's broadcaster.
// Errors are logged and returned for transport status only; nothing is
// sent on the real-time channel when the request fails.
func (p *Processor) HandleUserAccess(ctx context.Context, req UserAccessRequest, notify Broadcaster) (err error) {
	if err := req.Validate(); err != nil {
		return err
	}
	if notify == nil {
		notify = p.notify
	}

	p.wg.Add(1)
	defer p.wg.Done()
	ctx = context.WithoutCancel(ctx)

	res := Result{
		ID:        uuid.New(),
		Source:    SourceDoorSelect,
		DoorIDs:   []int64{req.DoorID},
		StartedAt: p.now(),
	}
	logArgs := append([]any{"request_id", res.ID.String(), "door_id", req.DoorID}, credentialFields(req.QRCode)...)
	p.logger.Info("door access requested", logArgs...)

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeFailed
			res.Err = fmt.Errorf("access: panic: %v", r)
			p.logger.Error("door access panicked", append(logArgs, "panic", r)...)
			p.resetScreen(ctx, res.Endpoint)
			err = res.Err
		}
		p.finish(ctx, res)
	}()

	auth, err := p.authorize(ctx, "authorize_by_door", func() (*backend.AuthorizationResult, error) {
		return p.auth.AuthorizeByDoor(ctx, req.DoorID, req.QRCode)
	})
	if err != nil {
		res.Outcome = OutcomeAuthorizationFailed
		res.Err = err
		p.logger.Warn("door access authorization failed", append(logArgs, "error", err)...)
		return err
	}

	res.Endpoint = auth.DeviceEndpoint
	res.UserID = auth.User.ID
	res.DeviceID = p.deviceAt(auth.DeviceEndpoint)

	res.Outcome, res.Err = p.openDoor(ctx, notify, auth)
	return res.Err
}

// openDoor notifies success and runs the activation sequence for the
// first door of auth.
func (p *Processor) openDoor(ctx context.Context, notify Broadcaster, auth *backend.AuthorizationResult) (Outcome, error) {
	notify.Broadcast(SuccessChannel(auth.User.ID), SuccessNotice{Message: p.successMessage})
	metrics.BroadcastsTotal.WithLabelValues("success").Inc()

	door := auth.Doors[0]
	if err := p.activator.Activate(ctx, auth.DeviceEndpoint, door, auth.User.FullName); err != nil {
		return OutcomeActivationFailed, err
	}
	return OutcomeGranted, nil
}

func (p *Processor) authorize(ctx context.Context, op string, call func() (*backend.AuthorizationResult, error)) (*backend.AuthorizationResult, error) {
	start := time.Now()
	auth, err := call()
	metrics.BackendRequestDuration.WithLabelValues(op, metrics.Status(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(auth.Doors) == 0 {
		return nil, fmt.Errorf("%w: %w: no doors", backend.ErrAuthorization, backend.ErrMalformedResponse)
	}
	return auth, nil
}

// deviceAt returns the device id last seen scanning from endpoint, or ""
// when no scan from it is remembered.
func (p *Processor) deviceAt(endpoint string) string {
	if id, ok := p.endpoints.Get(endpoint); ok {
		return id.(string)
	}
	return ""
}

// resetScreen puts the device back to idle when its endpoint is known.
func (p *Processor) resetScreen(ctx context.Context, endpoint string) {
	if endpoint == "" {
		return
	}
	if err := p.cmd.ShowIdle(ctx, endpoint); err != nil {
		p.logger.Warn("failed to reset device screen", "endpoint", endpoint, "error", err)
	}
}

func (p *Processor) finish(ctx context.Context, res Result) {
	res.Duration = p.now().Sub(res.StartedAt)

	metrics.ScansTotal.WithLabelValues(string(res.Source), string(res.Outcome)).Inc()
	metrics.AccessDuration.WithLabelValues(string(res.Source)).Observe(res.Duration.Seconds())

	for _, rec := range p.recorders {
		p.record(ctx, rec, res)
	}
}

func (p *Processor) record(ctx context.Context, rec Recorder, res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("access recorder panicked", "panic", r, "outcome", res.Outcome)
		}
	}()
	rec.Record(ctx, res)
}
