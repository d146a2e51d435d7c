package access

import (
	"context"
	"fmt"
	"time"

	"github.com/jmuc-msm/onpass-socket/internal/backend"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
)

// Commander drives a door controller. *device.Sender implements it.
type Commander interface {
	OperateRelay(ctx context.Context, endpoint string, relay, openTime int, position string) error
	ShowIdle(ctx context.Context, endpoint string) error
	ShowLoading(ctx context.Context, endpoint string) error
	ShowError(ctx context.Context, endpoint string) error
	ShowPermit(ctx context.Context, endpoint, fullName, doorName string, at time.Time) error
}

// ActivatorConfig holds the door opening sequence parameters.
type ActivatorConfig struct {
	RelayOpenTime int
	RelayPosition string

	// DoorOpenDelay is how long the permit screen stays up.
	DoorOpenDelay time.Duration

	// ErrorDisplay is how long the error screen stays up after a failure.
	ErrorDisplay time.Duration

	// Location for the time on the permit screen. Nil means time.Local.
	Location *time.Location
}

// ActivatorConfigFrom converts the access configuration section.
func ActivatorConfigFrom(cfg config.AccessConfig, loc *time.Location) ActivatorConfig {
	return ActivatorConfig{
		RelayOpenTime: cfg.RelayOpenTime,
		RelayPosition: cfg.RelayPosition,
		DoorOpenDelay: cfg.DoorOpenDelayDuration(),
		ErrorDisplay:  cfg.ErrorDisplayDuration(),
		Location:      loc,
	}
}

// Activator runs the relay activation sequence for one door.
type Activator struct {
	cmd    Commander
	cfg    ActivatorConfig
	logger Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewActivator creates an Activator. A nil logger discards output.
func NewActivator(cmd Commander, cfg ActivatorConfig, logger Logger) *Activator {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Activator{
		cmd:    cmd,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Activate opens door and walks the screen through permit and back to idle.
//
// The steps are:
//  1. Pulse the door's relay
//  2. Show the permit screen (full name, local time, door name)
//  3. Wait DoorOpenDelay
//  4. Show the idle screen
//
// If any step fails the sequence stops, the error screen is shown for
// ErrorDisplay, and the screen is reset to idle. The returned error wraps
// ErrActivationFailed and needs no further compensation.
func (a *Activator) Activate(ctx context.Context, endpoint string, door backend.Door, fullName string) error {
	step, err := a.run(ctx, endpoint, door, fullName)
	if err == nil {
		return nil
	}

	a.logger.Error("door activation failed",
		"endpoint", endpoint,
		"door_id", door.ID,
		"relay", door.RelayNumber,
		"step", step,
		"error", err,
	)
	a.showErrorThenIdle(ctx, endpoint)

	return fmt.Errorf("%w: %s: %w", ErrActivationFailed, step, err)
}

func (a *Activator) run(ctx context.Context, endpoint string, door backend.Door, fullName string) (string, error) {
	if err := a.cmd.OperateRelay(ctx, endpoint, door.RelayNumber, a.cfg.RelayOpenTime, a.cfg.RelayPosition); err != nil {
		return "relay", err
	}
	if err := a.cmd.ShowPermit(ctx, endpoint, fullName, door.Name, a.now().In(a.cfg.Location)); err != nil {
		return "permit_screen", err
	}
	if err := a.sleep(ctx, a.cfg.DoorOpenDelay); err != nil {
		return "door_open_wait", err
	}
	if err := a.cmd.ShowIdle(ctx, endpoint); err != nil {
		return "idle_screen", err
	}

	a.logger.Info("door opened", "endpoint", endpoint, "door_id", door.ID, "relay", door.RelayNumber)
	return "", nil
}

func (a *Activator) showErrorThenIdle(ctx context.Context, endpoint string) {
	if err := a.cmd.ShowError(ctx, endpoint); err != nil {
		a.logger.Warn("failed to show error screen", "endpoint", endpoint, "error", err)
		return
	}
	if err := a.sleep(ctx, a.cfg.ErrorDisplay); err != nil {
		a.logger.Warn("error screen wait interrupted", "endpoint", endpoint, "error", err)
	}
	if err := a.cmd.ShowIdle(ctx, endpoint); err != nil {
		a.logger.Warn("failed to reset screen after error", "endpoint", endpoint, "error", err)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
