package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
	"github.com/jmuc-msm/onpass-socket/internal/metrics"
)

// Sender posts instructions to door controllers.
//
// Thread Safety: safe for concurrent use.
type Sender struct {
	instructionPath string
	httpClient      *http.Client
}

// NewSender creates a Sender. A nil httpClient builds one with cfg.Timeout.
func NewSender(cfg config.DeviceConfig, httpClient *http.Client) *Sender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}
	path := cfg.InstructionPath
	if path == "" {
		path = "/api/instruction"
	}
	return &Sender{
		instructionPath: path,
		httpClient:      httpClient,
	}
}

// Send posts one instruction to the controller at endpoint.
//
// Parameters:
//   - ctx: Context for cancellation
//   - endpoint: Controller base URL as returned by the backend
//   - ins: Instruction to deliver
//
// Returns:
//   - error: Wraps ErrDeviceComm on network failure or a non-2xx reply
func (s *Sender) Send(ctx context.Context, endpoint string, ins Instruction) error {
	err := s.send(ctx, endpoint, ins)
	metrics.DeviceCommandsTotal.WithLabelValues(string(ins.Type), metrics.Status(err)).Inc()
	return err
}

func (s *Sender) send(ctx context.Context, endpoint string, ins Instruction) error {
	if endpoint == "" {
		return fmt.Errorf("%w: empty endpoint", ErrDeviceComm)
	}

	body, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrDeviceComm, ins.Type, err)
	}

	url := strings.TrimRight(endpoint, "/") + s.instructionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceComm, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceComm, ins.Type, err)
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: HTTP %d", ErrDeviceComm, ins.Type, resp.StatusCode)
	}
	return nil
}

// ShowIdle resets the screen to the default view.
func (s *Sender) ShowIdle(ctx context.Context, endpoint string) error {
	return s.Send(ctx, endpoint, NewScreenWrite(IdleScreen))
}

// ShowLoading shows the spinner while a credential is checked.
func (s *Sender) ShowLoading(ctx context.Context, endpoint string) error {
	return s.Send(ctx, endpoint, NewScreenWrite(LoadingScreen))
}

// ShowError shows the retry screen.
func (s *Sender) ShowError(ctx context.Context, endpoint string) error {
	return s.Send(ctx, endpoint, NewScreenWrite(ErrorScreen))
}

// ShowPermit shows the access granted screen.
func (s *Sender) ShowPermit(ctx context.Context, endpoint, fullName, doorName string, at time.Time) error {
	return s.Send(ctx, endpoint, NewScreenWrite(PermitScreen(fullName, doorName, at)))
}

// OperateRelay pulses a relay.
func (s *Sender) OperateRelay(ctx context.Context, endpoint string, relay, openTime int, position string) error {
	return s.Send(ctx, endpoint, NewRelayOperate(relay, openTime, position))
}
