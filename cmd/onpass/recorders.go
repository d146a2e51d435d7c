package main

import (
	"context"
	"errors"
	"time"

	"github.com/jmuc-msm/onpass-socket/internal/access"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/influxdb"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/logging"
	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/mqtt"
)

// pointWriter is the part of influxdb.Client used for results.
type pointWriter interface {
	WriteAccess(p influxdb.AccessPoint)
}

// influxRecorder writes one point per result.
type influxRecorder struct {
	client pointWriter
}

func (r influxRecorder) Record(_ context.Context, res access.Result) {
	r.client.WriteAccess(influxdb.AccessPoint{
		Source:   string(res.Source),
		Outcome:  string(res.Outcome),
		DeviceID: res.DeviceID,
		Doors:    len(res.DoorIDs),
		Duration: res.Duration,
		At:       res.StartedAt,
	})
}

// jsonPublisher is the part of mqtt.Client used for results.
type jsonPublisher interface {
	PublishJSON(topic string, v any) error
}

// resultMessage is published to onpass/access/{deviceId}/result.
type resultMessage struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	DeviceID   string  `json:"device_id,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty"`
	UserID     string  `json:"user_id,omitempty"`
	DoorIDs    []int64 `json:"door_ids"`
	Outcome    string  `json:"outcome"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	DurationMS int64   `json:"duration_ms"`
}

// mqttRecorder publishes each result for the device it concerns.
type mqttRecorder struct {
	client jsonPublisher
	logger *logging.Logger
}

func (r mqttRecorder) Record(_ context.Context, res access.Result) {
	doors := res.DoorIDs
	if doors == nil {
		doors = []int64{}
	}
	msg := resultMessage{
		ID:         res.ID.String(),
		Source:     string(res.Source),
		DeviceID:   res.DeviceID,
		Endpoint:   res.Endpoint,
		UserID:     res.UserID,
		DoorIDs:    doors,
		Outcome:    string(res.Outcome),
		Error:      res.ErrorText(),
		StartedAt:  res.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: res.Duration.Milliseconds(),
	}
	topic := mqtt.Topics{}.AccessResult(res.DeviceID)
	if err := r.client.PublishJSON(topic, msg); err != nil && r.logger != nil {
		r.logger.Warn("publishing access result failed", "topic", topic, "error", err)
	}
}

// scanSubmitter is the part of access.Processor fed by MQTT.
type scanSubmitter interface {
	Submit(ctx context.Context, ev access.ScanEvent) error
}

// scanHandler submits scan events published on onpass/device/{id}/event.
// The topic supplies the device id when the payload has none. Messages of
// other types are dropped silently.
func scanHandler(svc scanSubmitter, logger *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		ev, err := access.ParseScanEvent(payload)
		if err != nil {
			return err
		}
		if ev.DeviceID == "" {
			if id, ok := mqtt.DeviceIDFromEventTopic(topic); ok {
				ev.DeviceID = id
			}
		}

		err = svc.Submit(context.Background(), ev)
		switch {
		case errors.Is(err, access.ErrNotScanEvent):
			return nil
		case errors.Is(err, access.ErrScanInProgress):
			logger.Debug("MQTT scan dropped, device busy", "device_id", ev.DeviceID)
			return nil
		}
		return err
	}
}
