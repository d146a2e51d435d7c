package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// AccessMeasurement is the measurement holding one point per access request.
const AccessMeasurement = "access_results"

// AccessPoint describes one completed access request.
type AccessPoint struct {
	Source   string
	Outcome  string
	DeviceID string
	Doors    int
	Duration time.Duration
	At       time.Time
}

// WriteAccess queues p for the next batch. After Close the point is
// dropped and counted.
func (c *Client) WriteAccess(p AccessPoint) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(newAccessPoint(p))
	c.queued.Add(1)
}

func newAccessPoint(p AccessPoint) *write.Point {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	tags := map[string]string{
		"source":  p.Source,
		"outcome": p.Outcome,
	}
	if p.DeviceID != "" {
		tags["device_id"] = p.DeviceID
	}
	return write.NewPoint(AccessMeasurement, tags, map[string]any{
		"duration_ms": p.Duration.Milliseconds(),
		"doors":       p.Doors,
	}, at)
}
