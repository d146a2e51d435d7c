package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
)

const (
	// connectTimeout caps the ping in Connect when ctx has no earlier deadline.
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// WriteStats counts access points since Connect.
type WriteStats struct {
	Queued  uint64 // handed to the write API
	Dropped uint64 // skipped because the client was closed
	Failed  uint64 // batches the server rejected
}

// Client records access results in an InfluxDB v2 bucket.
//
// Points are queued on the batching, non-blocking write API, so
// WriteAccess never waits on the network. Rejected batches are counted
// and reported through SetOnError.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	mu        sync.RWMutex
	connected bool
	onError   func(err error)

	queued  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Connect creates a client for cfg.Bucket and checks the server is up.
//
// Timestamps are written with millisecond precision, matching the
// resolution of access timings.
//
// Parameters:
//   - ctx: Bounds the initial ping together with a 10 s cap
//   - cfg: InfluxDB section of the gateway configuration
//
// Returns:
//   - *Client: Ready for WriteAccess
//   - error: ErrDisabled when cfg.Enabled is false, ErrConnectionFailed
//     when the ping fails or the server reports unhealthy
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(positiveOr(cfg.BatchSize, defaultBatchSize)).
		SetFlushInterval(positiveOr(cfg.FlushInterval, defaultFlushInterval) * 1000).
		SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:    cfg.Bucket,
		connected: true,
	}
	go c.watchErrors(c.writeAPI.Errors())

	return c, nil
}

func positiveOr(v, def int) uint {
	if v <= 0 {
		return uint(def)
	}
	return uint(v) // #nosec G115 -- positive
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return errors.New("server not healthy")
	}
	return nil
}

// watchErrors drains the write API's error channel until Close.
func (c *Client) watchErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("writing to bucket %s: %w", c.bucket, err))
		}
	}
}

// Close flushes queued points and releases the client.
//
// Points written after Close are counted as dropped. Calling Close on a
// client that never connected is a no-op.
//
// Returns:
//   - error: Always nil; the underlying client reports no close errors
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.writeAPI.Flush()
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
//
// Parameters:
//   - ctx: Cancellation for the ping; a 5 s cap also applies
//
// Returns:
//   - error: ErrNotConnected after Close, or the ping failure
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. It does not ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for rejected batches.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Stats returns the point counters.
func (c *Client) Stats() WriteStats {
	return WriteStats{
		Queued:  c.queued.Load(),
		Dropped: c.dropped.Load(),
		Failed:  c.failed.Load(),
	}
}

// Flush sends queued points now instead of at the next interval.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
