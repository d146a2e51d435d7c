// Package influxdb records access request timings in InfluxDB.
//
// It wraps influxdb-client-go v2. Writes go through the non-blocking
// WriteAPI and failures arrive asynchronously through SetOnError.
//
// Each request becomes one point:
//
//	access_results,source=scan,outcome=granted,device_id=EUI-1 duration_ms=1520i,doors=1i
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without time-series recording
//	}
//	defer client.Close()
//
//	client.WriteAccess(influxdb.AccessPoint{Source: "scan", Outcome: "granted"})
package influxdb
