// Package mqtt connects the gateway to an MQTT broker as an optional
// second intake for scan events and an outlet for access results.
//
// Readers that speak MQTT publish the same JSON they would POST over
// HTTP on onpass/device/{deviceId}/event. Every completed request is
// published on onpass/access/{deviceId}/result. The gateway's own
// presence is a retained message on onpass/system/status, written by the
// broker as the Last Will when the connection drops.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        ev, err := access.ParseScanEvent(payload)
//	        if err != nil {
//	            return err
//	        }
//	        return proc.Submit(ctx, ev)
//	    })
package mqtt
