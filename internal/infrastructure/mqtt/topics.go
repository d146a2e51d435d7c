package mqtt

import "strings"

// TopicPrefix is the root of every gateway topic.
const TopicPrefix = "onpass"

// Topics builds the gateway's MQTT topic names:
//
//	onpass/device/{deviceId}/event    scan events published by readers
//	onpass/access/{deviceId}/result   one result per completed request
//	onpass/system/status              retained online/offline status (LWT)
type Topics struct{}

// DeviceEvent returns the topic a reader publishes its scan events on.
func (Topics) DeviceEvent(deviceID string) string {
	return TopicPrefix + "/device/" + deviceID + "/event"
}

// AllDeviceEvents matches DeviceEvent for every device.
func (Topics) AllDeviceEvents() string {
	return TopicPrefix + "/device/+/event"
}

// AccessResult returns the topic results for deviceID are published on.
// Results without a device (door selections) use "_".
func (Topics) AccessResult(deviceID string) string {
	if deviceID == "" {
		deviceID = "_"
	}
	return TopicPrefix + "/access/" + deviceID + "/result"
}

// SystemStatus returns the retained gateway status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceIDFromEventTopic extracts the device segment of a DeviceEvent topic.
func DeviceIDFromEventTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "device" || parts[3] != "event" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
