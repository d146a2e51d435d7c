package access

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ScanMessageType is the device message type of a credential read.
const ScanMessageType = "on_uart_receive"

// ScanEvent is a device notification that a credential was read.
type ScanEvent struct {
	MessageType string
	DeviceID    string
	Payload     string
	Position    string
	Timestamp   int64
}

// kapriMessage is the wire form sent by the readers.
type kapriMessage struct {
	MsgType string `json:"msgType"`
	MsgArg  struct {
		Data     string `json:"sData"`
		EUI64    string `json:"sEUI64"`
		Position string `json:"sPosition"`
	} `json:"msgArg"`
	MsgTimeStamp float64 `json:"msgTimeStamp"`
}

// ParseScanEvent decodes a device message.
//
// The message may be a JSON object or a JSON string holding the object, as
// relayed by socket.io style clients. Only decoding is checked here; use
// Validate to decide whether the event should be processed.
func ParseScanEvent(data []byte) (ScanEvent, error) {
	raw, err := unwrapString(data)
	if err != nil {
		return ScanEvent{}, err
	}

	var msg kapriMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ScanEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	return ScanEvent{
		MessageType: msg.MsgType,
		DeviceID:    msg.MsgArg.EUI64,
		Payload:     msg.MsgArg.Data,
		Position:    msg.MsgArg.Position,
		Timestamp:   int64(msg.MsgTimeStamp),
	}, nil
}

// MarshalJSON encodes the event in the reader wire form.
func (e ScanEvent) MarshalJSON() ([]byte, error) {
	var msg kapriMessage
	msg.MsgType = e.MessageType
	msg.MsgArg.Data = e.Payload
	msg.MsgArg.EUI64 = e.DeviceID
	msg.MsgArg.Position = e.Position
	msg.MsgTimeStamp = float64(e.Timestamp)
	return json.Marshal(msg)
}

// Validate reports whether the event is a processable scan.
//
// Returns:
//   - ErrNotScanEvent: message type is not on_uart_receive
//   - ErrInvalidEvent: payload or device id is empty
func (e ScanEvent) Validate() error {
	if e.MessageType != ScanMessageType {
		return fmt.Errorf("%w: %q", ErrNotScanEvent, e.MessageType)
	}
	if e.DeviceID == "" {
		return fmt.Errorf("%w: missing device id", ErrInvalidEvent)
	}
	if e.Payload == "" {
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	return nil
}

// UserAccessRequest is a user's choice of one door, sent after a
// multi-door result.
type UserAccessRequest struct {
	DoorID int64  `json:"door_id"`
	QRCode string `json:"qr_code"`
}

// ParseUserAccessRequest decodes and validates a door choice.
func ParseUserAccessRequest(data []byte) (UserAccessRequest, error) {
	raw, err := unwrapString(data)
	if err != nil {
		return UserAccessRequest{}, err
	}

	var req UserAccessRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return UserAccessRequest{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := req.Validate(); err != nil {
		return UserAccessRequest{}, err
	}
	return req, nil
}

// Validate checks the request has a door and a credential.
func (r UserAccessRequest) Validate() error {
	if r.DoorID <= 0 {
		return fmt.Errorf("%w: missing door_id", ErrInvalidEvent)
	}
	if r.QRCode == "" {
		return fmt.Errorf("%w: missing qr_code", ErrInvalidEvent)
	}
	return nil
}

// unwrapString returns the inner document when data is a JSON string.
func unwrapString(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidEvent)
	}
	if data[0] != '"' {
		return data, nil
	}
	var inner string
	if err := json.Unmarshal(data, &inner); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return []byte(inner), nil
}
