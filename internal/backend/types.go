package backend

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// User is the person a credential belongs to.
type User struct {
	// ID is kept as a string because the backend may send it as a number
	// or a string. It is only ever used to build channel names.
	ID       string `json:"id"`
	FullName string `json:"full_name,omitempty"`
}

// Door is one door a user may open through a controller.
//
// The JSON tags match the /iot_socket response, and the door list is
// forwarded to UI clients in this form so they can send door_id back.
type Door struct {
	ID          int64  `json:"door_id"`
	Name        string `json:"door_name"`
	RelayNumber int    `json:"relay_num"`
}

// AuthorizationResult is the backend's answer for one credential.
type AuthorizationResult struct {
	User  User
	Doors []Door

	// DeviceEndpoint is the base URL of the controller's local HTTP API.
	DeviceEndpoint string
}

// scanRequest is the /iot_socket request body.
type scanRequest struct {
	CodeQR string `json:"code_qr"`
	EUI64  string `json:"sEUI64"`
}

// doorRequest is the /get_access_qr request body.
type doorRequest struct {
	DoorID int64  `json:"door_id"`
	QRCode string `json:"qr_code"`
}

type wireUser struct {
	ID       json.RawMessage `json:"id"`
	FullName string          `json:"full_name"`
}

type wireIoT struct {
	URLAddress string `json:"url_address"`
}

// wireDoor is the door shape returned by /get_access_qr.
type wireDoor struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	RelayNumber int    `json:"relay_num"`
}

type scanResponse struct {
	Doors    []Door    `json:"doors"`
	User     *wireUser `json:"user"`
	IoT      *wireIoT  `json:"iot"`
	FullName string    `json:"full_name"`
}

type doorResponse struct {
	Door     *wireDoor `json:"door"`
	User     *wireUser `json:"user"`
	IoT      *wireIoT  `json:"iot"`
	FullName string    `json:"full_name"`
}

// rawID renders a JSON id (number or string) as a plain string.
// It returns false for a missing, null or empty id.
func rawID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(string(raw))
		if err != nil || s == "" {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}
