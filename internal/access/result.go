package access

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jmuc-msm/onpass-socket/internal/backend"
)

// Source says how an access request entered the gateway.
type Source string

const (
	// SourceScan is a credential read reported by a device.
	SourceScan Source = "scan"

	// SourceDoorSelect is a user choosing one door after a multi-door result.
	SourceDoorSelect Source = "door_select"
)

// Outcome is how an access request ended.
type Outcome string

const (
	OutcomeGranted             Outcome = "granted"
	OutcomeDoorSelection       Outcome = "door_selection"
	OutcomeAuthorizationFailed Outcome = "authorization_failed"
	OutcomeActivationFailed    Outcome = "activation_failed"
	OutcomeFailed              Outcome = "failed"
)

// Result describes one completed access request.
type Result struct {
	ID        uuid.UUID
	Source    Source
	DeviceID  string // for door choices, the reader last seen at Endpoint
	Endpoint  string
	UserID    string
	DoorIDs   []int64
	Outcome   Outcome
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// ErrorText returns the error message, or "" when the request succeeded.
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Recorder receives every Result. Implementations must not block for long;
// they run on the request's goroutine after the device has been released.
type Recorder interface {
	Record(ctx context.Context, r Result)
}

// Broadcaster fans a notification out to real-time clients subscribed to
// channel. Delivery is best-effort.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// SuccessChannel is the channel told that a user's door was opened.
func SuccessChannel(userID string) string {
	return "access_" + userID + "_success"
}

// SelectDoorChannel is the channel asked to pick one of several doors.
func SelectDoorChannel(userID string) string {
	return "user_" + userID + "_access"
}

// SuccessNotice is the payload sent on SuccessChannel.
type SuccessNotice struct {
	Message string `json:"message"`
}

// DoorSelection is the payload sent on SelectDoorChannel. URL is the
// controller endpoint; clients answer with a UserAccessRequest.
type DoorSelection struct {
	Doors    []backend.Door `json:"doors"`
	FullName string         `json:"fullName"`
	URL      string         `json:"url"`
}

func doorIDs(doors []backend.Door) []int64 {
	ids := make([]int64, 0, len(doors))
	for _, d := range doors {
		ids = append(ids, d.ID)
	}
	return ids
}
