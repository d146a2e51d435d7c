package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmuc-msm/onpass-socket/internal/infrastructure/config"
)

// newTestClient starts a backend stub answering every request with handler.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.BackendConfig{BaseURL: srv.URL + "/", Timeout: 5}, nil)
}

func TestAuthorize_Success(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{
			"doors": [{"door_id": 5, "door_name": "Lobby", "relay_num": 2}],
			"user": {"id": 9},
			"iot": {"url_address": "http://10.0.0.7/"},
			"full_name": "Ana"
		}`)
	})

	res, err := client.Authorize(context.Background(), "QR1", "EUI-1")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	if gotPath != "/iot_socket" {
		t.Errorf("path = %q, want /iot_socket", gotPath)
	}
	if gotBody["code_qr"] != "QR1" || gotBody["sEUI64"] != "EUI-1" {
		t.Errorf("body = %v, want code_qr=QR1 sEUI64=EUI-1", gotBody)
	}
	if res.User.ID != "9" || res.User.FullName != "Ana" {
		t.Errorf("User = %+v, want id 9 Ana", res.User)
	}
	if res.DeviceEndpoint != "http://10.0.0.7" {
		t.Errorf("DeviceEndpoint = %q, want trailing slash trimmed", res.DeviceEndpoint)
	}
	want := Door{ID: 5, Name: "Lobby", RelayNumber: 2}
	if len(res.Doors) != 1 || res.Doors[0] != want {
		t.Errorf("Doors = %+v, want [%+v]", res.Doors, want)
	}
}

func TestAuthorize_StringUserIDAndNestedName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"doors": [{"door_id": 1, "door_name": "A", "relay_num": 1}, {"door_id": 2, "door_name": "B", "relay_num": 2}],
			"user": {"id": "u-42", "full_name": "Luis"},
			"iot": {"url_address": "http://dev"}
		}`)
	})

	res, err := client.Authorize(context.Background(), "QR", "EUI")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if res.User.ID != "u-42" {
		t.Errorf("User.ID = %q, want u-42", res.User.ID)
	}
	if res.User.FullName != "Luis" {
		t.Errorf("User.FullName = %q, want fallback to user.full_name", res.User.FullName)
	}
	if len(res.Doors) != 2 {
		t.Errorf("len(Doors) = %d, want 2", len(res.Doors))
	}
}

func TestAuthorize_Failures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantMalformed bool
	}{
		{name: "forbidden", status: http.StatusForbidden, body: `{"message":"denied"}`},
		{name: "server error", status: http.StatusInternalServerError, body: ``},
		{name: "invalid json", status: http.StatusOK, body: `{"doors":`, wantMalformed: true},
		{name: "missing doors", status: http.StatusOK, body: `{"user":{"id":1},"iot":{"url_address":"http://d"}}`, wantMalformed: true},
		{name: "empty doors", status: http.StatusOK, body: `{"doors":[],"user":{"id":1},"iot":{"url_address":"http://d"}}`, wantMalformed: true},
		{name: "missing user", status: http.StatusOK, body: `{"doors":[{"door_id":1}],"iot":{"url_address":"http://d"}}`, wantMalformed: true},
		{name: "null user id", status: http.StatusOK, body: `{"doors":[{"door_id":1}],"user":{"id":null},"iot":{"url_address":"http://d"}}`, wantMalformed: true},
		{name: "missing iot", status: http.StatusOK, body: `{"doors":[{"door_id":1}],"user":{"id":1}}`, wantMalformed: true},
		{name: "empty url_address", status: http.StatusOK, body: `{"doors":[{"door_id":1}],"user":{"id":1},"iot":{"url_address":""}}`, wantMalformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			res, err := client.Authorize(context.Background(), "QR", "EUI")
			if err == nil {
				t.Fatalf("Authorize() = %+v, want error", res)
			}
			if !errors.Is(err, ErrAuthorization) {
				t.Errorf("error = %v, want ErrAuthorization", err)
			}
			if got := errors.Is(err, ErrMalformedResponse); got != tt.wantMalformed {
				t.Errorf("errors.Is(ErrMalformedResponse) = %v, want %v (err: %v)", got, tt.wantMalformed, err)
			}
		})
	}
}

func TestAuthorize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(config.BackendConfig{BaseURL: url}, &http.Client{Timeout: time.Second})
	_, err := client.Authorize(context.Background(), "QR", "EUI")
	if !errors.Is(err, ErrAuthorization) {
		t.Errorf("error = %v, want ErrAuthorization", err)
	}
}

func TestAuthorize_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Authorize(ctx, "QR", "EUI"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestAuthorizeByDoor(t *testing.T) {
	var gotPath string
	var gotBody struct {
		DoorID int64  `json:"door_id"`
		QRCode string `json:"qr_code"`
	}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = io.WriteString(w, `{
			"door": {"id": 7, "name": "Garage", "relay_num": 3},
			"user": {"id": 12},
			"iot": {"url_address": "http://garage-ctl"},
			"full_name": "Marta"
		}`)
	})

	res, err := client.AuthorizeByDoor(context.Background(), 7, "QR9")
	if err != nil {
		t.Fatalf("AuthorizeByDoor() error = %v", err)
	}

	if gotPath != "/get_access_qr" {
		t.Errorf("path = %q, want /get_access_qr", gotPath)
	}
	if gotBody.DoorID != 7 || gotBody.QRCode != "QR9" {
		t.Errorf("body = %+v", gotBody)
	}
	want := Door{ID: 7, Name: "Garage", RelayNumber: 3}
	if len(res.Doors) != 1 || res.Doors[0] != want {
		t.Errorf("Doors = %+v, want [%+v]", res.Doors, want)
	}
	if res.User.ID != "12" || res.User.FullName != "Marta" || res.DeviceEndpoint != "http://garage-ctl" {
		t.Errorf("result = %+v", res)
	}
}

func TestAuthorizeByDoor_MissingDoor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"user":{"id":1},"iot":{"url_address":"http://d"}}`)
	})

	_, err := client.AuthorizeByDoor(context.Background(), 1, "QR")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("error = %v, want ErrMalformedResponse", err)
	}
}

func TestRawID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: `9`, want: "9", ok: true},
		{in: `"abc"`, want: "abc", ok: true},
		{in: `1234567890123`, want: "1234567890123", ok: true},
		{in: `null`, ok: false},
		{in: ``, ok: false},
		{in: `""`, ok: false},
		{in: `{}`, ok: false},
	}
	for _, tt := range tests {
		got, ok := rawID(json.RawMessage(tt.in))
		if got != tt.want || ok != tt.ok {
			t.Errorf("rawID(%s) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
