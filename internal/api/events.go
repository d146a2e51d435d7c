package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/jmuc-msm/onpass-socket/internal/access"
	"github.com/jmuc-msm/onpass-socket/internal/audit"
)

// handleScanEvent accepts a device scan event. Processing continues after
// the 202 response; a duplicate for a busy device is a 409.
func (s *Server) handleScanEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}
	ev, err := access.ParseScanEvent(body)
	if err == nil {
		err = s.access.Submit(r.Context(), ev)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "device_id": ev.DeviceID})
	case errors.Is(err, access.ErrNotScanEvent):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "msg_type": ev.MessageType})
	case errors.Is(err, access.ErrScanInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		writeBadRequest(w, err.Error())
	}
}

// handleUserAccess opens the door a user picked. It answers when the
// activation sequence has finished.
func (s *Server) handleUserAccess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}
	req, err := access.ParseUserAccessRequest(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	// Success notices go to every subscribed real-time client.
	if err := s.access.HandleUserAccess(r.Context(), req, nil); err != nil {
		if errors.Is(err, access.ErrInvalidEvent) {
			writeBadRequest(w, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, ErrCodeBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "opened", "door_id": req.DoorID})
}

// handleListAccessEvents pages through the audit log.
func (s *Server) handleListAccessEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Outcome:  q.Get("outcome"),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing access events failed", "error", err)
		writeInternalError(w, "failed to list access events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
