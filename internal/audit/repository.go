// Package audit stores completed access requests in the access_events
// table and serves them back for the audit endpoint.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmuc-msm/onpass-socket/internal/access"
)

const (
	defaultLimit  = 50
	maxLimit      = 200
	insertTimeout = 5 * time.Second

	// timeLayout is fixed width so started_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Event is one stored access request.
type Event struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	DeviceID   string    `json:"device_id,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	DoorIDs    []int64   `json:"door_ids"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Filter controls which events List returns.
type Filter struct {
	DeviceID string // optional
	Outcome  string // optional: granted, door_selection, authorization_failed, ...
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is a page of events, most recent first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the audit log operations.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// Logger is the logging interface used by the repository.
type Logger interface {
	Warn(msg string, args ...any)
}

// SQLiteRepository keeps access events in SQLite.
type SQLiteRepository struct {
	db     *sql.DB
	logger Logger
}

// NewSQLiteRepository creates a repository on db. logger may be nil.
func NewSQLiteRepository(db *sql.DB, logger Logger) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: logger}
}

// Create inserts ev. ev.ID must be set; StartedAt defaults to now.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		return errors.New("audit: event id is required")
	}
	if ev.StartedAt.IsZero() {
		ev.StartedAt = time.Now().UTC()
	}
	if ev.DoorIDs == nil {
		ev.DoorIDs = []int64{}
	}
	doors, err := json.Marshal(ev.DoorIDs)
	if err != nil {
		return fmt.Errorf("marshalling door ids: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO access_events (id, source, device_id, endpoint, user_id, door_ids, outcome, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Source, ev.DeviceID, ev.Endpoint,
		nullableString(ev.UserID), string(doors), ev.Outcome, nullableString(ev.Error),
		ev.StartedAt.UTC().Format(timeLayout), ev.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting access event: %w", err)
	}
	return nil
}

// Record stores a processor Result. Failures are logged, never returned.
func (r *SQLiteRepository) Record(ctx context.Context, res access.Result) {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	ev := FromResult(res)
	if err := r.Create(ctx, &ev); err != nil && r.logger != nil {
		r.logger.Warn("audit write failed", "request_id", ev.ID, "error", err)
	}
}

// FromResult converts a processor Result to a stored Event.
func FromResult(res access.Result) Event {
	return Event{
		ID:         res.ID.String(),
		Source:     string(res.Source),
		DeviceID:   res.DeviceID,
		Endpoint:   res.Endpoint,
		UserID:     res.UserID,
		DoorIDs:    res.DoorIDs,
		Outcome:    string(res.Outcome),
		Error:      res.ErrorText(),
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
	}
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM access_events " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting access events: %w", err)
	}

	query := "SELECT id, source, device_id, endpoint, user_id, door_ids, outcome, error, started_at, duration_ms FROM access_events " + //nolint:gosec // as above
		where + " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying access events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var userID, errText sql.NullString
		var doors, startedAt string
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.DeviceID, &ev.Endpoint, &userID,
			&doors, &ev.Outcome, &errText, &startedAt, &ev.DurationMS); err != nil {
			return nil, fmt.Errorf("scanning access event: %w", err)
		}
		ev.UserID = userID.String
		ev.Error = errText.String
		if json.Unmarshal([]byte(doors), &ev.DoorIDs) != nil || ev.DoorIDs == nil {
			ev.DoorIDs = []int64{}
		}
		t, err := time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing access event timestamp %q: %w", startedAt, err)
		}
		ev.StartedAt = t
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
