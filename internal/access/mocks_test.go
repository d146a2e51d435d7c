package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmuc-msm/onpass-socket/internal/backend"
)

// journal is a shared, ordered record of side effects across mocks.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// mockAuthorizer returns canned results.
type mockAuthorizer struct {
	mu           sync.Mutex
	result       *backend.AuthorizationResult
	err          error
	byDoorResult *backend.AuthorizationResult
	byDoorErr    error
	calls        int
	byDoorCalls  int
	ctxErrs      []error

	// started is signalled when Authorize is entered; release unblocks it.
	started chan struct{}
	release chan struct{}
}

func (m *mockAuthorizer) Authorize(ctx context.Context, _, _ string) (*backend.AuthorizationResult, error) {
	m.mu.Lock()
	m.calls++
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	started, release := m.started, m.release
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return m.result, m.err
}

func (m *mockAuthorizer) AuthorizeByDoor(context.Context, int64, string) (*backend.AuthorizationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byDoorCalls++
	return m.byDoorResult, m.byDoorErr
}

func (m *mockAuthorizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockCommander journals device instructions and fails on demand.
type mockCommander struct {
	j    *journal
	fail map[string]error
}

func newMockCommander(j *journal) *mockCommander {
	return &mockCommander{j: j, fail: map[string]error{}}
}

func (m *mockCommander) do(name string, format string, args ...any) error {
	m.j.add("device:"+name+format, args...)
	return m.fail[name]
}

func (m *mockCommander) OperateRelay(_ context.Context, endpoint string, relay, openTime int, position string) error {
	return m.do("relay", " %s relay=%d time=%d pos=%s", endpoint, relay, openTime, position)
}

func (m *mockCommander) ShowIdle(_ context.Context, endpoint string) error {
	return m.do("idle", " %s", endpoint)
}

func (m *mockCommander) ShowLoading(_ context.Context, endpoint string) error {
	return m.do("loading", " %s", endpoint)
}

func (m *mockCommander) ShowError(_ context.Context, endpoint string) error {
	return m.do("error", " %s", endpoint)
}

func (m *mockCommander) ShowPermit(_ context.Context, endpoint, fullName, doorName string, at time.Time) error {
	return m.do("permit", " %s %s %s %s", endpoint, fullName, doorName, at.Format(time.RFC3339))
}

// deviceCalls returns only the device entries of j.
func deviceCalls(j *journal) []string {
	var out []string
	for _, e := range j.all() {
		if len(e) > 7 && e[:7] == "device:" {
			out = append(out, e)
		}
	}
	return out
}

type broadcast struct {
	channel string
	payload any
}

// mockBroadcaster records broadcasts.
type mockBroadcaster struct {
	j     *journal
	mu    sync.Mutex
	sent  []broadcast
	panic bool
}

func (m *mockBroadcaster) Broadcast(channel string, payload any) {
	if m.panic {
		panic("broadcast exploded")
	}
	m.mu.Lock()
	m.sent = append(m.sent, broadcast{channel: channel, payload: payload})
	m.mu.Unlock()
	if m.j != nil {
		m.j.add("broadcast:%s", channel)
	}
}

func (m *mockBroadcaster) all() []broadcast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broadcast(nil), m.sent...)
}

// mockRecorder collects results.
type mockRecorder struct {
	mu      sync.Mutex
	results []Result
}

func (m *mockRecorder) Record(_ context.Context, r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

func (m *mockRecorder) all() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.results...)
}

// sleepRecorder replaces the activator's timer.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}
