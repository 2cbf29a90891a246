package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTransport implements Transport for tests. Responses are scripted per
// "METHOD path" key; unmatched requests fall through to a default handler
// when one is set.
type MockTransport struct {
	mu        sync.Mutex
	token     string
	online    bool
	responses map[string]mockResponse
	handler   func(method, path string, payload interface{}) (interface{}, error)
	calls     []MockCall
	notes     chan Notification
}

// MockCall records one request seen by the mock.
type MockCall struct {
	Method  string
	Path    string
	Payload interface{}
}

type mockResponse struct {
	body interface{}
	err  error
}

// NewMockTransport creates an online mock with no scripted responses.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		online:    true,
		responses: make(map[string]mockResponse),
		notes:     make(chan Notification, 16),
	}
}

// Respond scripts a response for a method and path.
func (m *MockTransport) Respond(method, path string, body interface{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method+" "+path] = mockResponse{body: body, err: err}
}

// Handle sets the fallback handler for unscripted requests.
func (m *MockTransport) Handle(fn func(method, path string, payload interface{}) (interface{}, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Calls returns the requests seen so far.
func (m *MockTransport) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// SetOnline flips the reported connectivity and emits the matching edge.
func (m *MockTransport) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if changed {
		kind := NoteDisconnected
		if online {
			kind = NoteConnected
		}
		m.notes <- Notification{Kind: kind, At: time.Now().UTC()}
	}
}

// PushRemoteChange emits a server change notification.
func (m *MockTransport) PushRemoteChange() {
	m.notes <- Notification{Kind: NoteRemoteChange, At: time.Now().UTC()}
}

// DoJSON serves a scripted or handled response.
func (m *MockTransport) DoJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Path: path, Payload: payload})
	resp, ok := m.responses[method+" "+path]
	handler := m.handler
	m.mu.Unlock()

	var body interface{}
	var err error
	switch {
	case ok:
		body, err = resp.body, resp.err
	case handler != nil:
		body, err = handler(method, path, payload)
	default:
		return fmt.Errorf("mock transport: unscripted request %s %s", method, path)
	}
	if err != nil {
		return err
	}

	if out != nil && body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mock transport: marshal response: %w", err)
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("mock transport: decode response: %w", err)
		}
	}
	return nil
}

// SetToken sets the auth token.
func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// GetToken returns the auth token.
func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Online reports the mock's connectivity state.
func (m *MockTransport) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Notifications returns the signal stream.
func (m *MockTransport) Notifications() <-chan Notification { return m.notes }

// Close closes the signal stream.
func (m *MockTransport) Close() error {
	close(m.notes)
	return nil
}
