package transport

import (
	"context"
	"time"
)

// Transport is the engine's view of the network: JSON requests against the
// remote API plus a connectivity/notification stream.
type Transport interface {
	// DoJSON executes a JSON request and decodes the response into out
	// (ignored when out is nil).
	DoJSON(ctx context.Context, method, path string, payload, out interface{}) error

	// SetToken sets the bearer token for subsequent requests.
	SetToken(token string)

	// GetToken returns the current bearer token.
	GetToken() string

	// Online reports the last known connectivity state.
	Online() bool

	// Notifications returns the network signal stream: connectivity edges
	// and server change pushes. The channel closes when the transport shuts
	// down.
	Notifications() <-chan Notification

	// Close releases connections.
	Close() error
}

// NotificationKind classifies a network signal.
type NotificationKind string

const (
	// NoteConnected fires on the offline-to-online edge.
	NoteConnected NotificationKind = "connected"
	// NoteDisconnected fires on the online-to-offline edge.
	NoteDisconnected NotificationKind = "disconnected"
	// NoteRemoteChange is a server push that the user's records changed.
	NoteRemoteChange NotificationKind = "remote_change"
)

// Notification is one network signal.
type Notification struct {
	Kind NotificationKind
	At   time.Time
}
