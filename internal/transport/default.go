package transport

import (
	"context"

	"github.com/brewvault/brewsync/internal/config"
	"github.com/brewvault/brewsync/internal/events"
)

// DefaultTransport combines the HTTP client with the websocket notifier.
type DefaultTransport struct {
	http     *HTTPClient
	notifier *Notifier
}

// New creates a transport instance. The notifier stays idle until Start.
func New(cfg *config.APIConfig, logger *events.Logger) *DefaultTransport {
	httpClient := NewHTTPClient(cfg, logger)
	return &DefaultTransport{
		http:     httpClient,
		notifier: NewNotifier(cfg.BaseURL, httpClient.GetToken, logger),
	}
}

// Start opens the network-signal stream.
func (t *DefaultTransport) Start(ctx context.Context) {
	t.notifier.Start(ctx)
}

// DoJSON forwards to the HTTP client.
func (t *DefaultTransport) DoJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	return t.http.DoJSON(ctx, method, path, payload, out)
}

// SetToken sets the auth token.
func (t *DefaultTransport) SetToken(token string) { t.http.SetToken(token) }

// GetToken returns the current auth token.
func (t *DefaultTransport) GetToken() string { return t.http.GetToken() }

// Online reports last known connectivity. Before the notifier starts there
// is no signal either way; report online and let the first request find out.
func (t *DefaultTransport) Online() bool {
	if !t.notifier.Started() {
		return true
	}
	return t.notifier.Online()
}

// Notifications returns the network signal stream.
func (t *DefaultTransport) Notifications() <-chan Notification {
	return t.notifier.Notifications()
}

// Close tears down connections.
func (t *DefaultTransport) Close() error {
	t.notifier.Stop()
	return nil
}
