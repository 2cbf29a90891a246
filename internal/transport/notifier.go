package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brewvault/brewsync/internal/events"
)

// Notifier maintains the network-signal stream over a websocket: it reports
// connectivity edges (derived from the socket's health) and forwards server
// change pushes. When the remote is unreachable it keeps retrying with
// backoff; the engine stays offline and queues everything in the meantime.
type Notifier struct {
	wsURL   string
	token   func() string
	logger  *events.Logger
	dialer  *websocket.Dialer
	backoff time.Duration

	online atomic.Bool
	out    chan Notification

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// wsPush is the server's push frame.
type wsPush struct {
	Event string `json:"event"` // records_changed, ping
}

// NewNotifier creates a notifier for the given websocket URL.
func NewNotifier(baseURL string, token func() string, logger *events.Logger) *Notifier {
	return &Notifier{
		wsURL:   wsEndpoint(baseURL),
		token:   token,
		logger:  logger.WithField("component", "notifier"),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: time.Second,
		out:     make(chan Notification, 16),
	}
}

// wsEndpoint derives the events websocket URL from the API base URL.
func wsEndpoint(baseURL string) string {
	url := strings.TrimSuffix(baseURL, "/")
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/api/v1/events"
}

// Start launches the connection loop. Safe to call once.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})

	go n.run(ctx)
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	defer close(n.out)
	defer n.setOnline(false)

	delay := n.backoff
	for {
		conn, err := n.dial(ctx)
		if err != nil {
			n.setOnline(false)
			n.logger.WithError(err).Debug("Events socket unreachable")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay < time.Minute {
				delay *= 2
			}
			continue
		}

		delay = n.backoff
		n.setOnline(true)
		n.readLoop(ctx, conn)
		n.setOnline(false)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (n *Notifier) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if tok := n.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	conn, _, err := n.dialer.DialContext(ctx, n.wsURL, header)
	return conn, err
}

func (n *Notifier) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			n.logger.WithError(err).Debug("Events socket closed")
			return
		}

		var push wsPush
		if err := json.Unmarshal(data, &push); err != nil {
			n.logger.WithError(err).Warn("Malformed push frame")
			continue
		}
		if push.Event == "records_changed" {
			n.emit(Notification{Kind: NoteRemoteChange, At: time.Now().UTC()})
		}
	}
}

// setOnline flips connectivity state, emitting edge notifications only on
// transitions.
func (n *Notifier) setOnline(online bool) {
	if n.online.Swap(online) == online {
		return
	}
	kind := NoteDisconnected
	if online {
		kind = NoteConnected
	}
	n.emit(Notification{Kind: kind, At: time.Now().UTC()})
	n.logger.WithField("online", online).Info("Connectivity changed")
}

func (n *Notifier) emit(note Notification) {
	select {
	case n.out <- note:
	default:
		// A slow consumer drops signals rather than blocking the socket;
		// the next edge or push will retrigger it.
	}
}

// Online reports last known connectivity.
func (n *Notifier) Online() bool { return n.online.Load() }

// Started reports whether the connection loop is running.
func (n *Notifier) Started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancel != nil
}

// Notifications returns the signal stream.
func (n *Notifier) Notifications() <-chan Notification { return n.out }

// Stop tears down the connection loop and waits for it to exit.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	done := n.done
	n.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
