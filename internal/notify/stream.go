package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/pkg/errors"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/mmr-tortoise/stagehand/internal/model"
)

// streamEvent is the socket.io event name all payloads are emitted under.
const streamEvent = "ci:event"

// StreamNotifier emits lifecycle events to a socket.io endpoint so
// dashboards can watch runs live. The connection is established in the
// background; the client buffers emits while it is down, so a slow or
// absent endpoint never delays the build.
type StreamNotifier struct {
	io *socket.Socket
}

// NewStreamNotifier connects to rawURL. A non-root URL path selects the
// engine.io endpoint (default /socket.io/); events go to the root
// namespace.
func NewStreamNotifier(logger *slog.Logger, rawURL string) (*StreamNotifier, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.WithMessage(err, "invalid stream URL")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("invalid stream URL %q: need scheme and host", rawURL)
	}

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(transports.WebSocket))
	if parsed.Path != "" && parsed.Path != "/" {
		opts.SetPath(parsed.Path)
	}

	manager := socket.NewManager(baseURL(parsed), opts)
	io := manager.Socket("/", opts)

	io.On(types.EventName("connect"), func(...any) {
		logger.Debug("stream connected", "url", rawURL, "sid", io.Id())
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		logger.Warn("stream connection failed", "url", rawURL, "error", fmt.Sprint(errs...))
	})
	io.Connect()

	return &StreamNotifier{io: io}, nil
}

// Notify emits the event to the stream.
func (n *StreamNotifier) Notify(_ context.Context, ev model.Event) error {
	n.io.Emit(streamEvent, ev)
	return nil
}

// Close disconnects from the endpoint, dropping any still-buffered
// events.
func (n *StreamNotifier) Close() error {
	n.io.Disconnect()
	return nil
}

// baseURL strips the path from a parsed URL; the path configures the
// engine.io endpoint separately.
func baseURL(u *url.URL) string {
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
