package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/muurk/btgate/internal/logging"
	"github.com/muurk/btgate/internal/notify"
	"github.com/muurk/btgate/internal/server"
	"github.com/muurk/btgate/internal/version"
	"go.uber.org/zap"
)

// feedReadWait bounds the silence between server messages; the server pings
// well inside it.
const feedReadWait = 75 * time.Second

// FeedState is the connection state reported while watching the feed.
type FeedState int

const (
	FeedConnecting FeedState = iota
	FeedConnected
	FeedReconnecting
)

func (s FeedState) String() string {
	switch s {
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// FeedHandler receives feed callbacks. Both functions are called from the
// goroutine running Watch.
type FeedHandler struct {
	Event func(notify.Event)
	State func(FeedState, error)
}

func (h FeedHandler) event(e notify.Event) {
	if h.Event != nil {
		h.Event(e)
	}
}

func (h FeedHandler) state(s FeedState, err error) {
	if h.State != nil {
		h.State(s, err)
	}
}

// FeedURL returns the websocket URL of the event feed.
func (c *Client) FeedURL() string {
	u := c.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + server.APIPrefix + "/feed"
}

// Watch streams feed events to h until ctx ends, reconnecting with
// exponential backoff whenever the connection drops. It returns nil when ctx
// ends and an error only for failures that retrying cannot fix.
func (c *Client) Watch(ctx context.Context, h FeedHandler) error {
	h.state(FeedConnecting, nil)
	for {
		var conn *websocket.Conn
		dial := func() error {
			var err error
			conn, err = c.dialFeed(ctx)
			if err != nil && !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		retry := func(err error, next time.Duration) {
			logging.Debug("Feed connection failed, retrying",
				zap.String("url", c.FeedURL()),
				zap.Duration("next", next),
				zap.Error(err),
			)
			h.state(FeedReconnecting, err)
		}

		if err := backoff.RetryNotify(dial, c.newBackOff(ctx, -1), retry); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		h.state(FeedConnected, nil)
		err := readFeed(ctx, conn, h)
		if ctx.Err() != nil {
			return nil
		}
		logging.Info("Feed connection lost", zap.Error(err))
		h.state(FeedReconnecting, err)
	}
}

func (c *Client) dialFeed(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := http.Header{"User-Agent": []string{version.UserAgent()}}
	conn, resp, err := dialer.DialContext(ctx, c.FeedURL(), header)
	if err != nil {
		if resp != nil {
			return nil, NewHTTPError(resp.StatusCode, "feed handshake rejected")
		}
		return nil, NewNetworkError("feed dial failed", err)
	}
	return conn, nil
}

// readFeed delivers events until the connection fails or ctx ends.
func readFeed(ctx context.Context, conn *websocket.Conn, h FeedHandler) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(feedReadWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		var e notify.Event
		if err := conn.ReadJSON(&e); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedReadWait))
		h.event(e)
	}
}
