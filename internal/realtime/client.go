package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	socketPath = "/socket.io/"

	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
	handshakeTimeout  = 10 * time.Second
)

// Client keeps a Socket.IO connection to the backend open and turns its
// frames into Events. Run reconnects with exponential backoff until the
// context is cancelled.
type Client struct {
	httpURL *url.URL
	wsURL   string
	jar     http.CookieJar
	dialer  *websocket.Dialer
	logger  *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	events chan Event
}

// Option configures a Client
type Option func(*Client)

// WithJar sends the session cookies held in jar with every dial
func WithJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.jar = jar
	}
}

// WithLogger attaches a logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff sets the reconnect delay bounds
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = min
		c.maxBackoff = max
	}
}

// WithBuffer sets the event channel capacity
func WithBuffer(n int) Option {
	return func(c *Client) {
		c.events = make(chan Event, n)
	}
}

// New prepares a client for the backend at serverURL (http or https)
func New(serverURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server URL: %w", err)
	}
	ws := *u
	switch u.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("server URL must be http or https, got %q", serverURL)
	}
	ws.Path = strings.TrimRight(u.Path, "/") + socketPath
	ws.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()

	c := &Client{
		httpURL:    u,
		wsURL:      ws.String(),
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:     zap.NewNop(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		events:     make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the websocket endpoint
func (c *Client) URL() string {
	return c.wsURL
}

// Events delivers socket events. It is closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run connects and serves the socket until ctx is cancelled. It must be
// called once.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.minBackoff
	b.MaxInterval = c.maxBackoff

	for {
		connected, err := c.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
			c.emit(ctx, Event{Name: EventDisconnect, At: time.Now(), Err: err})
		}

		wait := b.NextBackOff()
		c.logger.Warn("socket_reconnect",
			zap.String("url", c.wsURL),
			zap.Duration("wait", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Probe dials once, completes the handshake, and hangs up. It reports the
// server's open payload.
func (c *Client) Probe(ctx context.Context) (OpenPayload, error) {
	conn, open, err := c.connect(ctx)
	if err != nil {
		return OpenPayload{}, err
	}
	conn.Close()
	return open, nil
}

// serve runs one connection. connected is true once the namespace connect
// was acknowledged.
func (c *Client) serve(ctx context.Context) (connected bool, err error) {
	conn, open, err := c.connect(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	c.logger.Info("socket_connected", zap.String("sid", open.SID))
	c.emit(ctx, Event{Name: EventConnect, At: time.Now()})

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := open.Deadline()
	for {
		conn.SetReadDeadline(time.Now().Add(deadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("failed to read socket: %w", err)
		}
		pkt, err := ParsePacket(msg)
		if err != nil {
			c.logger.Debug("socket_bad_packet", zap.ByteString("frame", msg), zap.Error(err))
			continue
		}

		switch pkt.Kind {
		case PacketPing:
			if err := conn.WriteMessage(websocket.TextMessage, pongFrame(pkt.Data)); err != nil {
				return true, fmt.Errorf("failed to answer ping: %w", err)
			}
		case PacketEvent:
			c.logger.Debug("socket_event", zap.String("name", pkt.Event))
			c.emit(ctx, Event{Name: pkt.Event, Data: pkt.Data, At: time.Now()})
		case PacketDisconnect:
			return true, errors.New("server disconnected the namespace")
		case PacketClose:
			return true, errors.New("server closed the connection")
		}
	}
}

// connect dials and completes the Engine.IO open and Socket.IO connect
// exchange.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, OpenPayload, error) {
	header := http.Header{}
	if c.jar != nil {
		var parts []string
		for _, ck := range c.jar.Cookies(c.httpURL) {
			parts = append(parts, ck.Name+"="+ck.Value)
		}
		if len(parts) > 0 {
			header.Set("Cookie", strings.Join(parts, "; "))
		}
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return nil, OpenPayload{}, fmt.Errorf("failed to dial %s: %w", c.wsURL, err)
	}

	open, err := handshake(conn)
	if err != nil {
		conn.Close()
		return nil, OpenPayload{}, err
	}
	return conn, open, nil
}

func handshake(conn *websocket.Conn) (OpenPayload, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	pkt, err := readPacket(conn)
	if err != nil {
		return OpenPayload{}, err
	}
	if pkt.Kind != PacketOpen {
		return OpenPayload{}, fmt.Errorf("expected open packet, got %s", pkt.Kind)
	}
	var open OpenPayload
	if err := json.Unmarshal(pkt.Data, &open); err != nil {
		return OpenPayload{}, fmt.Errorf("invalid open packet: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, frameConnect); err != nil {
		return OpenPayload{}, fmt.Errorf("failed to send connect: %w", err)
	}
	for {
		pkt, err := readPacket(conn)
		if err != nil {
			return OpenPayload{}, err
		}
		switch pkt.Kind {
		case PacketConnect:
			return open, nil
		case PacketConnectError:
			return OpenPayload{}, fmt.Errorf("connection refused: %s", pkt.Data)
		case PacketPing:
			if err := conn.WriteMessage(websocket.TextMessage, framePong); err != nil {
				return OpenPayload{}, fmt.Errorf("failed to answer ping: %w", err)
			}
		}
	}
}

func readPacket(conn *websocket.Conn) (Packet, error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return Packet{}, fmt.Errorf("failed to read handshake: %w", err)
	}
	return ParsePacket(msg)
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
