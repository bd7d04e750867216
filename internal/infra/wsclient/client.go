// Package wsclient is a WebSocket streaming source for push players.
package wsclient

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/osa030/sysaudio/internal/domain/media"
)

var ErrAlreadyConnected = errors.New("websocket already connected")

// Config configures the client.
type Config struct {
	Origin      string
	DialTimeout time.Duration
}

// DefaultConfig returns the client defaults.
func DefaultConfig() Config {
	return Config{
		Origin:      "http://localhost/",
		DialTimeout: 5 * time.Second,
	}
}

// Client receives audio frames from a WebSocket server and hands them to
// its handler. Text and binary frames are both delivered as bytes.
type Client struct {
	cfg     Config
	handler media.StreamHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	closing bool
}

var _ media.StreamSource = (*Client)(nil)

// New creates a client reporting to handler.
func New(cfg Config, handler media.StreamHandler) *Client {
	if cfg.Origin == "" {
		cfg.Origin = DefaultConfig().Origin
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	return &Client{cfg: cfg, handler: handler}
}

// NewDialer returns a constructor for players' stream sources.
func NewDialer(cfg Config) func(media.StreamHandler) media.StreamSource {
	return func(h media.StreamHandler) media.StreamSource {
		return New(cfg, h)
	}
}

// Connect dials locator and starts receiving.
func (c *Client) Connect(locator string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}

	wsCfg, err := websocket.NewConfig(locator, c.cfg.Origin)
	if err != nil {
		return errors.Wrapf(err, "invalid websocket locator %s", locator)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	conn, err := wsCfg.DialContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", locator)
	}
	conn.PayloadType = websocket.BinaryFrame

	c.conn = conn
	c.closing = false
	c.done = make(chan struct{})
	zlog.Info().Msgf("wsclient: connected: locator=%s", locator)
	c.handler.OnStreamStatus(media.StreamConnected)

	go c.receive(conn, c.done)
	return nil
}

func (c *Client) receive(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var data []byte
		err := websocket.Message.Receive(conn, &data)
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			switch {
			case closing:
				// Disconnect reports the status.
			case errors.Is(err, io.EOF):
				zlog.Info().Msgf("wsclient: server closed the connection")
				c.handler.OnStreamStatus(media.StreamDisconnected)
			default:
				zlog.Warn().Err(err).Msgf("wsclient: receive failed")
				c.handler.OnStreamStatus(media.StreamNetworkError)
			}
			return
		}
		if len(data) > 0 {
			c.handler.OnStreamData(data)
		}
	}
}

// Disconnect closes the connection and waits for the receiver to stop.
// It is a no-op when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.conn = nil
	c.mu.Unlock()

	err := conn.Close()
	<-done
	zlog.Info().Msgf("wsclient: disconnected")
	c.handler.OnStreamStatus(media.StreamDisconnected)
	return errors.Wrap(err, "failed to close websocket")
}
