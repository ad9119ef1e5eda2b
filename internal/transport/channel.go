package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/voice-client/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait        = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxMessageSize   = 8 * 1024 * 1024
)

type Source string

const (
	SourcePrimary Source = "primary"
	SourceEvents  Source = "events"
)

// Message is one fully reassembled inbound frame.
type Message struct {
	Source Source
	Data   []byte
}

type ChannelConfig struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxMessageSize   int64
}

func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

// Channel is one duplex websocket connection. Writes are serialized; a
// single goroutine may run Receive.
type Channel struct {
	source Source
	ws     *websocket.Conn
	cfg    ChannelConfig
	log    *slog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func Dial(ctx context.Context, url string, header http.Header, source Source, cfg ChannelConfig, log *slog.Logger) (*Channel, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   16 * 1024,
		WriteBufferSize:  16 * 1024,
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s %s: %w (status %d)", source, url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s %s: %w", source, url, err)
	}

	return newChannel(ws, source, cfg, log), nil
}

func newChannel(ws *websocket.Conn, source Source, cfg ChannelConfig, log *slog.Logger) *Channel {
	return &Channel{
		source: source,
		ws:     ws,
		cfg:    cfg,
		log:    log.With("channel", string(source)),
		done:   make(chan struct{}),
	}
}

func (c *Channel) Source() Source {
	return c.source
}

func (c *Channel) Closed() bool {
	return c.closed.Load()
}

func (c *Channel) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return shared.ErrClosed
	}

	deadline := time.Now().Add(c.cfg.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", c.source, err)
	}
	return nil
}

// Receive reads whole messages into out until the remote closes, the
// connection fails, or ctx is cancelled. A normal remote close returns nil.
func (c *Channel) Receive(ctx context.Context, out chan<- Message) error {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()
	defer c.markClosed()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, r, err := c.ws.NextReader()
		if err != nil {
			return c.readError(ctx, err)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return c.readError(ctx, err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		select {
		case out <- Message{Source: c.source, Data: data}:
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		}
	}
}

func (c *Channel) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil || c.closed.Load() {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.log.Info("remote closed channel", "code", ce.Code, "reason", ce.Text)
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
			return nil
		}
	}
	return fmt.Errorf("read %s: %w", c.source, err)
}

func (c *Channel) Ping(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.log.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// Close sends a normal-closure frame and releases the connection. It is
// safe to call more than once and concurrently with Receive.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		wasOpen := !c.closed.Swap(true)
		close(c.done)
		if wasOpen {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
		}
		err = c.ws.Close()
	})
	return err
}

func (c *Channel) markClosed() {
	c.closed.Store(true)
}
