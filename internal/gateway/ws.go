package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/txnflow/pkg/errors"
	"github.com/angelmondragon/txnflow/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer     = 32
	defaultWriteTimeout   = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultMaxMessageSize = 4096
)

type ServerOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	return o
}

// Server upgrades HTTP requests to WebSocket push channels attached to a Hub.
type Server struct {
	hub      *Hub
	logg     *logger.Logger
	opts     ServerOptions
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, opts ServerOptions, logg *logger.Logger) *Server {
	if logg == nil {
		logg = logger.Nop()
	}
	opts = opts.withDefaults()
	return &Server{
		hub:  hub,
		logg: logg,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := map[string]struct{}{}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wc, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logg.Warn(s.logg.WithField(r.Context(), "error", err.Error()), "websocket upgrade failed")
		return
	}

	c := newConn(uuid.NewString(), wc, s.opts.SendBuffer)
	ctx := s.logg.WithClientID(context.WithoutCancel(r.Context()), c.id)
	s.hub.Register(c)
	s.logg.Info(ctx, "client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(s.opts.WriteTimeout, s.opts.PingInterval)
	}()

	if err := s.readLoop(ctx, c); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "client read failed")
	}
	s.hub.Disconnect(ctx, c.id)
	c.close()
	<-writerDone
}

func (s *Server) readLoop(ctx context.Context, c *conn) error {
	pongWait := s.opts.PingInterval * 2
	c.wc.SetReadLimit(s.opts.MaxMessageSize)
	_ = c.wc.SetReadDeadline(time.Now().Add(pongWait))
	c.wc.SetPongHandler(func(string) error {
		return c.wc.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		op, data, err := c.wc.ReadMessage()
		if err != nil {
			// client went away
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil
			}
			return err
		}
		if op != websocket.TextMessage {
			continue
		}
		s.handleFrame(ctx, c.id, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, clientID string, data []byte) {
	frame, err := decodeFrame(data)
	if err != nil {
		s.hub.reject(ctx, clientID, err)
		return
	}
	switch frame.Event {
	case FrameSubscribe, FrameUnsubscribe:
		req, err := decodeSubscription(frame)
		if err != nil {
			s.hub.reject(ctx, clientID, err)
			return
		}
		if frame.Event == FrameSubscribe {
			_ = s.hub.Subscribe(ctx, clientID, req)
		} else {
			_ = s.hub.Unsubscribe(ctx, clientID, req)
		}
	default:
		s.hub.reject(ctx, clientID, pkgerrors.New(pkgerrors.CodeValidation, "unknown event "+frame.Event))
	}
}

// conn is a Client backed by a WebSocket connection. Frames are queued on send
// and written by a single writer goroutine.
type conn struct {
	id   string
	wc   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newConn(id string, wc *websocket.Conn, buffer int) *conn {
	return &conn{
		id:   id,
		wc:   wc,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) writeLoop(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.wc.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
