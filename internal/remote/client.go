// Package remote implements the WebSocket RPC client for the agent chat service.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ariachat/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrClosed is returned for calls on a client that is not connected.
var ErrClosed = errors.New("chat service connection closed")

const (
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 10 * time.Second
	callBuffer         = 64
)

// Options configures a Client.
type Options struct {
	URL         string // ws:// or wss:// endpoint
	Token       string // sent as a bearer token during the handshake
	ServiceID   string // optional service selector added to every request
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// call collects the frames addressed to one outstanding request.
type call struct {
	frames chan *Envelope
	done   chan struct{}
}

// Client is a domain.ChatService over a single WebSocket connection.
// Requests are multiplexed by id; a background read loop routes responses and
// events to the waiting caller.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  chan struct{}
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*call
}

var _ domain.ChatService = (*Client)(nil)

// NewClient creates a client. Call Connect before use.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	closed := make(chan struct{})
	close(closed)
	return &Client{
		opts:    opts,
		logger:  opts.Logger,
		closed:  closed,
		pending: make(map[string]*call),
	}
}

// Connect dials the service and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.DialTimeout,
	}
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("websocket dial %s: %w", c.opts.URL, err)
	}

	closed := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.closed = closed
	c.mu.Unlock()

	go c.readLoop(conn, closed)
	c.logger.Info("connected to chat service", "url", c.opts.URL)
	return nil
}

// Close shuts the connection down. Outstanding calls return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

// Connected reports whether the read loop is running.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	select {
	case <-c.closed:
		return false
	default:
		return c.conn != nil
	}
}

// Ping checks that the service answers requests.
func (c *Client) Ping(ctx context.Context) error {
	id, cl, err := c.start(MethodPing, struct{}{})
	if err != nil {
		return err
	}
	defer c.finish(id)

	for {
		env, err := c.next(ctx, cl)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if env.Type != TypeResponse {
			continue
		}
		if env.Error != nil {
			return fmt.Errorf("ping: %w", env.Error)
		}
		return nil
	}
}

// Chat sends a chat request and delivers its progress and artifact events to
// sink until the service responds. An error returned by sink stops delivery
// and is returned wrapped; later frames for the request are discarded.
func (c *Client) Chat(ctx context.Context, req domain.ChatRequest, sink domain.ChatSink) error {
	id, cl, err := c.start(MethodChat, chatParams(req))
	if err != nil {
		return err
	}
	defer c.finish(id)

	log := c.logger.With("request", id, "session", req.SessionID)
	log.Debug("chat request sent", "history", len(req.History))

	for {
		env, err := c.next(ctx, cl)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}

		switch env.Type {
		case TypeResponse:
			if env.Error != nil {
				return fmt.Errorf("chat: %w", env.Error)
			}
			log.Debug("chat request completed")
			return nil

		case TypeEvent:
			switch env.Method {
			case MethodProgress:
				ev, err := domain.DecodeProgressEvent(env.Params)
				if err != nil {
					log.Warn("dropping malformed progress event", "err", err)
					continue
				}
				if err := sink.OnProgress(ev); err != nil {
					log.Info("chat stream stopped by receiver", "err", err)
					return fmt.Errorf("chat stream stopped: %w", err)
				}
			case MethodArtifact:
				var p ArtifactParams
				if err := json.Unmarshal(env.Params, &p); err != nil {
					log.Warn("dropping malformed artifact event", "err", err)
					continue
				}
				sink.OnArtifact(domain.Artifact{Payload: p.Artifact, URL: p.URL})
			default:
				log.Debug("ignoring event", "method", env.Method)
			}
		}
	}
}

// start registers a call and sends its request frame.
func (c *Client) start(method string, params any) (string, *call, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s params: %w", method, err)
	}

	id := uuid.NewString()
	cl := &call{frames: make(chan *Envelope, callBuffer), done: make(chan struct{})}
	c.pendingMu.Lock()
	c.pending[id] = cl
	c.pendingMu.Unlock()

	env := &Envelope{Type: TypeRequest, ID: id, Service: c.opts.ServiceID, Method: method, Params: raw}
	if err := c.send(env); err != nil {
		c.finish(id)
		return "", nil, err
	}
	return id, cl, nil
}

func (c *Client) finish(id string) {
	c.pendingMu.Lock()
	if cl, ok := c.pending[id]; ok {
		close(cl.done)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) next(ctx context.Context, cl *call) (*Envelope, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()

	select {
	case env := <-cl.frames:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		// Drain frames that arrived before the connection dropped.
		select {
		case env := <-cl.frames:
			return env, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (c *Client) send(env *Envelope) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Method, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("chat service connection lost", "err", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("unparseable frame from chat service", "err", err)
			continue
		}
		c.route(&env)
	}
}

// route hands a frame to its call. It blocks while the call's buffer is full
// so events are never dropped for a live request.
func (c *Client) route(env *Envelope) {
	if env.Type != TypeResponse && env.Type != TypeEvent {
		return
	}
	c.pendingMu.Lock()
	cl, ok := c.pending[env.ID]
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("frame for unknown request", "id", env.ID, "type", env.Type, "method", env.Method)
		return
	}

	select {
	case cl.frames <- env:
	case <-cl.done:
	}
}
