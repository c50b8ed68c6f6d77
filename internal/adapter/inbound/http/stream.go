package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrConnectionClosed is returned when connecting a stream that is already closed.
var ErrConnectionClosed = errors.New("stream connection closed")

// SessionIDParam is the query parameter carrying the session ID on message posts.
const SessionIDParam = "sessionId"

type streamState int

const (
	streamOpen streamState = iota
	streamClosed
)

func (s streamState) String() string {
	if s == streamClosed {
		return "closed"
	}
	return "open"
}

// StreamConnection wraps one accepted GET /sse response as an MCP transport.
//
// It is connected to the protocol engine exactly once. Messages the client
// posts to the advertised endpoint are handed to HandleMessage. The
// connection moves from open to closed once; the close hook runs exactly once
// and is the last hook to run.
type StreamConnection struct {
	id        string
	endpoint  string
	response  http.ResponseWriter
	transport *mcp.SSEServerTransport

	mu      sync.Mutex
	state   streamState
	conn    *streamConn
	onClose func()
	onError func(error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamConnection creates a stream bound to w that tells the client to
// post its messages to messagePath?sessionId=<id>.
func NewStreamConnection(messagePath string, w http.ResponseWriter) *StreamConnection {
	id := uuid.NewString()
	endpoint := messagePath + "?" + url.Values{SessionIDParam: {id}}.Encode()
	return &StreamConnection{
		id:        id,
		endpoint:  endpoint,
		response:  w,
		transport: &mcp.SSEServerTransport{Endpoint: endpoint, Response: w},
		done:      make(chan struct{}),
	}
}

// SessionID returns the server-issued session identifier.
func (c *StreamConnection) SessionID() string {
	return c.id
}

// Endpoint returns the message endpoint advertised to the client.
func (c *StreamConnection) Endpoint() string {
	return c.endpoint
}

// OnClose sets the hook run once when the connection closes.
func (c *StreamConnection) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// OnError sets the hook run for transport errors observed while open.
// An error does not close the connection by itself.
func (c *StreamConnection) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Done is closed once the connection is closed.
func (c *StreamConnection) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether the connection has been closed.
func (c *StreamConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == streamClosed
}

// Connect implements mcp.Transport. It writes the SSE response headers and
// the endpoint event.
func (c *StreamConnection) Connect(ctx context.Context) (mcp.Connection, error) {
	c.mu.Lock()
	if c.state == streamClosed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}

	h := c.response.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	conn, err := c.transport.Connect(ctx)
	if err != nil {
		c.mu.Unlock()
		c.reportError(err)
		return nil, err
	}
	c.conn = &streamConn{Connection: conn, owner: c}
	c.mu.Unlock()
	return c.conn, nil
}

// HandleMessage implements StreamSession. The reply status and body come
// from the transport: 202 once the message is queued for the engine.
func (c *StreamConnection) HandleMessage(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	ready := c.state == streamOpen && c.conn != nil
	c.mu.Unlock()

	if !ready {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}
	c.transport.ServeHTTP(w, r)
}

// Close implements StreamSession. Closing an already closed connection is a no-op.
func (c *StreamConnection) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	c.markClosed()
	return nil
}

func (c *StreamConnection) markClosed() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = streamClosed
		onClose := c.onClose
		c.mu.Unlock()

		close(c.done)
		if onClose != nil {
			onClose()
		}
	})
}

func (c *StreamConnection) reportError(err error) {
	c.mu.Lock()
	onError := c.onError
	closed := c.state == streamClosed
	c.mu.Unlock()

	if closed || onError == nil {
		return
	}
	onError(err)
}

// streamConn decorates the SDK connection so that engine-side closes and
// I/O failures reach the StreamConnection hooks.
type streamConn struct {
	mcp.Connection
	owner *StreamConnection
}

func (s *streamConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := s.Connection.Read(ctx)
	if err != nil && !isEndOfStream(ctx, err) {
		s.owner.reportError(err)
	}
	return msg, err
}

func (s *streamConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	err := s.Connection.Write(ctx, msg)
	if err != nil && !isEndOfStream(ctx, err) {
		s.owner.reportError(err)
	}
	return err
}

func (s *streamConn) Close() error {
	err := s.Connection.Close()
	s.owner.markClosed()
	return err
}

func (s *streamConn) SessionID() string {
	return s.owner.id
}

func isEndOfStream(ctx context.Context, err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil
}

var (
	_ mcp.Transport  = (*StreamConnection)(nil)
	_ StreamSession  = (*StreamConnection)(nil)
	_ mcp.Connection = (*streamConn)(nil)
)
