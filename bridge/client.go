package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is one server-to-client event delivered on a session channel.
type Event struct {
	Type string
	Data string
}

// Client is a Go client for the bridge server. It holds at most one session
// channel at a time.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL string
	wsURL   string

	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)

	conn      *websocket.Conn
	events    chan Event
	closeOnce sync.Once
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("bridge_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewClient(log *zap.SugaredLogger, host string, port int, opts ...ClientOption) *Client {
	c := &Client{
		Logger:       log.Named("bridge_client"),
		baseURL:      fmt.Sprintf("http://%s:%d", host, port),
		wsURL:        fmt.Sprintf("ws://%s:%d/ws", host, port),
		waitInterval: 100 * time.Millisecond,
		events:       make(chan Event, 64),
	}

	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c
}

func (c *Client) SendHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	u := c.baseURL + "/heartbeat"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building heartbeat request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected heartbeat status code %d", resp.StatusCode)
	}
	return nil
}

// WaitForServer polls the heartbeat endpoint until the server responds or the
// context is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.SendHeartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

// Connect opens the session channel. The given context scopes the whole
// session; canceling it tears the channel down.
func (c *Client) Connect(ctx context.Context) error {
	c.Logger.Debugw("dialing WebSocket", "URL", c.wsURL)
	wsConn, _, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("establishing WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(readLimit)
	c.conn = wsConn

	go c.readEvents(ctx)
	return nil
}

func (c *Client) readEvents(ctx context.Context) {
	defer close(c.events)
	for {
		var msg message
		err := wsjson.Read(ctx, c.conn, &msg)
		if websocket.CloseStatus(err) != -1 {
			c.Logger.Debug("session channel closed")
			return
		}
		if err != nil {
			c.Logger.Debugf("event reader got error: %s", err)
			return
		}
		c.events <- Event{Type: msg.Event, Data: msg.Data}
	}
}

// Events returns the channel of server events. It is closed when the session
// channel goes away.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send submits one raw command line for dispatch.
func (c *Client) Send(ctx context.Context, command string) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return wsjson.Write(ctx, c.conn, message{Event: EventCommand, Data: command})
}

// Ping sends a liveness probe; the server answers with a pong event.
func (c *Client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return wsjson.Write(ctx, c.conn, message{Event: EventPing})
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.conn != nil {
			err = c.conn.Close(websocket.StatusNormalClosure, "")
		}
	})
	return err
}

// RunCommand executes a one-shot shell command via the buffered REST runner
// and returns its full output.
func (c *Client) RunCommand(ctx context.Context, command string) (*PostCommandResponse, error) {
	b, err := json.Marshal(PostCommandRequest{Command: command})
	if err != nil {
		return nil, err
	}
	u := c.baseURL + "/command"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending command over HTTP: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(httpResp.Body)
		if readErr != nil {
			body = []byte(fmt.Errorf("error reading body: %w", readErr).Error())
		}
		return nil, fmt.Errorf("non-200 HTTP status code %d received when running command: %s", httpResp.StatusCode, body)
	}

	var resp PostCommandResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding command response: %w", err)
	}
	return &resp, nil
}
