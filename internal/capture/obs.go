package capture

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"retrace/internal/logging"
)

// obs-websocket v5 op codes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const (
	obsSubprotocol   = "obswebsocket.json"
	obsRPCVersion    = 1
	subscribeOutputs = 1 << 6

	outputStarted = "OBS_WEBSOCKET_OUTPUT_STARTED"
	outputStopped = "OBS_WEBSOCKET_OUTPUT_STOPPED"

	eventBuffer  = 32
	writeTimeout = 5 * time.Second
)

var errNotConnected = errors.New("not connected to capture recorder")

type obsMessage struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type obsHello struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type obsIdentify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type obsRequest struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
}

type obsRequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

type obsResponse struct {
	RequestType   string           `json:"requestType"`
	RequestID     string           `json:"requestId"`
	RequestStatus obsRequestStatus `json:"requestStatus"`
}

type obsEvent struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
}

type obsRecordState struct {
	OutputActive bool   `json:"outputActive"`
	OutputState  string `json:"outputState"`
	OutputPath   string `json:"outputPath"`
}

// OBSClient speaks obs-websocket v5 over a websocket connection.
type OBSClient struct {
	logger *slog.Logger
	dialer *websocket.Dialer
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan obsRequestStatus
	done    chan struct{}
	closing bool
}

var _ Recorder = (*OBSClient)(nil)

// NewOBSClient returns a disconnected client.
func NewOBSClient(logger *slog.Logger) *OBSClient {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OBSClient{
		logger: logging.NewComponentLogger(logger, "capture"),
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second, Subprotocols: []string{obsSubprotocol}},
		events: make(chan Event, eventBuffer),
	}
}

// Events implements Recorder.
func (c *OBSClient) Events() <-chan Event { return c.events }

// Connect dials url (host:port or a ws:// URL), completes the identify
// handshake and starts reading events.
func (c *OBSClient) Connect(ctx context.Context, url, password string) error {
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	conn, resp, err := c.dialer.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := identify(conn, password); err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.pending = make(map[string]chan obsRequestStatus)
	c.done = make(chan struct{})
	c.closing = false
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, done)
	c.logger.Info("capture recorder connected", logging.String("url", url))
	c.emit(Event{Kind: Connected})
	return nil
}

func identify(conn *websocket.Conn, password string) error {
	var hello obsHello
	if err := readOp(conn, opHello, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	msg := obsIdentify{RPCVersion: obsRPCVersion, EventSubscriptions: subscribeOutputs}
	if hello.Authentication != nil {
		if password == "" {
			return errors.New("capture recorder requires a password")
		}
		msg.Authentication = authResponse(password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	if err := writeOp(conn, opIdentify, msg); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	var identified json.RawMessage
	if err := readOp(conn, opIdentified, &identified); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	return nil
}

// authResponse computes base64(sha256(base64(sha256(password+salt))+challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	encoded := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(encoded + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func readOp(conn *websocket.Conn, op int, into any) error {
	var msg obsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return err
	}
	if msg.Op != op {
		return fmt.Errorf("unexpected op %d, want %d", msg.Op, op)
	}
	return json.Unmarshal(msg.D, into)
}

func writeOp(conn *websocket.Conn, op int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(obsMessage{Op: op, D: raw})
}

func (c *OBSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var msg obsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.disconnected(conn, err)
			return
		}
		switch msg.Op {
		case opEvent:
			c.handleEvent(msg.D)
		case opRequestResponse:
			var resp obsResponse
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				c.logger.Debug("discarding malformed response", logging.Error(err))
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- resp.RequestStatus
			}
		}
	}
}

func (c *OBSClient) handleEvent(raw json.RawMessage) {
	var ev obsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.logger.Debug("discarding malformed event", logging.Error(err))
		return
	}
	if ev.EventType != "RecordStateChanged" {
		return
	}
	var state obsRecordState
	if err := json.Unmarshal(ev.EventData, &state); err != nil {
		c.logger.Debug("discarding malformed record state", logging.Error(err))
		return
	}
	switch state.OutputState {
	case outputStarted:
		c.logger.Info("capture recording started", logging.String("output_path", state.OutputPath))
		c.emit(Event{Kind: Started})
	case outputStopped:
		c.logger.Info("capture recording stopped", logging.String("output_path", state.OutputPath))
		c.emit(Event{Kind: Stopped})
	}
}

func (c *OBSClient) disconnected(conn *websocket.Conn, err error) {
	c.mu.Lock()
	closing := c.closing
	current := c.conn == conn
	if current {
		c.conn = nil
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
	if !current {
		// Replaced by a newer connection.
		return
	}
	if !closing {
		c.logger.Warn("capture recorder disconnected", logging.Error(err))
	}
	c.emit(Event{Kind: Disconnected, Err: err})
}

// emit never blocks; the gate drains events once per tick.
func (c *OBSClient) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("capture event dropped", logging.String("event", ev.Kind.String()))
	}
}

// StartRecording asks the recorder to start. The Started event confirms it.
func (c *OBSClient) StartRecording(ctx context.Context) error {
	return c.request(ctx, "StartRecord")
}

// StopRecording asks the recorder to stop. The Stopped event confirms it.
func (c *OBSClient) StopRecording(ctx context.Context) error {
	return c.request(ctx, "StopRecord")
}

func (c *OBSClient) request(ctx context.Context, requestType string) error {
	id := uuid.NewString()
	reply := make(chan obsRequestStatus, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return errNotConnected
	}
	c.pending[id] = reply
	err := writeOp(conn, opRequest, obsRequest{RequestType: requestType, RequestID: id})
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: %w", requestType, err)
	}

	select {
	case status, ok := <-reply:
		if !ok {
			return fmt.Errorf("%s: %w", requestType, errNotConnected)
		}
		if !status.Result {
			return fmt.Errorf("%s rejected (code %d): %s", requestType, status.Code, status.Comment)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Close disconnects and waits for the reader to finish.
func (c *OBSClient) Close() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.closing = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}
