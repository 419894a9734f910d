package capture

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSalt      = "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI="
	testChallenge = "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY="
)

// fakeOBS is a minimal obs-websocket v5 server.
type fakeOBS struct {
	t        *testing.T
	password string
	reject   map[string]bool
	requests chan string
}

func newFakeOBS(t *testing.T, password string) (*fakeOBS, *httptest.Server) {
	f := &fakeOBS{t: t, password: password, reject: map[string]bool{}, requests: make(chan string, 8)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func expectedAuth(password string) string {
	secret := sha256.Sum256([]byte(password + testSalt))
	auth := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(secret[:]) + testChallenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func send(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(map[string]any{"op": op, "d": json.RawMessage(raw)})
}

func (f *fakeOBS) serve(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{Subprotocols: []string{obsSubprotocol}}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	hello := map[string]any{"obsWebSocketVersion": "5.0.0", "rpcVersion": 1}
	if f.password != "" {
		hello["authentication"] = map[string]string{"challenge": testChallenge, "salt": testSalt}
	}
	if send(conn, opHello, hello) != nil {
		return
	}
	var msg obsMessage
	if conn.ReadJSON(&msg) != nil || msg.Op != opIdentify {
		return
	}
	var ident obsIdentify
	if json.Unmarshal(msg.D, &ident) != nil {
		return
	}
	if f.password != "" && ident.Authentication != expectedAuth(f.password) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4009, "Authentication failed."))
		return
	}
	if ident.EventSubscriptions&subscribeOutputs == 0 {
		return
	}
	if send(conn, opIdentified, map[string]int{"negotiatedRpcVersion": 1}) != nil {
		return
	}

	for {
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != opRequest {
			continue
		}
		var req obsRequest
		if json.Unmarshal(msg.D, &req) != nil {
			return
		}
		f.requests <- req.RequestType
		ok := !f.reject[req.RequestType]
		status := map[string]any{"result": ok, "code": 100}
		if !ok {
			status["code"] = 500
			status["comment"] = "output already active"
		}
		if send(conn, opRequestResponse, map[string]any{
			"requestType": req.RequestType, "requestId": req.RequestID, "requestStatus": status,
		}) != nil {
			return
		}
		if !ok {
			continue
		}
		state := outputStarted
		if req.RequestType == "StopRecord" {
			state = outputStopped
		}
		// A non-recording event is ignored by the client.
		_ = send(conn, opEvent, map[string]any{"eventType": "StreamStateChanged", "eventIntent": 64})
		_ = send(conn, opEvent, map[string]any{
			"eventType":   "RecordStateChanged",
			"eventIntent": subscribeOutputs,
			"eventData":   map[string]any{"outputActive": ok, "outputState": state, "outputPath": "/tmp/capture.mkv"},
		})
	}
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestAuthResponseMatchesProtocol(t *testing.T) {
	assert.Equal(t, expectedAuth("hunter2"), authResponse("hunter2", testSalt, testChallenge))
	assert.NotEqual(t, authResponse("hunter2", testSalt, testChallenge), authResponse("hunter3", testSalt, testChallenge))
}

func TestOBSClientRecordsWithAcknowledgements(t *testing.T) {
	fake, srv := newFakeOBS(t, "hunter2")
	c := NewOBSClient(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx, strings.TrimPrefix(srv.URL, "http://"), "hunter2"))
	waitEvent(t, c.Events(), Connected)

	require.NoError(t, c.StartRecording(ctx))
	assert.Equal(t, "StartRecord", <-fake.requests)
	waitEvent(t, c.Events(), Started)

	require.NoError(t, c.StopRecording(ctx))
	assert.Equal(t, "StopRecord", <-fake.requests)
	waitEvent(t, c.Events(), Stopped)

	require.NoError(t, c.Close())
	waitEvent(t, c.Events(), Disconnected)
}

func TestOBSClientWithoutAuthentication(t *testing.T) {
	_, srv := newFakeOBS(t, "")
	c := NewOBSClient(nil)
	defer c.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	require.NoError(t, c.Connect(context.Background(), url, ""))
	waitEvent(t, c.Events(), Connected)
}

func TestOBSClientRejectsWrongPassword(t *testing.T) {
	_, srv := newFakeOBS(t, "hunter2")
	c := NewOBSClient(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Connect(ctx, srv.URL[len("http://"):], "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identified")

	err = c.Connect(ctx, srv.URL[len("http://"):], "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password")
}

func TestOBSClientReportsRejectedRequest(t *testing.T) {
	fake, srv := newFakeOBS(t, "")
	fake.reject["StartRecord"] = true
	c := NewOBSClient(nil)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, srv.URL[len("http://"):], ""))

	err := c.StartRecording(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output already active")
}

func TestOBSClientRequestWithoutConnection(t *testing.T) {
	c := NewOBSClient(nil)
	assert.ErrorIs(t, c.StartRecording(context.Background()), errNotConnected)
	assert.NoError(t, c.Close())
}

func TestOBSClientDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL[len("http://"):]
	srv.Close()

	c := NewOBSClient(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Connect(ctx, addr, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ws://"+addr)
}
