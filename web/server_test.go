package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdginn/showctl/engine"
	"github.com/jdginn/showctl/engine/enginetest"
)

type fixture struct {
	eng   *engine.Engine
	be    *enginetest.FakeBackend
	clock *enginetest.FakeClock
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	be := enginetest.NewFakeBackend()
	be.SetEvent("E1", enginetest.EventData{
		Summary: engine.EventSummary{Name: "Spring Gala", Date: "2026-05-02"},
		Items: []engine.ScheduleItem{
			enginetest.Item(1, 1, "1", 5),
			enginetest.Item(2, 2, "2", 60),
		},
	})
	clock := enginetest.NewFakeClock(time.Date(2026, 5, 2, 19, 0, 0, 0, time.UTC))
	eng := engine.New(be, engine.Options{Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()

	srv := httptest.NewServer(New("", eng).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &fixture{eng: eng, be: be, clock: clock, srv: srv}
}

func (f *fixture) request(t *testing.T, method, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn, typ string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, body := f.request(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","version":"dev"}`, body)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	code, body := f.request(t, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"eventId":""`)

	require.NoError(t, f.eng.LoadEvent(context.Background(), "E1"))
	_, err := f.eng.LoadCue(context.Background(), "1")
	require.NoError(t, err)

	code, body = f.request(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, code)
	var sess engine.Session
	require.NoError(t, json.Unmarshal([]byte(body), &sess))
	assert.Equal(t, "E1", sess.EventID)
	assert.Equal(t, []int{1, 2}, sess.Days)
	require.NotNil(t, sess.ActiveItemID)
	assert.Equal(t, 1, *sess.ActiveItemID)
	require.NotNil(t, sess.Timer)
	assert.False(t, sess.Timer.IsRunning)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	code, body := f.request(t, http.MethodGet, "/api/events")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[{"id":"E1","name":"Spring Gala","date":"2026-05-02"}]`, body)
}

func TestRefreshErrors(t *testing.T) {
	f := newFixture(t)
	code, body := f.request(t, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body, `"code":"NO_EVENT"`)

	require.NoError(t, f.eng.LoadEvent(context.Background(), "E1"))
	f.be.SetErr(errors.New("connection refused"))
	code, body = f.request(t, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body, "connection refused")

	f.be.SetErr(nil)
	code, body = f.request(t, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"eventId":"E1"`)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	code, body := f.request(t, http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, `"code":"HTTP_ERROR"`)
}

func TestFeed(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	first := readMsg(t, conn, MsgTypeState)
	var sess engine.Session
	require.NoError(t, json.Unmarshal(first.Payload, &sess))
	assert.Equal(t, "", sess.EventID)

	require.NoError(t, f.eng.LoadEvent(context.Background(), "E1"))
	msg := readMsg(t, conn, MsgTypeState)
	require.NoError(t, json.Unmarshal(msg.Payload, &sess))
	assert.Equal(t, "E1", sess.EventID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing}))
	readMsg(t, conn, MsgTypePong)
}

func TestFeedCarriesMutationErrors(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.eng.LoadEvent(context.Background(), "E1"))
	conn := f.dial(t)
	readMsg(t, conn, MsgTypeState)

	f.be.SetMutationErr(errors.New("HTTP 500"))
	_, err := f.eng.LoadCue(context.Background(), "1")
	require.NoError(t, err)

	msg := readMsg(t, conn, MsgTypeError)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Contains(t, p.Message, "HTTP 500")
	assert.NotEmpty(t, p.Op)
}

func TestEncodeNotification(t *testing.T) {
	at := time.Date(2026, 5, 2, 19, 0, 0, 0, time.UTC)
	msg, ok := encodeNotification(engine.Notification{
		Kind: engine.NotifyTick,
		At:   at,
		Tick: &engine.TickSummary{EventID: "E1", ItemID: 2, ElapsedSeconds: 7, RemainingSeconds: 53, DurationSeconds: 60, Tick: 7},
	})
	require.True(t, ok)
	assert.Equal(t, MsgTypeTick, msg.Type)
	assert.Equal(t, at.UnixMilli(), msg.Timestamp)
	assert.JSONEq(t, `{"eventId":"E1","itemId":2,"elapsedSeconds":7,"remainingSeconds":53,"durationSeconds":60,"tick":7}`, string(msg.Payload))

	_, ok = encodeNotification(engine.Notification{Kind: engine.NotifyState})
	assert.False(t, ok, "state without a session is skipped")
}
