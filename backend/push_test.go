package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdginn/showctl/engine"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []engine.PushEvent
}

func (h *recordingHandler) HandlePush(ctx context.Context, ev engine.PushEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandler) received() []engine.PushEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]engine.PushEvent(nil), h.events...)
}

// pushServer accepts websocket clients, records what they send and lets the test push
// frames to the most recent one.
type pushServer struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	joined   []Frame
	clients  []string
	connects int
}

func newPushServer(t *testing.T) (*pushServer, string) {
	t.Helper()
	ps := &pushServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conn = conn
		ps.connects++
		ps.clients = append(ps.clients, r.Header.Get("X-Client-Id"))
		ps.mu.Unlock()
		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			ps.mu.Lock()
			ps.joined = append(ps.joined, f)
			ps.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return ps, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (ps *pushServer) send(t *testing.T, frame string) {
	t.Helper()
	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.NotNil(t, ps.conn)
	require.NoError(t, ps.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (ps *pushServer) dropClient() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.conn != nil {
		ps.conn.Close()
		ps.conn = nil
	}
}

func (ps *pushServer) snapshot() (joined []Frame, connects int, clients []string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]Frame(nil), ps.joined...), ps.connects, append([]string(nil), ps.clients...)
}

func runPushClient(t *testing.T, url string, h PushHandler) *PushClient {
	t.Helper()
	pc := NewPushClient(url, h)
	pc.ReconnectDelay = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, pc.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return pc
}

func TestPushClientJoinsAndForwards(t *testing.T) {
	ps, url := newPushServer(t)
	h := &recordingHandler{}
	pc := runPushClient(t, url, h)

	require.NoError(t, pc.Join("E1"))
	require.Eventually(t, func() bool {
		_, connects, _ := ps.snapshot()
		return connects == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		joined, _, _ := ps.snapshot()
		return len(joined) == 1
	}, time.Second, 5*time.Millisecond)
	joined, _, clients := ps.snapshot()
	assert.Equal(t, Frame{Type: "joinEvent", EventID: "E1"}, joined[0])
	assert.Equal(t, []string{pc.ID}, clients)

	ps.send(t, `{"type":"timerUpdated","eventId":"E1","data":{"item_id":3,"is_running":true,"duration_seconds":90,"started_at":"2026-05-02T19:00:00Z"}}`)
	ps.send(t, `not json`)
	ps.send(t, `{"type":"startCueSelectionUpdate","data":{"event_id":"E1","item_id":"8"}}`)
	ps.send(t, `{"type":"runOfShowDataUpdated","data":{"event_id":"E1"}}`)

	require.Eventually(t, func() bool { return len(h.received()) == 3 }, time.Second, 5*time.Millisecond)
	got := h.received()

	assert.Equal(t, engine.PushTimerUpdated, got[0].Type)
	assert.Equal(t, "E1", got[0].EventID)
	require.NotNil(t, got[0].Timer)
	assert.Equal(t, 3, got[0].Timer.ItemID)
	assert.True(t, got[0].Timer.IsRunning)
	assert.Equal(t, 90, got[0].Timer.DurationSeconds)

	assert.Equal(t, engine.PushStartCueSelection, got[1].Type)
	assert.Equal(t, "E1", got[1].EventID)
	require.NotNil(t, got[1].StartCueID)
	assert.Equal(t, 8, *got[1].StartCueID)

	assert.Equal(t, engine.PushScheduleUpdated, got[2].Type)
}

func TestPushClientReconnectsAndRejoins(t *testing.T) {
	ps, url := newPushServer(t)
	pc := runPushClient(t, url, &recordingHandler{})
	require.NoError(t, pc.Join("E7"))

	require.Eventually(t, func() bool {
		joined, _, _ := ps.snapshot()
		return len(joined) == 1
	}, time.Second, 5*time.Millisecond)

	ps.dropClient()
	require.Eventually(t, func() bool {
		joined, connects, _ := ps.snapshot()
		return connects == 2 && len(joined) == 2
	}, 2*time.Second, 5*time.Millisecond)

	joined, _, _ := ps.snapshot()
	assert.Equal(t, "E7", joined[1].EventID)
}

func TestPushClientFollowsEngine(t *testing.T) {
	ps, url := newPushServer(t)
	pc := runPushClient(t, url, &recordingHandler{})
	require.Eventually(t, func() bool {
		_, connects, _ := ps.snapshot()
		return connects == 1
	}, time.Second, 5*time.Millisecond)

	notes := make(chan engine.Notification, 4)
	notes <- engine.Notification{Kind: engine.NotifyTick}
	notes <- engine.Notification{Kind: engine.NotifyState, Session: &engine.Session{EventID: "E2"}}
	notes <- engine.Notification{Kind: engine.NotifyState, Session: &engine.Session{EventID: "E2", CurrentDay: 2}}
	notes <- engine.Notification{Kind: engine.NotifyState, Session: &engine.Session{EventID: "E3"}}
	close(notes)
	pc.Follow(notes)

	require.Eventually(t, func() bool {
		joined, _, _ := ps.snapshot()
		return len(joined) == 2
	}, time.Second, 5*time.Millisecond)
	joined, _, _ := ps.snapshot()
	assert.Equal(t, "E2", joined[0].EventID)
	assert.Equal(t, "E3", joined[1].EventID)
}

func TestDecodePushEventIDFallback(t *testing.T) {
	ev, err := decodePush([]byte(`{"type":"timerStopped","data":{"event_id":42}}`))
	require.NoError(t, err)
	assert.Equal(t, engine.PushTimerStopped, ev.Type)
	assert.Equal(t, "42", ev.EventID)
	assert.Nil(t, ev.Timer)

	_, err = decodePush([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestDecodePushStoppedTimer(t *testing.T) {
	ev, err := decodePush([]byte(`{"type":"timerUpdated","eventId":"E1","data":{"item_id":7,"is_active":false,"is_running":false,"timer_state":"stopped","started_at":"2026-01-01T10:00:00Z","duration_seconds":300}}`))
	require.NoError(t, err)
	assert.Equal(t, engine.PushTimerUpdated, ev.Type)
	assert.Equal(t, "E1", ev.EventID)
	require.NotNil(t, ev.Timer)
	assert.Equal(t, 7, ev.Timer.ItemID)
	assert.Equal(t, 300, ev.Timer.DurationSeconds)
	assert.False(t, ev.Timer.IsRunning)
	assert.Nil(t, ev.Timer.StartedAt)

	ev, err = decodePush([]byte(`{"type":"timerUpdated","eventId":"E1","data":{"itemId":7,"timerState":"running","startedAt":"2026-01-01T10:00:00Z"}}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Timer)
	assert.True(t, ev.Timer.IsRunning)
	require.NotNil(t, ev.Timer.StartedAt)
	assert.Equal(t, 10, ev.Timer.StartedAt.Hour())
}
