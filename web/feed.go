package web

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/jdginn/showctl/engine"
)

// Feed message types.
const (
	MsgTypeState = "state"
	MsgTypeTick  = "tick"
	MsgTypeError = "error"
	MsgTypePing  = "ping"
	MsgTypePong  = "pong"
)

const (
	feedWriteTimeout = 5 * time.Second
	feedPingInterval = 30 * time.Second
)

// WSMessage is one frame on the feed.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorPayload reports a background failure, typically a rejected mutation.
type ErrorPayload struct {
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}

func encodeNotification(n engine.Notification) (WSMessage, bool) {
	var payload any
	switch n.Kind {
	case engine.NotifyState:
		if n.Session == nil {
			return WSMessage{}, false
		}
		payload = n.Session
	case engine.NotifyTick:
		if n.Tick == nil {
			return WSMessage{}, false
		}
		payload = n.Tick
	case engine.NotifyError:
		p := ErrorPayload{Op: n.Op}
		if n.Err != nil {
			p.Message = n.Err.Error()
		}
		payload = p
	default:
		return WSMessage{}, false
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return WSMessage{}, false
	}
	return WSMessage{Type: string(n.Kind), Payload: b, Timestamp: n.At.UnixMilli()}, true
}

// handleFeed upgrades to a websocket, sends the current session and then every
// notification until either side goes away.
func (s *Server) handleFeed(c echo.Context) error {
	ctx := c.Request().Context()
	notes, cancel, err := s.engine.Subscribe(ctx)
	if err != nil {
		return fromEngine(err)
	}
	defer cancel()
	sess, err := s.engine.Snapshot(ctx)
	if err != nil {
		return fromEngine(err)
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	s.log.Info("feed client connected", "remote", c.RealIP())

	// The reader only watches for pings and the close.
	pings := make(chan struct{}, 1)
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == MsgTypePing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	write := func(msg WSMessage) error {
		ws.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		return ws.WriteJSON(msg)
	}

	first, _ := encodeNotification(engine.Notification{Kind: engine.NotifyState, At: time.Now(), Session: &sess})
	if err := write(first); err != nil {
		return nil
	}

	keepalive := time.NewTicker(feedPingInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-gone:
			s.log.Info("feed client disconnected", "remote", c.RealIP())
			return nil
		case <-ctx.Done():
			return nil
		case <-pings:
			if err := write(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}); err != nil {
				return nil
			}
		case <-keepalive.C:
			ws.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case n, ok := <-notes:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(feedWriteTimeout))
				return nil
			}
			msg, ok := encodeNotification(n)
			if !ok {
				continue
			}
			if err := write(msg); err != nil {
				s.log.Warn("feed write failed", "err", err)
				return nil
			}
		}
	}
}
