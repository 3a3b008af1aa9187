package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jdginn/showctl/engine"
	"github.com/jdginn/showctl/logging"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	writeTimeout          = 5 * time.Second

	frameJoinEvent = "joinEvent"
)

// PushHandler receives decoded push notifications. engine.Engine implements it.
type PushHandler interface {
	HandlePush(ctx context.Context, ev engine.PushEvent) error
}

// PushClient keeps a websocket to the backend open, joins the room of the loaded event and
// forwards every notification to a PushHandler.
type PushClient struct {
	URL            string
	Handler        PushHandler
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	// ID identifies this client to the backend.
	ID string

	log *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	eventID string
}

func NewPushClient(url string, h PushHandler) *PushClient {
	return &PushClient{
		URL:            url,
		Handler:        h,
		ReconnectDelay: DefaultReconnectDelay,
		Dialer:         websocket.DefaultDialer,
		ID:             uuid.NewString(),
		log:            logging.Get(logging.SYNC),
	}
}

// Run connects and reconnects until ctx is cancelled.
func (p *PushClient) Run(ctx context.Context) error {
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.log.Warn("push channel disconnected", "url", p.URL, "err", err, "retry_in", p.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.ReconnectDelay):
		}
	}
}

// session runs one connection until it fails.
func (p *PushClient) session(ctx context.Context) error {
	header := http.Header{}
	header.Set("X-Client-Id", p.ID)
	conn, _, err := p.Dialer.DialContext(ctx, p.URL, header)
	if err != nil {
		return err
	}
	p.log.Info("push channel connected", "url", p.URL, "client", p.ID)

	p.mu.Lock()
	p.conn = conn
	eventID := p.eventID
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if eventID != "" {
		if err := p.join(eventID); err != nil {
			return err
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Error("push channel read failed", "err", err)
			}
			return err
		}
		ev, err := decodePush(raw)
		if err != nil {
			p.log.Warn("push frame ignored", "err", err, "frame", string(raw))
			continue
		}
		p.log.Debug("push received", "type", ev.Type, "event", ev.EventID)
		if err := p.Handler.HandlePush(ctx, ev); err != nil {
			if errors.Is(err, engine.ErrEngineStopped) || ctx.Err() != nil {
				return err
			}
			p.log.Error("push not applied", "type", ev.Type, "err", err)
		}
	}
}

// Join switches the room this client listens to. It is remembered across reconnects.
func (p *PushClient) Join(eventID string) error {
	p.mu.Lock()
	p.eventID = eventID
	connected := p.conn != nil
	p.mu.Unlock()
	if !connected || eventID == "" {
		return nil
	}
	return p.join(eventID)
}

func (p *PushClient) join(eventID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteJSON(Frame{Type: frameJoinEvent, EventID: eventID}); err != nil {
		return err
	}
	p.log.Info("joined event room", "event", eventID)
	return nil
}

// Follow joins the room of whichever event the engine has loaded, until notes is closed.
func (p *PushClient) Follow(notes <-chan engine.Notification) {
	current := ""
	for n := range notes {
		if n.Kind != engine.NotifyState || n.Session == nil || n.Session.EventID == current {
			continue
		}
		current = n.Session.EventID
		if err := p.Join(current); err != nil {
			p.log.Warn("join failed", "event", current, "err", err)
		}
	}
}
