// Package router turns OSC command datagrams into engine operations and answers each one.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdginn/showctl/engine"
	"github.com/jdginn/showctl/logging"
	"github.com/jdginn/showctl/osc"
)

const (
	DefaultWorkers        = 2
	DefaultCommandTimeout = 15 * time.Second

	AddrError = "/error"
)

// Controller is the part of the engine the router drives.
type Controller interface {
	LoadEvent(ctx context.Context, eventID string) error
	ListEvents(ctx context.Context) ([]engine.EventSummary, error)
	LoadCue(ctx context.Context, name string) (engine.ScheduleItem, error)
	StartTimer(ctx context.Context) error
	StopTimer(ctx context.Context) error
	Reset(ctx context.Context) error
	StartSubtimer(ctx context.Context, cue string) (engine.ScheduleItem, error)
	StopSubtimer(ctx context.Context, cue string) (engine.ScheduleItem, error)
	SetDay(ctx context.Context, day int) error
	CurrentDay(ctx context.Context) (int, error)
	Status(ctx context.Context) (string, error)
	CuesForDay(ctx context.Context) (int, []string, error)
	Refresh(ctx context.Context, reason engine.RefreshReason) error
}

// Responder sends a reply to the address a command came from. osc.Server implements it.
type Responder interface {
	Send(to net.Addr, msg osc.Message) error
}

// Request is a decoded command.
type Request struct {
	ID       string
	From     net.Addr
	Msg      osc.Message
	Captures []string
}

// handlerFunc returns the replies for a request. An error becomes a single /error reply.
type handlerFunc func(ctx context.Context, req *Request) ([]osc.Message, error)

type namedHandler struct {
	name    string
	handler handlerFunc
}

// Router dispatches commands through an ordered list of address patterns.
type Router struct {
	engine    Controller
	responder Responder
	handlers  []namedHandler
	log       *slog.Logger

	// Workers is the number of goroutines consuming the queue in Run.
	Workers int
	// Timeout bounds the engine work done for one command.
	Timeout time.Duration
}

func New(eng Controller, resp Responder) *Router {
	r := &Router{
		engine:    eng,
		responder: resp,
		log:       logging.Get(logging.ROUTER),
		Workers:   DefaultWorkers,
		Timeout:   DefaultCommandTimeout,
	}
	r.addMsgHandler("/set-event", r.setEvent)
	r.addMsgHandler("/list-events", r.listEvents)
	r.addMsgHandler("/cue/@/load", r.loadCue)
	r.addMsgHandler("/timer/start", r.startTimer)
	r.addMsgHandler("/timer/stop", r.stopTimer)
	r.addMsgHandler("/timer/reset", r.resetTimer)
	r.addMsgHandler("/subtimer/cue/@/start", r.startSubtimer)
	r.addMsgHandler("/subtimer/cue/@/stop", r.stopSubtimer)
	r.addMsgHandler("/set-day", r.setDay)
	r.addMsgHandler("/get-day", r.getDay)
	r.addMsgHandler("/status", r.status)
	r.addMsgHandler("/list-cues", r.listCues)
	r.addMsgHandler("/refresh", r.refresh)
	r.addMsgHandler("/meta/logging/@/level", r.setLogLevel)
	return r
}

func (r *Router) addMsgHandler(addr string, handler handlerFunc) {
	r.handlers = append(r.handlers, namedHandler{addr, handler})
}

// Run consumes q with r.Workers goroutines until ctx is cancelled.
func (r *Router) Run(ctx context.Context, q *osc.Queue) {
	workers := max(1, r.Workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(worker int) {
			defer wg.Done()
			for {
				pkt, err := q.Pop(ctx)
				if err != nil {
					r.log.Debug("worker exiting", "worker", worker)
					return
				}
				r.Handle(ctx, pkt)
			}
		}(i)
	}
	r.log.Info("router running", "workers", workers)
	wg.Wait()
}

// Handle decodes one datagram, runs the command and sends its replies.
func (r *Router) Handle(ctx context.Context, pkt osc.Packet) {
	for _, reply := range r.Dispatch(ctx, pkt) {
		if err := r.responder.Send(pkt.From, reply); err != nil {
			r.log.Error("reply failed", "to", pkt.From, "addr", reply.Address, "err", err)
		}
	}
}

// Dispatch decodes pkt and returns the replies for it. It never returns an empty slice.
func (r *Router) Dispatch(ctx context.Context, pkt osc.Packet) []osc.Message {
	msg, err := osc.Decode(pkt.Data)
	if err != nil {
		if msg.Address == "" {
			r.log.Warn("malformed datagram", "from", pkt.From, "bytes", len(pkt.Data), "err", err)
			return []osc.Message{osc.NewMessage(AddrError, "Malformed OSC message")}
		}
		// The address survived; run the command with what was decoded.
		r.log.Warn("truncated datagram", "from", pkt.From, "addr", msg.Address, "err", err)
	}
	req := &Request{ID: uuid.NewString(), From: pkt.From, Msg: msg}
	return r.dispatch(ctx, req)
}

func (r *Router) dispatch(ctx context.Context, req *Request) (replies []osc.Message) {
	start := time.Now()
	log := r.log.With("req", req.ID, "addr", req.Msg.Address)
	log.Debug("command received", "args", req.Msg.Arguments, "from", req.From)

	defer func() {
		if p := recover(); p != nil {
			log.Error("handler panicked", "panic", p)
			replies = []osc.Message{osc.NewMessage(AddrError, fmt.Sprintf("Server error: %v", p))}
		}
	}()

	for _, h := range r.handlers {
		match, captures := matchAddr(h.name, req.Msg.Address)
		if !match {
			continue
		}
		req.Captures = captures

		hctx, cancel := context.WithTimeout(ctx, r.Timeout)
		defer cancel()
		out, err := h.handler(hctx, req)
		if err != nil {
			log.Warn("command failed", "err", err, "took", time.Since(start))
			return []osc.Message{osc.NewMessage(AddrError, errorText(err))}
		}
		log.Info("command handled", "replies", len(out), "took", time.Since(start))
		return out
	}

	log.Warn("unknown command")
	return []osc.Message{osc.NewMessage(AddrError, "Unknown command: "+req.Msg.Address)}
}

func errorText(err error) string {
	var nf *engine.CueNotFoundError
	switch {
	case errors.As(err, &nf):
		return nf.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Command timed out"
	}
	return err.Error()
}

// argText renders the first argument as text; OSC senders disagree on whether ids are
// strings or numbers.
func argText(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	switch v := args[0].(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case int32:
		return strconv.Itoa(int(v)), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	}
	return "", false
}

var errDayRequired = errors.New("Day number required")

func argInt(args []any) (int, error) {
	if len(args) == 0 {
		return 0, errDayRequired
	}
	switch v := args[0].(type) {
	case int32:
		return int(v), nil
	case float32:
		if f := float64(v); f == math.Trunc(f) {
			return int(f), nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", engine.ErrInvalidDay, args[0])
}

func reply(addr string, args ...any) []osc.Message {
	return []osc.Message{osc.NewMessage(addr, args...)}
}

func (r *Router) setEvent(ctx context.Context, req *Request) ([]osc.Message, error) {
	id, ok := argText(req.Msg.Arguments)
	if !ok {
		return nil, errors.New("Event ID required")
	}
	if err := r.engine.LoadEvent(ctx, id); err != nil {
		return nil, err
	}
	return reply("/event/set", id), nil
}

func (r *Router) listEvents(ctx context.Context, req *Request) ([]osc.Message, error) {
	events, err := r.engine.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return reply("/events/list", "No events found"), nil
	}
	out := make([]osc.Message, 0, len(events))
	for i, ev := range events {
		name, date := ev.Name, ev.Date
		if name == "" {
			name = "Unnamed"
		}
		if date == "" {
			date = "Unknown"
		}
		out = append(out, osc.NewMessage("/events/list",
			fmt.Sprintf("%d. Event ID: %s\n   Name: %s\n   Date: %s", i+1, ev.ID, name, date)))
	}
	return out, nil
}

func (r *Router) loadCue(ctx context.Context, req *Request) ([]osc.Message, error) {
	name := req.Captures[0]
	if _, err := r.engine.LoadCue(ctx, name); err != nil {
		return nil, err
	}
	return reply("/cue/loaded", name), nil
}

func (r *Router) startTimer(ctx context.Context, req *Request) ([]osc.Message, error) {
	if err := r.engine.StartTimer(ctx); err != nil {
		return nil, err
	}
	return reply("/timer/started", "ok"), nil
}

func (r *Router) stopTimer(ctx context.Context, req *Request) ([]osc.Message, error) {
	if err := r.engine.StopTimer(ctx); err != nil {
		return nil, err
	}
	return reply("/timer/stopped", "ok"), nil
}

func (r *Router) resetTimer(ctx context.Context, req *Request) ([]osc.Message, error) {
	if err := r.engine.Reset(ctx); err != nil {
		return nil, err
	}
	return reply("/timer/reset", "ok"), nil
}

func (r *Router) startSubtimer(ctx context.Context, req *Request) ([]osc.Message, error) {
	cue := req.Captures[0]
	if _, err := r.engine.StartSubtimer(ctx, cue); err != nil {
		return nil, err
	}
	return reply("/subtimer/started", cue, "success"), nil
}

func (r *Router) stopSubtimer(ctx context.Context, req *Request) ([]osc.Message, error) {
	cue := req.Captures[0]
	if _, err := r.engine.StopSubtimer(ctx, cue); err != nil {
		return nil, err
	}
	return reply("/subtimer/stopped", cue, "success"), nil
}

func (r *Router) setDay(ctx context.Context, req *Request) ([]osc.Message, error) {
	day, err := argInt(req.Msg.Arguments)
	if err != nil {
		return nil, err
	}
	if err := r.engine.SetDay(ctx, day); err != nil {
		return nil, err
	}
	return reply("/day/set", fmt.Sprintf("Day set to %d", day)), nil
}

func (r *Router) getDay(ctx context.Context, req *Request) ([]osc.Message, error) {
	day, err := r.engine.CurrentDay(ctx)
	if err != nil {
		return nil, err
	}
	return reply("/day/current", fmt.Sprintf("Current day: %d", day)), nil
}

func (r *Router) status(ctx context.Context, req *Request) ([]osc.Message, error) {
	s, err := r.engine.Status(ctx)
	if err != nil {
		return nil, err
	}
	return reply("/status/info", s), nil
}

func (r *Router) listCues(ctx context.Context, req *Request) ([]osc.Message, error) {
	day, cues, err := r.engine.CuesForDay(ctx)
	if err != nil {
		return nil, err
	}
	if len(cues) == 0 {
		return reply("/cues/list", fmt.Sprintf("No cues found for day %d", day)), nil
	}
	out := make([]osc.Message, 0, len(cues)+1)
	out = append(out, osc.NewMessage("/cues/list", fmt.Sprintf("Day %d cues:", day)))
	for i, c := range cues {
		out = append(out, osc.NewMessage("/cues/list", fmt.Sprintf("%d. %s", i+1, c)))
	}
	return out, nil
}

func (r *Router) refresh(ctx context.Context, req *Request) ([]osc.Message, error) {
	if err := r.engine.Refresh(ctx, engine.RefreshManual); err != nil {
		return nil, err
	}
	return reply("/refresh/done", "ok"), nil
}

func (r *Router) setLogLevel(ctx context.Context, req *Request) ([]osc.Message, error) {
	name := req.Captures[0]
	cat, ok := logging.ParseCategory(name)
	if !ok {
		return nil, fmt.Errorf("unknown log category %q", name)
	}
	if len(req.Msg.Arguments) == 0 {
		return nil, errors.New("log level required")
	}
	var level slog.Level
	switch v := req.Msg.Arguments[0].(type) {
	case int32:
		level = slog.Level(v)
	case string:
		l, err := logging.ParseLevel(v)
		if err != nil {
			return nil, err
		}
		level = l
	default:
		return nil, fmt.Errorf("invalid log level %v", v)
	}
	logging.SetCategoryLevel(cat, level)
	logging.Get(logging.META).Info("log level changed", "category", cat, "level", level)
	return reply("/meta/logging/level", string(cat), level.String()), nil
}
