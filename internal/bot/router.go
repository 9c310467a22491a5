package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/session"
)

const (
	// DefaultQueueSize is the capacity of the event queue.
	DefaultQueueSize = 256
	// DefaultHandlerTimeout bounds the handling of a single event.
	DefaultHandlerTimeout = 3 * time.Minute
)

// Router feeds gateway events to the bot on a single dispatch goroutine.
// Session events bypass the queue and update the session state immediately.
type Router struct {
	bot            *Bot
	state          *session.State
	queue          chan models.Event
	done           chan struct{}
	handlerTimeout time.Duration
}

// NewRouter creates a router. queueSize and handlerTimeout fall back to the defaults when not positive.
func NewRouter(b *Bot, state *session.State, queueSize int, handlerTimeout time.Duration) *Router {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if handlerTimeout <= 0 {
		handlerTimeout = DefaultHandlerTimeout
	}
	return &Router{
		bot:            b,
		state:          state,
		queue:          make(chan models.Event, queueSize),
		done:           make(chan struct{}),
		handlerTimeout: handlerTimeout,
	}
}

// Enqueue accepts an event from the gateway. It blocks while the queue is
// full; after Run has returned, events are discarded.
func (r *Router) Enqueue(evt models.Event) {
	if se, ok := evt.(*models.SessionEvent); ok {
		r.applySession(se)
		return
	}
	if len(r.queue) == cap(r.queue) {
		slog.Warn("Router.Enqueue: queue full, gateway is waiting", "kind", evt.Kind(), "capacity", cap(r.queue))
	}
	select {
	case r.queue <- evt:
	case <-r.done:
		slog.Debug("Router.Enqueue: router stopped, discarding event", "kind", evt.Kind())
	}
}

func (r *Router) applySession(evt *models.SessionEvent) {
	if r.state == nil {
		return
	}
	if _, err := r.state.Transition(evt); err != nil {
		slog.Warn("Router: session transition rejected", "event", evt.Type, "error", err)
	}
}

// Run dispatches queued events until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	slog.Info("Router.Run: starting event dispatch", "queue", cap(r.queue))
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Router.Run: stopping", "pending", len(r.queue))
			return
		case evt := <-r.queue:
			r.dispatch(ctx, evt)
		}
	}
}

// dispatch runs one event. Errors and panics are logged and never escape.
func (r *Router) dispatch(ctx context.Context, evt models.Event) {
	ctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Router.dispatch: handler panicked", "kind", evt.Kind(), "panic", p, "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := r.route(ctx, evt); err != nil {
		slog.Error("Router.dispatch: handler failed", "kind", evt.Kind(), "error", err)
		return
	}
	slog.Debug("Router.dispatch: handled", "kind", evt.Kind(), "duration", time.Since(start))
}

func (r *Router) route(ctx context.Context, evt models.Event) error {
	switch e := evt.(type) {
	case *models.InboundMessage:
		return r.bot.HandleMessage(ctx, e)
	case *models.MessageDeleted:
		return r.bot.HandleDeleted(ctx, e)
	case *models.MessageEdited:
		return r.bot.HandleEdited(ctx, e)
	case *models.ParticipantsChanged:
		return r.bot.HandleParticipants(ctx, e)
	case *models.PollVote:
		return r.bot.HandlePollVote(ctx, e)
	case *models.SessionEvent:
		r.applySession(e)
		return nil
	}
	return fmt.Errorf("unhandled event kind %s", evt.Kind())
}
