// Package bot routes inbound chat events to the admin commands or the interview.
package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/screening-bot/internal/interview"
)

// EventHandler applies an event to the interview.
type EventHandler interface {
	Handle(ctx context.Context, ev interview.Event) error
}

// CommandHandler consumes admin commands. It returns false when the event
// is not one of its commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, ev interview.Event) bool
}

// Router dispatches each event on its own goroutine. Events of one chat are
// handled in arrival order; at most maxInFlight events are in progress across
// all chats.
type Router struct {
	interview EventHandler
	commands  CommandHandler
	sem       chan struct{}
	logger    *slog.Logger

	mu    sync.Mutex
	tails map[int64]chan struct{}
	wg    sync.WaitGroup
}

// NewRouter creates a router. commands may be nil.
func NewRouter(handler EventHandler, commands CommandHandler, maxInFlight int, logger *slog.Logger) *Router {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		interview: handler,
		commands:  commands,
		sem:       make(chan struct{}, maxInFlight),
		logger:    logger,
		tails:     make(map[int64]chan struct{}),
	}
}

// Dispatch schedules ev and returns without waiting. An event takes a
// concurrency slot only once the previous event of its chat has finished, so a
// busy chat never holds slots other chats could use. Events still waiting for
// a slot are dropped when ctx ends.
func (r *Router) Dispatch(ctx context.Context, ev interview.Event) {
	done := make(chan struct{})
	r.mu.Lock()
	prev := r.tails[ev.ChatID]
	r.tails[ev.ChatID] = done
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.finish(ev.ChatID, done)

		if prev != nil {
			<-prev
		}
		if !r.acquire(ctx) {
			r.logger.Warn("dropping event, shutting down", "chat_id", ev.ChatID, "kind", ev.Kind)
			return
		}
		defer func() { <-r.sem }()
		r.handle(ctx, ev)
	}()
}

func (r *Router) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case r.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Router) finish(chatID int64, done chan struct{}) {
	close(done)
	r.mu.Lock()
	if r.tails[chatID] == done {
		delete(r.tails, chatID)
	}
	r.mu.Unlock()
}

func (r *Router) handle(ctx context.Context, ev interview.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling event", "chat_id", ev.ChatID, "kind", ev.Kind, "panic", rec)
		}
	}()

	if ev.Kind == interview.EventCommand && r.commands != nil && r.commands.HandleCommand(ctx, ev) {
		return
	}
	if err := r.interview.Handle(ctx, ev); err != nil {
		r.logger.Error("failed to handle event", "chat_id", ev.ChatID, "kind", ev.Kind, "error", err)
	}
}

// Wait blocks until every dispatched event has been handled.
func (r *Router) Wait() {
	r.wg.Wait()
}
