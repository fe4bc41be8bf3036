package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentdeck/agentdeck/internal/bus"
)

// ErrStreamCanceled is yielded when an in-flight send is canceled locally.
var ErrStreamCanceled = errors.New("stream canceled")

// Router consumes one message's event stream from the bus and drives the
// assembler. Teardown happens exactly once: the subscription's one-shot
// Close plus the router-local finished flag make a back-to-back error and
// done pair harmless.
type Router struct {
	sub      *bus.Subscription
	asm      *Assembler
	logger   *slog.Logger
	finished bool
}

// NewRouter attaches a router to a subscription and an assembler.
func NewRouter(sub *bus.Subscription, asm *Assembler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sub: sub, asm: asm, logger: logger}
}

// Run dispatches events until the stream terminates. It returns nil on
// final_done, ErrStreamCanceled when ctx ends first, and a descriptive error
// after an error event. In every exit path the subscription is closed and
// the message is finalized exactly once.
//
// onUpdate, if non-nil, is invoked after each applied event so callers can
// mirror assembly progress (e.g. into an SSE stream).
func (r *Router) Run(ctx context.Context, onUpdate func()) error {
	defer r.sub.Close()

	for {
		select {
		case <-ctx.Done():
			r.finalizeError(ErrStreamCanceled.Error())
			if onUpdate != nil {
				onUpdate()
			}
			return ErrStreamCanceled

		case ev, ok := <-r.sub.Events():
			if !ok {
				// Subscription closed underneath us (bridge teardown).
				r.finalizeError("stream closed")
				if onUpdate != nil {
					onUpdate()
				}
				return fmt.Errorf("stream closed before completion")
			}

			event, err := ParseStreamEvent(ev.Payload)
			if err != nil {
				// Malformed events have no awaiting correlation; drop them.
				r.logger.Warn("Dropping malformed stream event",
					"message_id", r.asm.Message().ID,
					"error", err,
				)
				continue
			}

			switch event.Type {
			case EventFinalDone:
				if r.finished {
					continue
				}
				r.finished = true
				r.asm.FinalizeDone()
				r.sub.Close()
				if onUpdate != nil {
					onUpdate()
				}
				return nil

			case EventError:
				if r.finished {
					continue
				}
				r.finished = true
				r.asm.FinalizeError(event.Message)
				r.sub.Close()
				if onUpdate != nil {
					onUpdate()
				}
				return fmt.Errorf("stream error: %s", event.Message)

			default:
				if r.finished {
					continue
				}
				r.asm.Apply(event)
				if onUpdate != nil {
					onUpdate()
				}
			}
		}
	}
}

func (r *Router) finalizeError(msg string) {
	if r.finished {
		return
	}
	r.finished = true
	r.asm.FinalizeError(msg)
}
