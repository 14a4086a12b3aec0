package upload

import (
	"context"

	"github.com/google/uuid"
)

// Publication is an in-flight asynchronous publish.
type Publication struct {
	id     string
	events chan ProgressEvent
	done   chan struct{}
	cancel context.CancelFunc

	result *Result
	err    error
}

// Start begins publishing req in the background. The returned handle
// streams progress and reports the outcome. Cancel abandons the remote
// session without finalizing it.
func (o *Orchestrator) Start(ctx context.Context, req Request) *Publication {
	return o.StartWithID(ctx, uuid.NewString(), req)
}

// StartWithID is Start with a caller-chosen upload id, letting an observer
// subscribe before the first event.
func (o *Orchestrator) StartWithID(ctx context.Context, id string, req Request) *Publication {
	ctx, cancel := context.WithCancel(ctx)

	p := &Publication{
		id:     id,
		events: make(chan ProgressEvent, 1),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(p.done)
		defer close(p.events)
		defer cancel()

		p.result, p.err = o.publish(ctx, p.id, req, p.emit)
	}()

	return p
}

// ID is the local upload id, also used as the ledger record id.
func (p *Publication) ID() string {
	return p.id
}

// Events delivers progress. Slow readers see only the latest event; the
// channel closes when the publish ends.
func (p *Publication) Events() <-chan ProgressEvent {
	return p.events
}

// Done is closed when the publish has ended.
func (p *Publication) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the publish ends and returns its outcome.
func (p *Publication) Wait() (*Result, error) {
	<-p.done
	return p.result, p.err
}

// Cancel aborts the publish.
func (p *Publication) Cancel() {
	p.cancel()
}

// emit replaces any unread event with ev. There is a single sender, so
// after the drain the send cannot block.
func (p *Publication) emit(ev ProgressEvent) {
	select {
	case <-p.events:
	default:
	}

	p.events <- ev
}
