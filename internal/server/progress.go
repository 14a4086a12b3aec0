package server

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tonimelisma/vidpub/internal/upload"
)

// Tracker states reported by the progress routes.
const (
	trackRunning   = "running"
	trackSucceeded = "succeeded"
	trackFailed    = "failed"
)

// progressSnapshot is the JSON view of a tracker.
type progressSnapshot struct {
	UploadID string `json:"upload_id"`
	Status   string `json:"status"`
	upload.ProgressEvent
	VideoID string `json:"video_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// tracker follows one in-flight upload and fans its events out to
// subscribers.
type tracker struct {
	mu     sync.Mutex
	snap   progressSnapshot
	subs   map[chan progressSnapshot]struct{}
	done   chan struct{}
	closed bool
}

func newTracker(id string) *tracker {
	return &tracker{
		snap: progressSnapshot{UploadID: id, Status: trackRunning},
		subs: make(map[chan progressSnapshot]struct{}),
		done: make(chan struct{}),
	}
}

func (t *tracker) snapshot() progressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snap
}

func (t *tracker) update(ev upload.ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.ProgressEvent = ev
	t.broadcast()
}

func (t *tracker) finish(res *upload.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	if err != nil {
		t.snap.Status = trackFailed
		t.snap.Error = err.Error()
		t.snap.Kind = upload.KindName(err)
	} else {
		t.snap.Status = trackSucceeded
		t.snap.VideoID = res.VideoID
	}

	t.broadcast()
	t.closed = true
	close(t.done)
}

// broadcast delivers the current snapshot, replacing any unread one so a
// slow subscriber never blocks the upload. Caller holds t.mu.
func (t *tracker) broadcast() {
	for ch := range t.subs {
		select {
		case <-ch:
		default:
		}

		ch <- t.snap
	}
}

// subscribe returns a channel of snapshots and a release func.
func (t *tracker) subscribe() (<-chan progressSnapshot, func()) {
	ch := make(chan progressSnapshot, 1)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	ch <- t.snap
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
}

// progressRegistry remembers recent trackers for a bounded time.
type progressRegistry struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *tracker]
}

func newProgressRegistry(size int, ttl time.Duration) *progressRegistry {
	return &progressRegistry{cache: expirable.NewLRU[string, *tracker](size, nil, ttl)}
}

// claim registers a new tracker for id. It reports false when id is still
// tracked.
func (r *progressRegistry) claim(id string) (*tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache.Get(id); ok {
		return nil, false
	}

	t := newTracker(id)
	r.cache.Add(id, t)

	return t, true
}

func (r *progressRegistry) get(id string) (*tracker, bool) {
	return r.cache.Get(id)
}
