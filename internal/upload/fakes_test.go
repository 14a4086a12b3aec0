package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"google.golang.org/api/youtube/v3"

	"github.com/tonimelisma/vidpub/internal/platform"
)

const testVideoID = "vid-123"

// fakeTokens hands out "tok-1" and refreshes to "tok-2".
type fakeTokens struct {
	mu           sync.Mutex
	validErr     error
	refreshErr   error
	refreshCalls int
	rejected     []string
}

func (f *fakeTokens) ValidToken(context.Context) (string, error) {
	if f.validErr != nil {
		return "", f.validErr
	}

	return "tok-1", nil
}

func (f *fakeTokens) ForceRefresh(_ context.Context, rejected string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshCalls++
	f.rejected = append(f.rejected, rejected)

	if f.refreshErr != nil {
		return "", f.refreshErr
	}

	return "tok-2", nil
}

// chunkCall records one SendChunk invocation.
type chunkCall struct {
	offset int64
	length int64
	token  string
}

// fakeTransport behaves like a well-formed resumable endpoint. Hooks inject
// failures by call number.
type fakeTransport struct {
	mu sync.Mutex

	received []byte
	total    int64

	initiateCalls int
	initiated     *youtube.Video
	initiateErr   func(call int, token string) error

	chunks   []chunkCall
	chunkErr func(call int, c chunkCall) error

	// stallChunks makes the first n SendChunk calls hang until their ctx ends.
	stallChunks int
	sendCalls   int

	// acceptLimit caps bytes accepted per chunk; zero accepts everything.
	acceptLimit int64

	// deferCompletion makes the final chunk return 308 so Finalize is needed.
	deferCompletion bool

	queries     int
	queryErr    error
	finalizes   int
	finalizeErr error
}

func (f *fakeTransport) Initiate(
	_ context.Context, token string, video *youtube.Video, size int64, _ string,
) (*platform.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initiateCalls++
	if f.initiateErr != nil {
		if err := f.initiateErr(f.initiateCalls, token); err != nil {
			return nil, err
		}
	}

	f.initiated = video
	f.total = size

	return &platform.Session{URI: "https://upload.example/session/1", Total: size}, nil
}

func (f *fakeTransport) SendChunk(
	ctx context.Context, token string, s *platform.Session, offset int64, chunk io.Reader, length int64,
) (*platform.ChunkResult, error) {
	f.mu.Lock()
	f.sendCalls++
	stall := f.sendCalls <= f.stallChunks
	f.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: chunk at offset %d: %w", platform.ErrNetwork, offset, ctx.Err())
	}

	data, err := io.ReadAll(chunk)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c := chunkCall{offset: offset, length: length, token: token}
	f.chunks = append(f.chunks, c)

	if f.chunkErr != nil {
		if err := f.chunkErr(len(f.chunks), c); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if offset > int64(len(f.received)) {
		return nil, &platform.APIError{StatusCode: http.StatusBadRequest, Err: platform.ErrBadRequest}
	}

	if f.acceptLimit > 0 && int64(len(data)) > f.acceptLimit {
		data = data[:f.acceptLimit]
	}

	f.received = append(f.received[:offset], data...)

	return f.status(s), nil
}

func (f *fakeTransport) status(s *platform.Session) *platform.ChunkResult {
	acked := int64(len(f.received))
	if acked == s.Total && !f.deferCompletion {
		return &platform.ChunkResult{Acknowledged: acked, Complete: true, Video: &youtube.Video{Id: testVideoID}}
	}

	return &platform.ChunkResult{Acknowledged: acked}
}

func (f *fakeTransport) QueryProgress(_ context.Context, _ string, s *platform.Session) (*platform.ChunkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}

	return f.status(s), nil
}

func (f *fakeTransport) Finalize(_ context.Context, _ string, s *platform.Session) (*youtube.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finalizes++
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}

	if int64(len(f.received)) != s.Total {
		return nil, platform.ErrIncomplete
	}

	return &youtube.Video{Id: testVideoID}, nil
}

func (f *fakeTransport) offsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]int64, len(f.chunks))
	for i, c := range f.chunks {
		out[i] = c.offset
	}

	return out
}

func apiErr(status int, sentinel error) error {
	return &platform.APIError{StatusCode: status, Message: http.StatusText(status), Err: sentinel}
}

// sleepRecorder is a sleepFunc that returns immediately and remembers the
// requested durations.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.waits = append(s.waits, d)

	return nil
}

type fakePlaylists struct {
	err   error
	calls []string
}

func (f *fakePlaylists) AddToPlaylist(_ context.Context, playlistID, videoID string) error {
	f.calls = append(f.calls, playlistID+"/"+videoID)
	return f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	begun    []string
	progress []int64
	status   string
	videoID  string
	cause    error
}

func (f *fakeRecorder) Begin(_ context.Context, id, _, _ string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.begun = append(f.begun, id)

	return nil
}

func (f *fakeRecorder) Progress(_ context.Context, _ string, acknowledged int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.progress = append(f.progress, acknowledged)

	return nil
}

func (f *fakeRecorder) Finish(_ context.Context, _, status, videoID string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status, f.videoID, f.cause = status, videoID, cause

	return nil
}

var errBoom = errors.New("boom")

func newTestOrchestrator(tokens TokenProvider, transport Transport, opts Options) (*Orchestrator, *sleepRecorder) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 4
	}

	o := NewOrchestrator(tokens, transport, opts, slog.Default())
	sr := &sleepRecorder{}
	o.sleepFunc = sr.sleep

	return o, sr
}

// videoRequest builds a valid request over content.
func videoRequest(content string) Request {
	return Request{
		Content:     bytes.NewReader([]byte(content)),
		Size:        int64(len(content)),
		ContentType: "video/mp4",
		FileName:    "holiday.mp4",
		Title:       "Holiday",
	}
}

// collect returns a ProgressFunc appending into events.
func collect(events *[]ProgressEvent) ProgressFunc {
	return func(ev ProgressEvent) {
		*events = append(*events, ev)
	}
}
