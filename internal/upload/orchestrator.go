// Package upload validates and publishes videos over the platform's
// resumable protocol. Chunks go out sequentially; each publish call owns its
// session exclusively, so independent calls may run concurrently.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/youtube/v3"

	"github.com/tonimelisma/vidpub/internal/platform"
)

// Chunk pipeline defaults.
const (
	DefaultChunkSize   = 8 << 20
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 1 * time.Second

	// DefaultRequestTimeout bounds one session request: the initiate call,
	// a single chunk attempt, a status query or a finalize.
	DefaultRequestTimeout = 5 * time.Minute

	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// errNoProgress marks a chunk reply that acknowledged nothing new.
var errNoProgress = errors.New("upload: platform acknowledged no new bytes")

// TokenProvider hands out access tokens. ForceRefresh is called at most once
// per publish, after the platform rejects rejected.
type TokenProvider interface {
	ValidToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, rejected string) (string, error)
}

// Transport performs the resumable upload calls.
type Transport interface {
	Initiate(ctx context.Context, token string, video *youtube.Video, size int64, contentType string) (*platform.Session, error)
	SendChunk(ctx context.Context, token string, s *platform.Session, offset int64, chunk io.Reader, length int64) (*platform.ChunkResult, error)
	QueryProgress(ctx context.Context, token string, s *platform.Session) (*platform.ChunkResult, error)
	Finalize(ctx context.Context, token string, s *platform.Session) (*youtube.Video, error)
}

// PlaylistAdder inserts a published video into a playlist.
type PlaylistAdder interface {
	AddToPlaylist(ctx context.Context, playlistID, videoID string) error
}

// Recorder observes publish lifecycles, e.g. for a history ledger.
// Failures are logged and never affect the publish.
type Recorder interface {
	Begin(ctx context.Context, id, fileName, title string, total int64) error
	Progress(ctx context.Context, id string, acknowledged int64) error
	Finish(ctx context.Context, id, status, videoID string, cause error) error
}

// Options tune the orchestrator. Zero values select defaults.
type Options struct {
	ChunkSize   int64
	MaxAttempts int
	BaseBackoff time.Duration
	// RequestTimeout bounds each attempt separately, so a stalled
	// connection costs one retry instead of the whole publish.
	RequestTimeout time.Duration
	Rules          Rules
	Limiter     *BandwidthLimiter
	Playlists   PlaylistAdder
	Recorder    Recorder
}

// Result is a successful publish.
type Result struct {
	UploadID      string
	VideoID       string
	Session       Session
	PlaylistAdded bool
}

// Orchestrator runs publish calls. Safe for concurrent use.
type Orchestrator struct {
	tokens      TokenProvider
	transport   Transport
	rules       Rules
	chunkSize   int64
	maxAttempts int
	baseBackoff time.Duration
	reqTimeout  time.Duration
	limiter     *BandwidthLimiter
	playlists   PlaylistAdder
	recorder    Recorder
	logger      *slog.Logger

	// sleepFunc waits between retries. Defaults to timeSleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator over tokens and transport.
func NewOrchestrator(tokens TokenProvider, transport Transport, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		tokens:      tokens,
		transport:   transport,
		rules:       opts.Rules,
		chunkSize:   opts.ChunkSize,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		reqTimeout:  opts.RequestTimeout,
		limiter:     opts.Limiter,
		playlists:   opts.Playlists,
		recorder:    opts.Recorder,
		logger:      logger,
		sleepFunc:   timeSleep,
		now:         time.Now,
	}

	if o.chunkSize <= 0 {
		o.chunkSize = DefaultChunkSize
	}

	if o.maxAttempts <= 0 {
		o.maxAttempts = DefaultMaxAttempts
	}

	if o.baseBackoff <= 0 {
		o.baseBackoff = DefaultBaseBackoff
	}

	if o.reqTimeout <= 0 {
		o.reqTimeout = DefaultRequestTimeout
	}

	return o
}

// Validate applies the orchestrator's rules to req without any I/O.
func (o *Orchestrator) Validate(req Request) (Request, error) {
	return o.rules.Validate(req)
}

// Publish validates req and uploads it, calling progress after every
// acknowledged chunk. The final event reports 100%. progress may be nil.
func (o *Orchestrator) Publish(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	return o.publish(ctx, uuid.NewString(), req, progress)
}

func (o *Orchestrator) publish(ctx context.Context, id string, req Request, progress ProgressFunc) (*Result, error) {
	valid, err := o.rules.Validate(req)
	if err != nil {
		return nil, err
	}

	if valid.Content == nil {
		return nil, fmt.Errorf("upload: request for %q has no content", valid.FileName)
	}

	r := &run{
		o:        o,
		id:       id,
		req:      valid,
		progress: progress,
		session:  Session{Total: valid.Size, Status: StatusInitiated},
		logger:   o.logger.With(slog.String("upload_id", id)),
	}

	activePublishes.Inc()
	defer activePublishes.Dec()

	started := o.now()
	o.recordBegin(ctx, r)

	r.logger.Info("publish started",
		slog.String("file", valid.FileName),
		slog.Int64("size", valid.Size),
		slog.String("privacy", valid.Privacy),
	)

	videoID, err := r.execute(ctx)

	publishDuration.Observe(o.now().Sub(started).Seconds())
	o.recordFinish(r, videoID, err)

	if err != nil {
		publishesTotal.WithLabelValues(KindName(err)).Inc()
		r.logger.Warn("publish failed",
			slog.Int64("acknowledged", r.session.Acknowledged),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	publishesTotal.WithLabelValues("succeeded").Inc()
	r.logger.Info("publish succeeded", slog.String("video_id", videoID))

	res := &Result{UploadID: id, VideoID: videoID, Session: r.session}
	res.PlaylistAdded = o.addToPlaylist(ctx, r, videoID)

	return res, nil
}

// addToPlaylist is best effort: the video is already published.
func (o *Orchestrator) addToPlaylist(ctx context.Context, r *run, videoID string) bool {
	if r.req.PlaylistID == "" || o.playlists == nil {
		return false
	}

	if err := o.playlists.AddToPlaylist(ctx, r.req.PlaylistID, videoID); err != nil {
		r.logger.Warn("adding video to playlist failed",
			slog.String("playlist_id", r.req.PlaylistID),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

func (o *Orchestrator) recordBegin(ctx context.Context, r *run) {
	if o.recorder == nil {
		return
	}

	if err := o.recorder.Begin(ctx, r.id, r.req.FileName, r.req.Title, r.req.Size); err != nil {
		r.logger.Warn("recording publish start failed", slog.String("error", err.Error()))
	}
}

// recordFinish uses a fresh context so a canceled publish is still recorded.
func (o *Orchestrator) recordFinish(r *run, videoID string, cause error) {
	if o.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.recorder.Finish(ctx, r.id, r.session.Status.String(), videoID, cause); err != nil {
		r.logger.Warn("recording publish result failed", slog.String("error", err.Error()))
	}
}

// retry calls fn until it succeeds, fails permanently, or the attempt budget
// is spent. Authentication failures are returned immediately.
func (o *Orchestrator) retry(
	ctx context.Context, logger *slog.Logger, op string, fn func() (*platform.ChunkResult, error),
) (*platform.ChunkResult, error) {
	for attempt := 0; ; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		transient := platform.Retryable(err) || errors.Is(err, errNoProgress)
		if !transient || attempt+1 >= o.maxAttempts {
			return nil, err
		}

		backoff := max(o.calcBackoff(attempt), platform.RetryAfter(err))
		chunkRetries.Inc()

		logger.Warn("retrying after transient failure",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := o.sleepFunc(ctx, backoff); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (o *Orchestrator) calcBackoff(attempt int) time.Duration {
	backoff := float64(o.baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// buildVideo converts a validated request into the resource sent at
// initiation.
func buildVideo(req *Request) *youtube.Video {
	return &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        req.Tags,
			CategoryId:  req.CategoryID,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:       req.Privacy,
			Embeddable:          true,
			License:             "youtube",
			PublicStatsViewable: true,
		},
	}
}
