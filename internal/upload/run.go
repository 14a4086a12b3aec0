package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/api/youtube/v3"

	"github.com/tonimelisma/vidpub/internal/platform"
)

// run is the state of one publish call. It is confined to the publishing
// goroutine.
type run struct {
	o        *Orchestrator
	id       string
	req      Request
	progress ProgressFunc
	logger   *slog.Logger

	token     string
	refreshed bool
	remote    *platform.Session
	session   Session
	reported  int64 // high-water mark of bytes reported to observers
}

// execute drives the session from token acquisition to a video id.
func (r *run) execute(ctx context.Context) (string, error) {
	token, err := r.o.tokens.ValidToken(ctx)
	if err != nil {
		return "", r.fail(ErrNotAuthenticated, err)
	}

	r.token = token

	if err := r.initiate(ctx); err != nil {
		return "", err
	}

	videoID, err := r.transfer(ctx)
	if err != nil {
		return "", err
	}

	r.session.Status = StatusSucceeded
	r.acknowledge(r.session.Total)

	return videoID, nil
}

// initiate opens the remote session. Transient failures are not retried;
// an authentication failure gets the single refresh.
func (r *run) initiate(ctx context.Context) error {
	for {
		remote, err := bounded(ctx, r.o.reqTimeout, "initiate", func(ctx context.Context) (*platform.Session, error) {
			return r.o.transport.Initiate(ctx, r.token, buildVideo(&r.req), r.req.Size, r.req.ContentType)
		})
		if err == nil {
			r.remote = remote
			r.session.ID = remote.URI
			r.logger.Debug("session initiated")

			return nil
		}

		if errors.Is(err, platform.ErrUnauthorized) && ctx.Err() == nil {
			if authErr := r.reauth(ctx, err); authErr != nil {
				return authErr
			}

			continue
		}

		return r.fail(ErrInitiationFailed, err)
	}
}

// transfer sends the content chunk by chunk and returns the video id.
func (r *run) transfer(ctx context.Context) (string, error) {
	r.session.Status = StatusInProgress

	offset := int64(0)
	for offset < r.session.Total {
		length := min(r.o.chunkSize, r.session.Total-offset)

		res, err := r.o.retry(ctx, r.logger, "chunk", func() (*platform.ChunkResult, error) {
			return r.sendChunk(ctx, offset, length)
		})
		if err != nil {
			if !errors.Is(err, platform.ErrUnauthorized) || ctx.Err() != nil {
				return "", r.fail(ErrTransferFailed, err)
			}

			if authErr := r.reauth(ctx, err); authErr != nil {
				return "", authErr
			}

			resumed, videoID, qErr := r.resumeOffset(ctx)
			if qErr != nil {
				return "", qErr
			}

			if videoID != "" {
				return videoID, nil
			}

			r.logger.Info("resuming after token refresh", slog.Int64("offset", resumed))
			offset = resumed

			continue
		}

		if res.Complete {
			r.session.Status = StatusFinalizing
			r.session.Acknowledged = r.session.Total

			return res.Video.Id, nil
		}

		r.acknowledge(res.Acknowledged)
		offset = res.Acknowledged
	}

	return r.finalize(ctx)
}

// sendChunk sends [offset, offset+length) under its own deadline and
// insists on forward progress.
func (r *run) sendChunk(ctx context.Context, offset, length int64) (*platform.ChunkResult, error) {
	res, err := bounded(ctx, r.o.reqTimeout, fmt.Sprintf("chunk at offset %d", offset),
		func(ctx context.Context) (*platform.ChunkResult, error) {
			body := r.o.limiter.WrapReader(ctx, io.NewSectionReader(r.req.Content, offset, length))
			return r.o.transport.SendChunk(ctx, r.token, r.remote, offset, body, length)
		})
	if err != nil {
		return nil, err
	}

	if res.Complete {
		if res.Video == nil || res.Video.Id == "" {
			return nil, fmt.Errorf("%w: completion without a video id", platform.ErrProtocol)
		}

		return res, nil
	}

	if res.Acknowledged > r.session.Total {
		return nil, fmt.Errorf("%w: %d bytes acknowledged of %d", platform.ErrProtocol, res.Acknowledged, r.session.Total)
	}

	if res.Acknowledged <= offset {
		return nil, fmt.Errorf("%w: at offset %d (platform holds %d)", errNoProgress, offset, res.Acknowledged)
	}

	return res, nil
}

// resumeOffset asks the platform where to continue after a refresh. If the
// query fails for a non-auth reason the local acknowledged offset is used.
func (r *run) resumeOffset(ctx context.Context) (int64, string, error) {
	res, err := r.o.retry(ctx, r.logger, "status query", func() (*platform.ChunkResult, error) {
		return bounded(ctx, r.o.reqTimeout, "status query", func(ctx context.Context) (*platform.ChunkResult, error) {
			return r.o.transport.QueryProgress(ctx, r.token, r.remote)
		})
	})

	switch {
	case err == nil && res.Complete && res.Video != nil:
		r.session.Status = StatusFinalizing
		r.session.Acknowledged = r.session.Total

		return r.session.Total, res.Video.Id, nil
	case err == nil:
		r.session.Acknowledged = res.Acknowledged
		r.acknowledge(res.Acknowledged)

		return res.Acknowledged, "", nil
	case errors.Is(err, platform.ErrUnauthorized):
		return 0, "", r.fail(ErrNotAuthenticated, err)
	case ctx.Err() != nil:
		return 0, "", r.fail(ErrTransferFailed, err)
	default:
		r.logger.Warn("status query failed, resuming from local offset",
			slog.Int64("offset", r.session.Acknowledged),
			slog.String("error", err.Error()),
		)

		return r.session.Acknowledged, "", nil
	}
}

// finalize completes a session whose bytes are all acknowledged but which
// has not yet reported the created video.
func (r *run) finalize(ctx context.Context) (string, error) {
	r.session.Status = StatusFinalizing

	for {
		res, err := r.o.retry(ctx, r.logger, "finalize", func() (*platform.ChunkResult, error) {
			video, err := bounded(ctx, r.o.reqTimeout, "finalize", func(ctx context.Context) (*youtube.Video, error) {
				return r.o.transport.Finalize(ctx, r.token, r.remote)
			})
			if err != nil {
				return nil, err
			}

			if video == nil || video.Id == "" {
				return nil, fmt.Errorf("%w: finalize returned no video id", platform.ErrProtocol)
			}

			return &platform.ChunkResult{Complete: true, Acknowledged: r.session.Total, Video: video}, nil
		})
		if err == nil {
			return res.Video.Id, nil
		}

		if errors.Is(err, platform.ErrUnauthorized) && ctx.Err() == nil {
			if authErr := r.reauth(ctx, err); authErr != nil {
				return "", authErr
			}

			continue
		}

		return "", r.fail(ErrFinalizationFailed, err)
	}
}

// reauth spends the publish's single token refresh.
func (r *run) reauth(ctx context.Context, cause error) error {
	if r.refreshed {
		return r.fail(ErrNotAuthenticated, cause)
	}

	r.refreshed = true
	authRecoveries.Inc()

	r.logger.Info("platform rejected token, refreshing", slog.Int64("acknowledged", r.session.Acknowledged))

	token, err := r.o.tokens.ForceRefresh(ctx, r.token)
	if err != nil {
		return r.fail(ErrNotAuthenticated, errors.Join(cause, err))
	}

	r.token = token

	return nil
}

// acknowledge records that the platform holds n bytes and notifies
// observers when n passes the previous high-water mark.
func (r *run) acknowledge(n int64) {
	r.session.Acknowledged = n

	if n <= r.reported {
		return
	}

	bytesAcknowledged.Add(float64(n - r.reported))
	r.reported = n

	if r.progress != nil {
		r.progress(newProgressEvent(n, r.session.Total))
	}

	if r.o.recorder != nil {
		if err := r.o.recorder.Progress(context.Background(), r.id, n); err != nil {
			r.logger.Debug("recording progress failed", slog.String("error", err.Error()))
		}
	}
}

// bounded runs one request attempt with its own deadline. Hitting that
// deadline while ctx is still live is a transient network failure.
func bounded[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return v, fmt.Errorf("%w: %s timed out after %s: %w", platform.ErrNetwork, op, timeout, err)
	}

	return v, err
}

func (r *run) fail(kind, cause error) error {
	r.session.Status = StatusFailed
	if cause != nil {
		r.session.Reason = cause.Error()
	} else {
		r.session.Reason = kind.Error()
	}

	return &PublishError{
		Kind:    kind,
		Offset:  r.session.Acknowledged,
		Session: r.session,
		Err:     cause,
	}
}
