package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tonimelisma/vidpub/internal/ledger"
	"github.com/tonimelisma/vidpub/internal/upload"
)

const (
	// multipartMemory is how much of a form is held in memory before parts
	// spill to temp files.
	multipartMemory = 32 << 20
	// multipartOverhead allows for form fields and boundaries on top of the
	// video itself.
	multipartOverhead = 1 << 20

	videoField     = "video"
	uploadIDHeader = "X-Upload-ID"
	watchURLPrefix = "https://www.youtube.com/watch?v="
	defaultHistory = 20
)

var (
	errUploadIDInUse  = errors.New("upload id already in use")
	errUploadRejected = errors.New("upload rejected before transfer")
)

type validateResponse struct {
	Valid       bool    `json:"valid"`
	FileName    string  `json:"filename"`
	Size        int64   `json:"size"`
	SizeMB      float64 `json:"size_mb"`
	ContentType string  `json:"content_type"`
	Title       string  `json:"title"`
}

type uploadResponse struct {
	VideoID       string `json:"video_id"`
	VideoURL      string `json:"video_url"`
	UploadID      string `json:"upload_id"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	PlaylistAdded bool   `json:"playlist_added"`
}

// handleValidate runs the validation rules without uploading. The file may
// be attached, or described by filename, size and content_type fields.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize+multipartOverhead)

	if err := parseForm(r); err != nil {
		writeFormError(w, err)
		return
	}

	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup is best effort
	}

	req := requestFromForm(r)

	if file, header, err := r.FormFile(videoField); err == nil {
		file.Close()

		req.FileName = header.Filename
		req.Size = header.Size
		req.ContentType = header.Header.Get("Content-Type")
	} else {
		req.FileName = r.FormValue("filename")
		req.ContentType = r.FormValue("content_type")

		size, perr := strconv.ParseInt(r.FormValue("size"), 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "a video file or a numeric size field is required")
			return
		}

		req.Size = size
	}

	valid, err := s.deps.Publisher.Validate(req)
	if err != nil {
		writePublishError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:       true,
		FileName:    valid.FileName,
		Size:        valid.Size,
		SizeMB:      math.Round(float64(valid.Size)/(1<<20)*100) / 100,
		ContentType: valid.ContentType,
		Title:       valid.Title,
	})
}

// handleUpload publishes the attached video and answers when it ends. A
// client that disconnects abandons the upload.
//
// An id sent in the X-Upload-ID header is claimed before the body is read,
// so the progress stream can be opened while the file is still arriving.
// An id that is tracked or already in the history is refused with 409.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize+multipartOverhead)

	var t *tracker
	defer func() {
		// No-op once the publication has finished the tracker.
		if t != nil {
			t.finish(nil, errUploadRejected)
		}
	}()

	id, err := parseUploadID(r.Header.Get(uploadIDHeader))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if id != "" {
		if t, err = s.claimUpload(r.Context(), id); err != nil {
			writeClaimError(w, err)
			return
		}
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeFormError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup is best effort

	file, header, err := r.FormFile(videoField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "no video file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "no file selected")
		return
	}

	if t == nil {
		if id, err = parseUploadID(r.FormValue("upload_id")); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		if id == "" {
			id = uuid.NewString()
		}

		if t, err = s.claimUpload(r.Context(), id); err != nil {
			writeClaimError(w, err)
			return
		}
	}

	req := requestFromForm(r)
	req.Content = file
	req.Size = header.Size
	req.FileName = header.Filename
	req.ContentType = header.Header.Get("Content-Type")

	valid, err := s.deps.Publisher.Validate(req)
	if err != nil {
		writePublishError(w, err)
		return
	}

	w.Header().Set(uploadIDHeader, id)

	res, err := s.runPublication(r.Context(), t, req)
	if err != nil {
		writePublishError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		VideoID:       res.VideoID,
		VideoURL:      watchURLPrefix + res.VideoID,
		UploadID:      res.UploadID,
		Title:         valid.Title,
		Status:        "success",
		PlaylistAdded: res.PlaylistAdded,
	})
}

// runPublication starts the upload and mirrors its events into t.
func (s *Server) runPublication(ctx context.Context, t *tracker, req upload.Request) (*upload.Result, error) {
	p := s.deps.Publisher.StartWithID(ctx, t.snapshot().UploadID, req)

	for ev := range p.Events() {
		t.update(ev)
	}

	res, err := p.Wait()
	t.finish(res, err)

	return res, err
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if t, ok := s.progress.get(id); ok {
		writeJSON(w, http.StatusOK, t.snapshot())
		return
	}

	if s.deps.History != nil {
		rec, err := s.deps.History.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, snapshotFromRecord(rec))
			return
		}

		if !errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}

	writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no upload %q", id))
}

// handleProgressStream pushes snapshots over a websocket until the upload
// ends or the client leaves.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, ok := s.progress.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no active upload %q", id))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow() //nolint:errcheck // already closing

	ctx := conn.CloseRead(r.Context())

	updates, release := t.subscribe()
	defer release()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			if err := wsjson.Write(ctx, conn, snap); err != nil {
				return
			}

			if snap.Status != trackRunning {
				conn.Close(websocket.StatusNormalClosure, snap.Status) //nolint:errcheck // peer may be gone

				return
			}
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "history is not enabled")
		return
	}

	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid limit %q", raw))
			return
		}

		limit = n
	}

	recs, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if recs == nil {
		recs = []ledger.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"uploads": recs})
}

// requestFromForm reads the metadata fields shared by both upload routes.
func requestFromForm(r *http.Request) upload.Request {
	return upload.Request{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Tags:        upload.SplitTags(r.FormValue("tags")),
		CategoryID:  r.FormValue("category_id"),
		Privacy:     r.FormValue("privacy_status"),
		PlaylistID:  r.FormValue("playlist_id"),
	}
}

// claimUpload registers a tracker for a client-chosen or generated id.
func (s *Server) claimUpload(ctx context.Context, id string) (*tracker, error) {
	if s.deps.History != nil {
		_, err := s.deps.History.Get(ctx, id)
		if err == nil {
			return nil, fmt.Errorf("%w: %s is in the history", errUploadIDInUse, id)
		}

		if !errors.Is(err, ledger.ErrNotFound) {
			return nil, err
		}
	}

	t, ok := s.progress.claim(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s is being tracked", errUploadIDInUse, id)
	}

	return t, nil
}

func writeClaimError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUploadIDInUse) {
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

// parseUploadID normalizes a client-chosen id. An empty raw id yields "".
func parseUploadID(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid upload id %q: %w", raw, err)
	}

	return id.String(), nil
}

func parseForm(r *http.Request) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(multipartMemory)
	}

	return r.ParseForm()
}

func writeFormError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request exceeds the maximum upload size")
		return
	}

	if errors.Is(err, multipart.ErrMessageTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
		return
	}

	writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("malformed form: %v", err))
}

// writePublishError maps validation and publish failures to HTTP.
func writePublishError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Kind: upload.KindName(err)}

	var perr *upload.PublishError
	if errors.As(err, &perr) {
		offset := perr.Offset
		resp.Offset = &offset
	}

	writeJSON(w, publishStatus(err), resp)
}

func publishStatus(err error) int {
	var verr *upload.ValidationError

	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case upload.Kind(err) != nil:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func snapshotFromRecord(rec *ledger.Record) progressSnapshot {
	status := trackFailed

	switch rec.Status {
	case ledger.StatusRunning:
		status = trackRunning
	case upload.StatusSucceeded.String():
		status = trackSucceeded
	}

	return progressSnapshot{
		UploadID: rec.ID,
		Status:   status,
		ProgressEvent: upload.ProgressEvent{
			Sent:    rec.Acknowledged,
			Total:   rec.Total,
			Percent: percent(rec.Acknowledged, rec.Total),
		},
		VideoID: rec.VideoID,
		Error:   rec.Error,
	}
}

func percent(sent, total int64) float64 {
	if total <= 0 {
		return 0
	}

	return float64(sent) * 100 / float64(total)
}
