package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/youtube/v3"

	"github.com/tonimelisma/vidpub/internal/auth"
	"github.com/tonimelisma/vidpub/internal/credstore"
	"github.com/tonimelisma/vidpub/internal/ledger"
	"github.com/tonimelisma/vidpub/internal/metadata"
	"github.com/tonimelisma/vidpub/internal/platform"
	"github.com/tonimelisma/vidpub/internal/upload"
)

const serverVideoID = "vid-srv"

// fakeAuth mimics the token manager's callback checks.
type fakeAuth struct {
	mu         sync.Mutex
	state      auth.State
	challenges []auth.Challenge
	exchangeErr error
	logouts    int
}

func (f *fakeAuth) AuthCodeURL(c auth.Challenge) string {
	return "https://accounts.example/auth?state=" + c.State
}

func (f *fakeAuth) HandleCallback(_ context.Context, q auth.CallbackParams, c auth.Challenge) (*credstore.TokenSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.challenges = append(f.challenges, c)

	if q.Get("state") != c.State {
		return nil, auth.ErrStateMismatch
	}

	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}

	f.state = auth.State{Authenticated: true, ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	return &credstore.TokenSet{AccessToken: "a", RefreshToken: "r"}, nil
}

func (f *fakeAuth) State() (auth.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state, nil
}

func (f *fakeAuth) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.logouts++
	f.state = auth.State{}

	return nil
}

type fakeWaiter struct {
	timeouts []time.Duration
}

func (f *fakeWaiter) AwaitLogin(_ context.Context, timeout time.Duration) bool {
	f.timeouts = append(f.timeouts, timeout)
	return false
}

type stubTokens struct {
	err error
}

func (s stubTokens) ValidToken(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}

	return "tok", nil
}

func (s stubTokens) ForceRefresh(context.Context, string) (string, error) {
	return "", auth.ErrRefreshFailed
}

// stubTransport accepts everything, optionally gated per chunk.
type stubTransport struct {
	mu       sync.Mutex
	gate     chan struct{}
	chunkErr error
	acked    int64
}

func (s *stubTransport) Initiate(_ context.Context, _ string, _ *youtube.Video, size int64, _ string) (*platform.Session, error) {
	return &platform.Session{URI: "https://upload.example/s", Total: size}, nil
}

func (s *stubTransport) SendChunk(
	_ context.Context, _ string, sess *platform.Session, _ int64, chunk io.Reader, length int64,
) (*platform.ChunkResult, error) {
	if s.gate != nil {
		<-s.gate
	}

	if _, err := io.Copy(io.Discard, chunk); err != nil {
		return nil, err
	}

	if s.chunkErr != nil {
		return nil, s.chunkErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.acked += length
	if s.acked >= sess.Total {
		return &platform.ChunkResult{Complete: true, Acknowledged: s.acked, Video: &youtube.Video{Id: serverVideoID}}, nil
	}

	return &platform.ChunkResult{Acknowledged: s.acked}, nil
}

func (s *stubTransport) QueryProgress(context.Context, string, *platform.Session) (*platform.ChunkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &platform.ChunkResult{Acknowledged: s.acked}, nil
}

func (s *stubTransport) Finalize(context.Context, string, *platform.Session) (*youtube.Video, error) {
	return &youtube.Video{Id: serverVideoID}, nil
}

type fakeHistory struct {
	records map[string]*ledger.Record
}

func (f *fakeHistory) Get(_ context.Context, id string) (*ledger.Record, error) {
	if rec, ok := f.records[id]; ok {
		return rec, nil
	}

	return nil, ledger.ErrNotFound
}

func (f *fakeHistory) Recent(context.Context, int) ([]ledger.Record, error) {
	out := make([]ledger.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, *rec)
	}

	return out, nil
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(_ context.Context, in metadata.Input) (*metadata.Metadata, error) {
	if in.Text == "" && in.Topic == "" {
		return nil, metadata.ErrEmptyInput
	}

	return &metadata.Metadata{Title: "Generated " + in.Topic, Tags: []string{"a"}, CategoryID: "27"}, nil
}

type testEnv struct {
	srv       *httptest.Server
	auth      *fakeAuth
	transport *stubTransport
	server    *Server
}

func newTestEnv(t *testing.T, tokens upload.TokenProvider, deps Deps) *testEnv {
	t.Helper()

	tr := &stubTransport{}
	if deps.Publisher == nil {
		deps.Publisher = upload.NewOrchestrator(tokens, tr, upload.Options{ChunkSize: 4, MaxAttempts: 1}, slog.Default())
	}

	fa := &fakeAuth{}
	if deps.Auth == nil {
		deps.Auth = fa
	}

	s, err := New(deps, Options{SessionKey: bytes.Repeat([]byte("k"), 32)}, slog.Default())
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, auth: fa, transport: tr, server: s}
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// videoForm builds a multipart upload body.
func videoForm(t *testing.T, fileName, contentType, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}

	if fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, fileName))
		h.Set("Content-Type", contentType)

		part, err := mw.CreatePart(h)
		require.NoError(t, err)

		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, stubTokens{}, Deps{})

	resp, err := http.Get(env.srv.URL + "/api/health")
	require.NoError(t, err)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, stubTokens{}, Deps{})

	resp, err := http.Get(env.srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vidpub_http_requests_total{method="GET",route="/api/health",status="200"}`)
}

func TestServe_StopsOnCancel(t *testing.T) {
	s, err := New(Deps{Auth: &fakeAuth{}}, Options{ShutdownTimeout: time.Second}, slog.Default())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	s, err := New(Deps{Auth: &fakeAuth{}}, Options{Listen: "256.0.0.1:bad"}, slog.Default())
	require.NoError(t, err)

	assert.Error(t, s.Run(context.Background()))
}

func TestNew_EphemeralSessionKey(t *testing.T) {
	s, err := New(Deps{Auth: &fakeAuth{}}, Options{PublicURL: "https://videos.example.com"}, nil)
	require.NoError(t, err)
	assert.True(t, s.cookies.Options.Secure)
	assert.True(t, s.cookies.Options.HttpOnly)
}

func TestRedirectURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://localhost:5000/api/auth/login", nil)

	s := &Server{}
	assert.Equal(t, "http://localhost:5000/api/auth/callback", s.redirectURL(r))

	s.opts.PublicURL = "https://videos.example.com/"
	assert.Equal(t, "https://videos.example.com/api/auth/callback", s.redirectURL(r))

	s.opts.RedirectURL = "https://override.example/cb"
	assert.Equal(t, "https://override.example/cb", s.redirectURL(r))
}

func TestPublishStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, publishStatus(&upload.ValidationError{Err: upload.ErrEmptyFile}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, publishStatus(&upload.ValidationError{Err: upload.ErrTooLarge}))
	assert.Equal(t, http.StatusUnauthorized, publishStatus(&upload.PublishError{Kind: upload.ErrNotAuthenticated}))
	assert.Equal(t, http.StatusBadGateway, publishStatus(&upload.PublishError{Kind: upload.ErrTransferFailed}))
	assert.Equal(t, http.StatusServiceUnavailable,
		publishStatus(&upload.PublishError{Kind: upload.ErrTransferFailed, Err: context.Canceled}))
	assert.Equal(t, http.StatusInternalServerError, publishStatus(errors.New("other")))
}

// newCookieClient returns a client that keeps cookies between requests.
func newCookieClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &http.Client{Jar: jar}
}

func postForm(t *testing.T, target string, fields url.Values) *http.Response {
	t.Helper()

	resp, err := http.PostForm(target, fields)
	require.NoError(t, err)

	return resp
}

func newRequest(t *testing.T, method, target string, body io.Reader) *http.Request {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, target, body)
	require.NoError(t, err)

	return req
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return strings.TrimSpace(string(b))
}
