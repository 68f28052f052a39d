package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/mangalib-parser/internal/dispatcher"
	"github.com/JakeFAU/mangalib-parser/internal/manga"
	queueMemory "github.com/JakeFAU/mangalib-parser/internal/queue/memory"
)

func TestServer_ScrapManga_Accepts(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(10)
	server := NewServer(dispatcher.New(q, nil), &fakeClock{now: time.Unix(100, 0)}, Config{}, zap.NewNop())

	body := `{"slug":"test-manga","callback_url":"http://cb.test","after_chapter":"3","after_volume":"1"}`
	for _, path := range []string{"/scrap-manga", "/scrap-manga/"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body)))

		require.Equal(t, http.StatusOK, rec.Code, path)
		require.JSONEq(t, `{"success":true,"message":"Manga was sent successfully"}`, rec.Body.String())
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

		item, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.Equal(t, "test-manga", item.Request.Slug)
		require.Equal(t, &manga.Cursor{Chapter: "3", Volume: "1"}, item.Request.Cursor())
		require.Equal(t, rec.Header().Get("X-Request-ID"), item.RequestID)
		require.Equal(t, time.Unix(100, 0), item.Submitted)
	}
}

func TestServer_ScrapManga_RepliesBeforeJobRuns(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	server := NewServer(enq, nil, Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scrap-manga",
		bytes.NewBufferString(`{"slug":"s","callback_url":"u"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, enq.all(), 1)
}

func TestServer_ScrapManga_InvalidJSON(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{}
	server := NewServer(enq, nil, Config{}, zap.NewNop())
	for _, body := range []string{
		"{invalid",
		`{"callback_url":"u"}`,
		`{"slug":1}`,
		`{"slug":"a","callback_url":"u"} trailing`,
		`{"slug":"a","callback_url":"u"}{"slug":"b","callback_url":"u"}`,
		"{\"slug\":\"\xff\",\"callback_url\":\"u\"}",
	} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scrap-manga", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.JSONEq(t, `{"success":false,"message":"Invalid request body"}`, rec.Body.String())
	}
	require.Empty(t, enq.all())
}

func TestServer_ScrapManga_EnqueueFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(&recordingEnqueuer{err: errors.New("queue closed")}, nil, Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scrap-manga",
		bytes.NewBufferString(`{"slug":"s","callback_url":"u"}`)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp resultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
}

func TestServer_ScrapManga_FullQueueTimesOut(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(0)
	server := NewServer(q, nil, Config{EnqueueTimeout: 20 * time.Millisecond}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scrap-manga",
		bytes.NewBufferString(`{"slug":"s","callback_url":"u"}`)))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_UnknownRoute(t *testing.T) {
	t.Parallel()

	server := NewServer(&recordingEnqueuer{}, nil, Config{}, zap.NewNop())
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/scrap-manga"},
		{http.MethodPost, "/scrap-manga/extra"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))

		require.Equal(t, http.StatusNotFound, rec.Code, tc.path)
		require.JSONEq(t, `{"success":false,"message":"Route `+tc.path+` not found"}`, rec.Body.String())
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	server := NewServer(&recordingEnqueuer{}, nil, Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareKeepsIncomingHeader(t *testing.T) {
	t.Parallel()

	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, "abc", seen)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type recordingEnqueuer struct {
	err   error
	mu    sync.Mutex
	items []manga.QueueItem
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, item manga.QueueItem) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, item)
	return nil
}

func (e *recordingEnqueuer) all() []manga.QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]manga.QueueItem(nil), e.items...)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type failingWriter struct {
	header http.Header
	status int
}

func (w *failingWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *failingWriter) WriteHeader(status int) { w.status = status }

func (w *failingWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteJSON_LogsToInjectedLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	w := &failingWriter{}
	writeResult(w, zap.New(core), http.StatusOK, true, msgAccepted)

	require.Equal(t, http.StatusOK, w.status)
	entries := logs.FilterMessage("write JSON failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}
