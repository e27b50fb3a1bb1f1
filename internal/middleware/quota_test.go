package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/formwell/internal/auth"
	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/service"
	"github.com/DukeRupert/formwell/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fixtures
// =============================================================================

// brokenUsageStore fails every call, like a database that is down.
type brokenUsageStore struct{}

var errStoreDown = errors.New("connection refused")

func (brokenUsageStore) GetOrCreate(context.Context, uuid.UUID, time.Time) (*domain.UsageCounter, error) {
	return nil, errStoreDown
}

func (brokenUsageStore) Get(context.Context, uuid.UUID, time.Time) (*domain.UsageCounter, error) {
	return nil, errStoreDown
}

func (brokenUsageStore) Increment(context.Context, domain.UsageIncrement) (*domain.IncrementResult, error) {
	return nil, errStoreDown
}

func (brokenUsageStore) MarkThresholds(context.Context, domain.ThresholdMark) (*domain.IncrementResult, error) {
	return nil, errStoreDown
}

func (brokenUsageStore) Decrement(context.Context, uuid.UUID, time.Time, domain.Dimension, int64) (*domain.UsageCounter, error) {
	return nil, errStoreDown
}

type thresholdLog struct {
	mu     sync.Mutex
	events []domain.ThresholdEvent
}

func (n *thresholdLog) NotifyThreshold(_ context.Context, event domain.ThresholdEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *thresholdLog) thresholds() []domain.Threshold {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Threshold
	for _, e := range n.events {
		out = append(out, e.Threshold)
	}
	return out
}

type quotaFixture struct {
	quota    service.QuotaService
	mw       *QuotaMiddleware
	handler  http.Handler
	notifier *thresholdLog
	logs     *bytes.Buffer
	userID   uuid.UUID
	status   int
	calls    int
}

func newQuotaFixture(t *testing.T, usage service.UsageStore) *quotaFixture {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	notifier := &thresholdLog{}
	quota := service.NewQuotaService(memory.NewPlanStore(), usage, notifier, service.QuotaConfig{
		FreePlan: domain.FreePlanLimits(3, 100, 5),
	}, logger)

	mw, err := NewQuotaMiddleware(quota, DefaultQuotaRoutes(1<<20), logger)
	require.NoError(t, err)

	f := &quotaFixture{
		quota:    quota,
		mw:       mw,
		notifier: notifier,
		logs:     logs,
		userID:   uuid.New(),
		status:   http.StatusCreated,
	}
	f.handler = mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		w.WriteHeader(f.status)
	}))
	return f
}

func (f *quotaFixture) do(req *http.Request) *httptest.ResponseRecorder {
	req = req.WithContext(auth.SetPrincipal(req.Context(), &domain.Principal{UserID: f.userID}))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *quotaFixture) used(t *testing.T, dim domain.Dimension) int64 {
	t.Helper()
	report, err := f.quota.GetUsage(context.Background(), f.userID)
	require.NoError(t, err)
	for _, d := range report.Dimensions {
		if d.Dimension == dim {
			return d.Used
		}
	}
	t.Fatalf("dimension %s missing from report", dim)
	return 0
}

func uploadRequest(t *testing.T, path string, sizes ...int) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for i, size := range sizes {
		part, err := w.CreateFormFile("files", "file"+string(rune('a'+i))+".bin")
		require.NoError(t, err)
		_, err = part.Write(make([]byte, size))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// =============================================================================
// Tests
// =============================================================================

func TestQuotaMiddleware_RejectsOverCapWith429(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	for i := 0; i < 3; i++ {
		rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 3, f.calls, "handler must not run for a rejected request")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "quota_exceeded", body["error"])
	assert.Equal(t, "QUOTA_FORMS_EXCEEDED", body["error_code"])
	assert.Equal(t, "create_form", body["action_type"])
	assert.EqualValues(t, 3, body["current_usage"])
	assert.EqualValues(t, 3, body["max_limit"])
	assert.EqualValues(t, 100, body["percentage_used"])
	assert.NotEmpty(t, body["message"])
}

func TestQuotaMiddleware_SubmissionRoute(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms/"+uuid.NewString()+"/submissions", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.EqualValues(t, 1, f.used(t, domain.DimensionSubmissions))
}

func TestQuotaMiddleware_UploadChargesCeilMegabytes(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	rec := f.do(uploadRequest(t, "/api/forms/"+uuid.NewString()+"/files", 1_024_000, 1_024_000))
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.EqualValues(t, 2, f.used(t, domain.DimensionStorage), "2,048,000 bytes is 2 MB")
}

func TestQuotaMiddleware_UploadOverStorageCap(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	rec := f.do(uploadRequest(t, "/api/forms/"+uuid.NewString()+"/files", 6*domain.BytesPerMB))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body domain.QuotaExceededBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, domain.CodeQuotaStorageExceeded, body.ErrorCode)
	assert.Zero(t, f.calls)
}

func TestQuotaMiddleware_EmptyUploadPassesUnchecked(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	rec := f.do(uploadRequest(t, "/api/forms/"+uuid.NewString()+"/files"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, f.calls)
	assert.Zero(t, f.used(t, domain.DimensionStorage))
}

func TestQuotaMiddleware_ReleasesOnHandlerFailure(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())
	f.status = http.StatusBadRequest

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, f.used(t, domain.DimensionForms), "failed requests are not charged")
}

func TestQuotaMiddleware_ChargesOnlySuccessfulResponses(t *testing.T) {
	tests := []struct {
		status  int
		charged int64
	}{
		{http.StatusOK, 1},
		{http.StatusCreated, 1},
		{http.StatusNoContent, 1},
		{http.StatusMovedPermanently, 0},
		{http.StatusFound, 0},
		{http.StatusNotModified, 0},
		{http.StatusNotFound, 0},
		{http.StatusInternalServerError, 0},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newQuotaFixture(t, memory.NewUsageStore())
			f.status = tt.status

			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.charged, f.used(t, domain.DimensionForms))
		})
	}
}

func TestQuotaMiddleware_ChargesOnlyWhatTheMuxDispatches(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/forms", func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		w.WriteHeader(http.StatusCreated)
	})
	f.handler = f.mw.Handler(mux)

	tests := []struct {
		path   string
		status int
	}{
		{"//api/forms", http.StatusMovedPermanently},
		{"/api/./forms", http.StatusMovedPermanently},
		{"/api/x/../forms", http.StatusMovedPermanently},
		{"/api/forms/", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.URL.Path = tt.path

			rec := f.do(req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Zero(t, f.calls)
	assert.Zero(t, f.used(t, domain.DimensionForms), "requests the mux never dispatched are not charged")

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 1, f.used(t, domain.DimensionForms))
}

func TestQuotaMiddleware_ThresholdsSignaledOnlyAfterSuccess(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusCreated, f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil)).Code)
	}
	assert.Empty(t, f.notifier.thresholds())

	// The third form reaches 80% and 100% of the cap of 3, but fails.
	f.status = http.StatusInternalServerError
	require.Equal(t, http.StatusInternalServerError, f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil)).Code)
	assert.Empty(t, f.notifier.thresholds(), "a failed request signals nothing")
	assert.EqualValues(t, 2, f.used(t, domain.DimensionForms))

	f.status = http.StatusCreated
	require.Equal(t, http.StatusCreated, f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil)).Code)
	assert.Equal(t, []domain.Threshold{domain.Threshold80, domain.Threshold100}, f.notifier.thresholds())
}

func TestQuotaMiddleware_ForwardsFlush(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())

	var flushable bool
	f.handler = f.mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var flusher http.Flusher
		flusher, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		if flushable {
			flusher.Flush()
		}
	}))

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
	require.True(t, flushable, "streaming handlers need http.Flusher")
	assert.True(t, rec.Flushed)
	assert.EqualValues(t, 1, f.used(t, domain.DimensionForms))
}

func TestStatusRecorder_IgnoresInformationalStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	rec.WriteHeader(http.StatusEarlyHints)
	rec.WriteHeader(http.StatusBadGateway)
	assert.Equal(t, http.StatusBadGateway, rec.status)
}

func TestQuotaMiddleware_ReleasesOnPanic(t *testing.T) {
	f := newQuotaFixture(t, memory.NewUsageStore())
	mw, err := NewQuotaMiddleware(f.quota, DefaultQuotaRoutes(1<<20), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	panicking := mw.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/forms", nil)
	req = req.WithContext(auth.SetPrincipal(req.Context(), &domain.Principal{UserID: f.userID}))
	assert.PanicsWithValue(t, "boom", func() {
		panicking.ServeHTTP(httptest.NewRecorder(), req)
	})

	assert.Zero(t, f.used(t, domain.DimensionForms))
}

func TestQuotaMiddleware_FailsOpenOnStoreError(t *testing.T) {
	f := newQuotaFixture(t, brokenUsageStore{})

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/forms", nil))
	require.Equal(t, http.StatusCreated, rec.Code, "request proceeds when quota cannot be checked")
	assert.Equal(t, 1, f.calls)

	logs := f.logs.String()
	assert.Contains(t, logs, "level=ERROR")
	assert.Contains(t, logs, "user_id="+f.userID.String())
	assert.Contains(t, logs, "route=/api/forms")
	assert.Contains(t, logs, "connection refused")
}

func TestQuotaMiddleware_PassThrough(t *testing.T) {
	f := newQuotaFixture(t, brokenUsageStore{})

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"unprotected route", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/forms/"+uuid.NewString(), nil)
		}},
		{"wrong method", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/forms", nil)
		}},
		{"sub-request", func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/api/forms", nil)
			return req.WithContext(MarkSubRequest(req.Context()))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.logs.Reset()
			rec := f.do(tt.req())
			assert.Equal(t, http.StatusCreated, rec.Code)
			assert.Empty(t, f.logs.String(), "quota must not be consulted")
		})
	}
}

func TestQuotaMiddleware_AnonymousPassesThrough(t *testing.T) {
	f := newQuotaFixture(t, brokenUsageStore{})

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forms", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, f.logs.String())
}

func TestCompiledRoute_Matches(t *testing.T) {
	route, err := compileRoute(QuotaRoute{
		Method:   http.MethodPost,
		Pattern:  "/api/forms/{id}/files",
		Action:   domain.ActionUploadFile,
		Quantity: Fixed(1),
	})
	require.NoError(t, err)

	assert.True(t, route.matches(http.MethodPost, "/api/forms/abc/files"))
	assert.False(t, route.matches(http.MethodPost, "/api/forms//files"), "wildcards need a value")
	assert.False(t, route.matches(http.MethodPost, "/api/forms/abc/def/files"), "wildcards match one segment")
	assert.False(t, route.matches(http.MethodPut, "/api/forms/abc/files"))
	assert.False(t, route.matches(http.MethodPost, "/api/forms/abc"))
	assert.False(t, route.matches(http.MethodPost, "/api/forms/abc/files/"), "trailing slash is a different path")
	assert.False(t, route.matches(http.MethodPost, "//api/forms/abc/files"), "unclean paths are redirected, not dispatched")
}

func TestNewQuotaMiddleware_RejectsBadRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewQuotaMiddleware(nil, []QuotaRoute{{Method: http.MethodPost, Pattern: "/x", Action: "delete_form", Quantity: Fixed(1)}}, logger)
	assert.Error(t, err)

	_, err = NewQuotaMiddleware(nil, []QuotaRoute{{Method: http.MethodPost, Pattern: "/x", Action: domain.ActionCreateForm}}, logger)
	assert.Error(t, err)

	_, err = NewQuotaMiddleware(nil, []QuotaRoute{{Method: http.MethodPost, Pattern: "x", Action: domain.ActionCreateForm, Quantity: Fixed(1)}}, logger)
	assert.Error(t, err)
}
