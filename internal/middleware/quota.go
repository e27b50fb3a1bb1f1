package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/DukeRupert/formwell/internal/auth"
	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/handler"
	"github.com/DukeRupert/formwell/internal/metrics"
	"github.com/DukeRupert/formwell/internal/service"
)

// =============================================================================
// Route Table
// =============================================================================

// Quantity resolves how many units a request consumes.
type Quantity func(r *http.Request) (int64, error)

// Fixed charges n units per request.
func Fixed(n int64) Quantity {
	return func(*http.Request) (int64, error) {
		return n, nil
	}
}

// UploadSizeMB charges the total size of all multipart file parts, rounded up
// to whole megabytes. The parsed form stays on the request for the handler.
func UploadSizeMB(maxMemory int64) Quantity {
	return func(r *http.Request) (int64, error) {
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return 0, err
		}

		var total int64
		for _, files := range r.MultipartForm.File {
			for _, fh := range files {
				total += fh.Size
			}
		}
		return domain.SizeToMB(total), nil
	}
}

// QuotaRoute is one protected operation. Pattern uses ServeMux syntax where
// {name} matches a single non-empty path segment.
type QuotaRoute struct {
	Method   string
	Pattern  string
	Action   domain.ActionType
	Quantity Quantity
}

// DefaultQuotaRoutes returns the protected operations of the forms API.
func DefaultQuotaRoutes(maxMemory int64) []QuotaRoute {
	return []QuotaRoute{
		{Method: http.MethodPost, Pattern: "/api/forms", Action: domain.ActionCreateForm, Quantity: Fixed(1)},
		{Method: http.MethodPost, Pattern: "/api/forms/{id}/submissions", Action: domain.ActionSubmitForm, Quantity: Fixed(1)},
		{Method: http.MethodPost, Pattern: "/api/forms/{id}/files", Action: domain.ActionUploadFile, Quantity: UploadSizeMB(maxMemory)},
	}
}

type compiledRoute struct {
	QuotaRoute
	segments []string
}

func compileRoute(route QuotaRoute) (compiledRoute, error) {
	if !route.Action.IsValid() {
		return compiledRoute{}, fmt.Errorf("quota route %s %s: unknown action %q", route.Method, route.Pattern, route.Action)
	}
	if route.Quantity == nil {
		return compiledRoute{}, fmt.Errorf("quota route %s %s: missing quantity", route.Method, route.Pattern)
	}
	if !strings.HasPrefix(route.Pattern, "/") {
		return compiledRoute{}, fmt.Errorf("quota route %s %s: pattern must start with /", route.Method, route.Pattern)
	}
	return compiledRoute{
		QuotaRoute: route,
		segments:   strings.Split(strings.Trim(route.Pattern, "/"), "/"),
	}, nil
}

// matches reports whether a request would reach the route's handler. Paths
// that are not in canonical form never match: the mux answers those with a
// redirect instead of dispatching them.
func (c compiledRoute) matches(method, urlPath string) bool {
	if c.Method != method {
		return false
	}
	if urlPath == "" || urlPath != path.Clean(urlPath) {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(urlPath, "/"), "/")
	if len(parts) != len(c.segments) {
		return false
	}
	for i, seg := range c.segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// Sub-requests
// =============================================================================

type subRequestKey struct{}

// MarkSubRequest marks ctx as an internally dispatched request. The quota
// middleware does not charge marked requests a second time.
func MarkSubRequest(ctx context.Context) context.Context {
	return context.WithValue(ctx, subRequestKey{}, true)
}

func isSubRequest(ctx context.Context) bool {
	v, _ := ctx.Value(subRequestKey{}).(bool)
	return v
}

// =============================================================================
// Quota Middleware
// =============================================================================

// QuotaMiddleware charges plan quota before protected handlers run.
//
// A matched request from an authenticated principal reserves its quantity
// up front. Rejections get a 429 with the quota body and never reach the
// handler. The reservation is committed only when the handler answers with a
// 2xx status; any other status or a panic releases it. Unexpected quota errors are logged and the
// request proceeds unmetered.
type QuotaMiddleware struct {
	quota  service.QuotaService
	routes []compiledRoute
	logger *slog.Logger
}

// NewQuotaMiddleware creates a QuotaMiddleware for routes.
func NewQuotaMiddleware(quota service.QuotaService, routes []QuotaRoute, logger *slog.Logger) (*QuotaMiddleware, error) {
	compiled := make([]compiledRoute, 0, len(routes))
	for _, route := range routes {
		c, err := compileRoute(route)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}
	return &QuotaMiddleware{
		quota:  quota,
		routes: compiled,
		logger: logger,
	}, nil
}

// Handler returns the middleware.
func (m *QuotaMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSubRequest(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}

		route, ok := m.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		p := auth.GetPrincipal(r.Context())
		if p == nil {
			next.ServeHTTP(w, r)
			return
		}

		quantity, err := route.Quantity(r)
		if err != nil {
			// The handler rejects the malformed body itself.
			m.logger.Info("could not resolve quota quantity",
				"user_id", p.UserID,
				"route", route.Pattern,
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}
		if quantity == 0 {
			next.ServeHTTP(w, r)
			return
		}

		reservation, err := m.quota.Reserve(r.Context(), p.UserID, route.Action, quantity)
		if err != nil {
			if q, ok := domain.AsQuotaExceeded(err); ok {
				handler.QuotaExceededResponse(w, q)
				return
			}

			m.logger.Error("quota check failed, allowing request",
				"user_id", p.UserID,
				"route", route.Pattern,
				"method", r.Method,
				"action", route.Action,
				"error", err,
			)
			metrics.QuotaFailOpen(route.Action)
			next.ServeHTTP(w, r)
			return
		}

		m.serveReserved(w, r, next, reservation, route)
	})
}

// serveReserved runs the handler, then commits the reservation on a 2xx
// response and releases it otherwise.
func (m *QuotaMiddleware) serveReserved(w http.ResponseWriter, r *http.Request, next http.Handler, res *service.Reservation, route compiledRoute) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if v := recover(); v != nil {
			m.release(r, res, route)
			panic(v)
		}
		if rec.status < http.StatusOK || rec.status >= http.StatusMultipleChoices {
			m.release(r, res, route)
			return
		}
		m.commit(r, res, route)
	}()

	next.ServeHTTP(rec, r)
}

func (m *QuotaMiddleware) commit(r *http.Request, res *service.Reservation, route compiledRoute) {
	if err := m.quota.Commit(context.WithoutCancel(r.Context()), res); err != nil {
		m.logger.Error("failed to commit quota reservation",
			"user_id", res.UserID,
			"route", route.Pattern,
			"action", res.Action,
			"error", err,
		)
	}
}

func (m *QuotaMiddleware) release(r *http.Request, res *service.Reservation, route compiledRoute) {
	if err := m.quota.Release(context.WithoutCancel(r.Context()), res); err != nil {
		m.logger.Error("failed to release quota reservation",
			"user_id", res.UserID,
			"route", route.Pattern,
			"action", res.Action,
			"quantity", res.Quantity,
			"error", err,
		)
	}
}

func (m *QuotaMiddleware) match(r *http.Request) (compiledRoute, bool) {
	for _, route := range m.routes {
		if route.matches(r.Method, r.URL.Path) {
			return route, true
		}
	}
	return compiledRoute{}, false
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	// Informational headers precede the final status.
	if code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols {
		rec.ResponseWriter.WriteHeader(code)
		return
	}
	if !rec.wroteHeader {
		rec.status = code
		rec.wroteHeader = true
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	rec.wroteHeader = true
	return rec.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer when it supports flushing.
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		rec.wroteHeader = true
		f.Flush()
	}
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
