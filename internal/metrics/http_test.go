package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		status  int
		want    string
	}{
		{"mux pattern wins", "POST /api/forms/{id}/files", "/api/forms/abc/files", 201, "/api/forms/{id}/files"},
		{"pattern without method", "/files/", "/files/a/b.png", 200, "/files/"},
		{"uuid collapsed", "", "/api/forms/550e8400-e29b-41d4-a716-446655440000/submissions", 201, "/api/forms/{id}/submissions"},
		{"numeric collapsed", "", "/api/forms/42", 200, "/api/forms/{id}"},
		{"not found", "", "/wp-login.php", 404, unmatchedRoute},
		{"method not allowed", "", "/api/usage", 405, unmatchedRoute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			r.Pattern = tt.pattern
			assert.Equal(t, tt.want, routeLabel(r, tt.status))
		})
	}
}

func TestMiddleware_CountsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/forms/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler := Middleware(mux)

	counter := HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/forms/{id}", "200")
	before := counterValue(t, counter)

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forms/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, before+2, counterValue(t, counter))
}

func TestMiddleware_SkipsMetricsEndpoint(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	counter := HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/metrics", "200")
	before := counterValue(t, counter)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, before, counterValue(t, counter))
}
