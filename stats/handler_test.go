package stats

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type jsonPayload string

func (p jsonPayload) ToJSON() []byte {
	return []byte(p)
}

type gauges []prometheus.Collector

func (g gauges) ToProm() []prometheus.Collector {
	return g
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	method      string
	path        string
	contentType string
	body        string
}

func (r *recorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, recordedRequest{
			method:      req.Method,
			path:        req.URL.Path,
			contentType: req.Header.Get("Content-Type"),
			body:        string(body),
		})
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func TestHandler_SendWebhook(t *testing.T) {
	tests := map[string]struct {
		givenStatus  int
		givenPayload jsonPayload
		expectedErr  string
	}{
		"GivenOK_ExpectNoError": {
			givenStatus:  http.StatusOK,
			givenPayload: `{"name":"laptop"}`,
		},
		"GivenAccepted_ExpectNoError": {
			givenStatus:  http.StatusAccepted,
			givenPayload: `{"name":"laptop"}`,
		},
		"GivenServerError_ExpectError": {
			givenStatus:  http.StatusInternalServerError,
			givenPayload: `{"name":"laptop"}`,
			expectedErr:  "500 Internal Server Error",
		},
		"GivenEmptyPayload_ExpectError": {
			givenStatus:  http.StatusOK,
			givenPayload: "",
			expectedErr:  "webhook data is empty",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			server := httptest.NewServer(rec.handler(tt.givenStatus))
			defer server.Close()
			h := NewHandler("", "laptop", server.URL+"/hook", zapr.NewLogger(zaptest.NewLogger(t)))

			err := h.SendWebhook(tt.givenPayload)

			if tt.expectedErr != "" {
				assert.ErrorContains(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, rec.requests, 1)
			assert.Equal(t, http.MethodPost, rec.requests[0].method)
			assert.Equal(t, "/hook", rec.requests[0].path)
			assert.Equal(t, "application/json", rec.requests[0].contentType)
			assert.Equal(t, string(tt.givenPayload), rec.requests[0].body)
		})
	}
}

func TestHandler_SendPrometheus(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler(http.StatusOK))
	defer server.Close()
	h := NewHandler(server.URL, "laptop", "", zapr.NewLogger(zaptest.NewLogger(t)))

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "timevault_test_gauge", Help: "test"})
	gauge.Set(42)

	require.NoError(t, h.SendPrometheus(gauges{gauge}))

	require.Len(t, rec.requests, 1)
	assert.Equal(t, http.MethodPost, rec.requests[0].method)
	assert.Equal(t, "/metrics/job/timevault/instance/laptop", rec.requests[0].path)
}

func TestHandler_SendPrometheusFailure(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec.handler(http.StatusBadGateway))
	defer server.Close()
	h := NewHandler(server.URL, "laptop", "", zapr.NewLogger(zaptest.NewLogger(t)))

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "timevault_test_gauge", Help: "test"})

	assert.Error(t, h.SendPrometheus(gauges{gauge}))
}

func TestHandler_Disabled(t *testing.T) {
	h := NewHandler("", "laptop", "", zapr.NewLogger(zaptest.NewLogger(t)))

	assert.NoError(t, h.SendWebhook(jsonPayload("")))
	assert.NoError(t, h.SendPrometheus(gauges{}))
}

func TestHandler_UnreachableWebhook(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	h := NewHandler("", "laptop", url, zapr.NewLogger(zaptest.NewLogger(t)))

	err := h.SendWebhook(jsonPayload(`{}`))

	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "could not send webhook"))
}
