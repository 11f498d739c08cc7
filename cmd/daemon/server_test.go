package daemon

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	mu      sync.Mutex
	keys    []string
	running map[string]bool
	ran     chan string
}

func (f *fakeRunner) HasSchedule(key string) bool {
	for _, k := range f.keys {
		if k == key {
			return true
		}
	}
	return false
}

func (f *fakeRunner) Running(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[key]
}

func (f *fakeRunner) RunNow(_ context.Context, key string) error {
	f.ran <- key
	return nil
}

func (f *fakeRunner) Keys() []string {
	return f.keys
}

func newTestServer(t *testing.T, r *fakeRunner) (*httptest.Server, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	srv := httptest.NewServer(newRouter(context.Background(), r, registry, zapr.NewLogger(zaptest.NewLogger(t))))
	t.Cleanup(srv.Close)
	return srv, registry
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		keys:    []string{"docs", "pictures"},
		running: map[string]bool{"pictures": true},
		ran:     make(chan string, 1),
	}
}

func request(t *testing.T, method, url string) (int, string) {
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func Test_Healthz(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRunner())

	status, body := request(t, http.MethodGet, srv.URL+"/healthz")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func Test_Metrics(t *testing.T) {
	srv, registry := newTestServer(t, newFakeRunner())
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "timevault_test_gauge", Help: "test"})
	gauge.Set(42)
	registry.MustRegister(gauge)

	status, body := request(t, http.MethodGet, srv.URL+"/metrics")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "timevault_test_gauge 42")
}

func Test_ListSchedules(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRunner())

	status, body := request(t, http.MethodGet, srv.URL+"/schedules")

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[{"name":"docs","running":false},{"name":"pictures","running":true}]`, body)
}

func Test_RunSchedule(t *testing.T) {
	tests := map[string]struct {
		givenSchedule  string
		expectedStatus int
		expectedBody   string
		expectRun      bool
	}{
		"GivenIdleSchedule_ExpectAccepted": {
			givenSchedule:  "docs",
			expectedStatus: http.StatusAccepted,
			expectedBody:   `{"name":"docs","running":true}`,
			expectRun:      true,
		},
		"GivenRunningSchedule_ExpectConflict": {
			givenSchedule:  "pictures",
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"error":"schedule pictures is already running"}`,
		},
		"GivenUnknownSchedule_ExpectNotFound": {
			givenSchedule:  "music",
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"unknown schedule music"}`,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			r := newFakeRunner()
			srv, _ := newTestServer(t, r)

			status, body := request(t, http.MethodPost, srv.URL+"/schedules/"+tt.givenSchedule+"/run")

			assert.Equal(t, tt.expectedStatus, status)
			assert.JSONEq(t, tt.expectedBody, strings.TrimSpace(body))
			if tt.expectRun {
				select {
				case key := <-r.ran:
					assert.Equal(t, tt.givenSchedule, key)
				case <-time.After(5 * time.Second):
					t.Fatal("schedule was not run")
				}
				return
			}
			assert.Empty(t, r.ran)
		})
	}
}

func Test_RunSchedule_WrongMethod(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRunner())

	status, _ := request(t, http.MethodGet, srv.URL+"/schedules/docs/run")

	assert.Equal(t, http.StatusMethodNotAllowed, status)
}
