package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
	"github.com/signalpost/signalpost-go/metrics"
)

type fakeSender struct {
	events  chan *core.Event
	reports chan *core.ErrorReport
	fail    bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		events:  make(chan *core.Event, 16),
		reports: make(chan *core.ErrorReport, 16),
	}
}

func (f *fakeSender) SubmitEvent(_ context.Context, event *core.Event) (map[string]interface{}, error) {
	f.events <- event
	if f.fail {
		return nil, errors.New("collector unreachable")
	}
	return map[string]interface{}{"status": "accepted"}, nil
}

func (f *fakeSender) SubmitErrorReport(_ context.Context, report *core.ErrorReport) (map[string]interface{}, error) {
	f.reports <- report
	if f.fail {
		return nil, errors.New("collector unreachable")
	}
	return map[string]interface{}{"status": "accepted"}, nil
}

func newTestInstrumentation(t *testing.T, sender EventSender) (*Instrumentation, *metrics.Registry) {
	t.Helper()
	cfg := &core.Config{
		ServiceName:    "checkout",
		ServiceVersion: "1.2.3",
		Environment:    "test",
	}
	registry := metrics.NewRegistry(cfg, zap.NewNop())
	inst, err := NewInstrumentation(cfg, registry, sender, zap.NewNop())
	require.NoError(t, err)
	return inst, registry
}

// counterValue reads one gathered counter series matching the labels
func counterValue(t *testing.T, registry *metrics.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := registry.Gatherer().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, m := range family.GetMetric() {
			for k, v := range want {
				if !hasLabel(m, k, v) {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}

func awaitEvent(t *testing.T, sender *fakeSender) *core.Event {
	t.Helper()
	select {
	case event := <-sender.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded within deadline")
		return nil
	}
}

func TestHandlerRecordsRequest(t *testing.T) {
	sender := newFakeSender()
	inst, registry := newTestInstrumentation(t, sender)

	handler := inst.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/users/42", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":1}`, rec.Body.String())

	labels := map[string]string{"method": "POST", "route": "/users/:id", "status": "201"}
	assert.Equal(t, float64(1), counterValue(t, registry, "signalpost_http_requests_total", labels))

	event := awaitEvent(t, sender)
	assert.Equal(t, "http_request", event.Name)
	assert.Equal(t, "POST", event.Payload["method"])
	assert.Equal(t, "/users/:id", event.Payload["route"])
	assert.Equal(t, http.StatusCreated, event.Payload["status"])
	assert.GreaterOrEqual(t, event.Payload["duration_ms"].(float64), 0.0)
}

func TestHandlerDefaultsStatusToOK(t *testing.T) {
	sender := newFakeSender()
	inst, registry := newTestInstrumentation(t, sender)

	handler := inst.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok")) // implicit 200
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	labels := map[string]string{"method": "GET", "route": "/health", "status": "200"}
	assert.Equal(t, float64(1), counterValue(t, registry, "signalpost_http_requests_total", labels))
}

func TestHandlerKeepsFirstStatus(t *testing.T) {
	sender := newFakeSender()
	inst, registry := newTestInstrumentation(t, sender)

	handler := inst.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusInternalServerError) // ignored
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	labels := map[string]string{"status": "404"}
	assert.Equal(t, float64(1), counterValue(t, registry, "signalpost_http_requests_total", labels))
}

func TestHandlerPrefersRouterTemplate(t *testing.T) {
	sender := newFakeSender()
	inst, registry := newTestInstrumentation(t, sender)

	router := mux.NewRouter()
	router.Use(inst.Handler())
	router.HandleFunc("/users/{id}/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/42/orders/9", nil))

	labels := map[string]string{"route": "/users/{id}/orders/{orderID}"}
	assert.Equal(t, float64(1), counterValue(t, registry, "signalpost_http_requests_total", labels))
}

func TestHandlerObservesDuration(t *testing.T) {
	sender := newFakeSender()
	inst, registry := newTestInstrumentation(t, sender)

	handler := inst.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))

	families, err := registry.Gatherer().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "signalpost_http_request_duration_seconds" {
			continue
		}
		require.Len(t, family.GetMetric(), 1)
		h := family.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(1), h.GetSampleCount())
		assert.GreaterOrEqual(t, h.GetSampleSum(), 0.005)
		return
	}
	t.Fatal("duration histogram not gathered")
}

func TestSenderFailureDoesNotAffectResponse(t *testing.T) {
	sender := newFakeSender()
	sender.fail = true
	inst, _ := newTestInstrumentation(t, sender)

	handler := inst.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	awaitEvent(t, sender) // forwarding was still attempted
}

func TestNilSenderOnlyUpdatesRegistry(t *testing.T) {
	inst, registry := newTestInstrumentation(t, nil)

	handler := inst.Handler()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quiet", nil))

	labels := map[string]string{"route": "/quiet", "status": "200"}
	assert.Equal(t, float64(1), counterValue(t, registry, "signalpost_http_requests_total", labels))
}
