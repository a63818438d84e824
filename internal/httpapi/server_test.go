package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudwatch/internal/config"
	"fraudwatch/internal/logger"
	"fraudwatch/internal/pipeline"
	"fraudwatch/pkg/health"
	"fraudwatch/pkg/models"
)

type stubSubmitter struct {
	got models.InboundEvent
	out models.Outcome
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, ev models.InboundEvent) (models.Outcome, error) {
	s.got = ev
	return s.out, s.err
}

func newServer(sub pipeline.Submitter, registry *health.CheckerRegistry, rateLimit config.HTTPLimitConfig) *Server {
	return New(Options{
		Server:        config.ServerConfig{Port: 8080, RateLimit: rateLimit},
		MaxImageBytes: 1024,
		Submitter:     sub,
		Health:        registry,
		Logger:        logger.NopLogger(),
	})
}

func post(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestSubmitEvent(t *testing.T) {
	sub := &stubSubmitter{out: models.Outcome{
		Status:      models.StatusProcessed,
		Fingerprint: "abc",
		Verdict:     &models.FraudVerdict{MatchedRules: []string{"urgent-payment-keyword"}, Score: 5},
	}}
	s := newServer(sub, nil, config.HTTPLimitConfig{})

	w := post(s, `{"id":"e1","chat_id":"100","user_id":"7","kind":"text","text":"pay urgently"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var out models.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, models.StatusProcessed, out.Status)
	assert.Equal(t, []string{"urgent-payment-keyword"}, out.Verdict.MatchedRules)

	assert.Equal(t, "http", sub.got.Source)
	assert.Equal(t, "pay urgently", sub.got.Text)
	assert.False(t, sub.got.Timestamp.IsZero())
}

func TestSubmitEvent_Invalid(t *testing.T) {
	s := newServer(&stubSubmitter{}, nil, config.HTTPLimitConfig{})

	w := post(s, `{"chat_id":"","kind":"text"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")

	w = post(s, strings.Repeat("x", 1024*2+70*1024))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestSubmitEvent_OutcomeStatus(t *testing.T) {
	sub := &stubSubmitter{out: models.Rejected(models.ReasonUnauthorized)}
	s := newServer(sub, nil, config.HTTPLimitConfig{})

	w := post(s, `{"chat_id":"100","kind":"text","text":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"unauthorized"`)
}

func TestSubmitEvent_PoolClosed(t *testing.T) {
	sub := &stubSubmitter{out: models.Failed(models.ReasonCanceled), err: pipeline.ErrPoolClosed}
	s := newServer(sub, nil, config.HTTPLimitConfig{})

	w := post(s, `{"chat_id":"100","kind":"text","text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestSubmitEvent_RateLimited(t *testing.T) {
	sub := &stubSubmitter{out: models.Outcome{Status: models.StatusProcessed}}
	s := newServer(sub, nil, config.HTTPLimitConfig{Enabled: true, RPS: 0.001, Burst: 1})

	assert.Equal(t, http.StatusOK, post(s, `{"chat_id":"100","kind":"text","text":"a"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(s, `{"chat_id":"100","kind":"text","text":"b"}`).Code)
}

func TestHealth(t *testing.T) {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewFuncChecker("store", func(context.Context) error { return errors.New("down") }))
	s := newServer(&stubSubmitter{}, registry, config.HTTPLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(&stubSubmitter{}, nil, config.HTTPLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(models.Outcome{Status: models.StatusDuplicate}))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(models.Rejected(models.ReasonRateLimited)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusFor(models.Rejected(models.ReasonOversized)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(models.Rejected(models.ReasonEmptyContent)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(models.Failed(models.ReasonStorageError)))
}
