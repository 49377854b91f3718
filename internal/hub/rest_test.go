// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package hub

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/calld/internal/admission"
	"github.com/rapidaai/calld/internal/callstate"
	"github.com/rapidaai/calld/internal/config"
	"github.com/rapidaai/calld/internal/log"
	"github.com/rapidaai/calld/internal/orchestrator"
)

type stubController struct {
	status       orchestrator.Status
	hangupErr    error
	hangupCalled bool
	muted        bool
	instructions string
	order        callstate.OrderSnapshot
	orderCleared bool
}

func (s *stubController) Status() orchestrator.Status { return s.status }
func (s *stubController) Hangup() error {
	s.hangupCalled = true
	return s.hangupErr
}
func (s *stubController) MuteAI()   { s.muted = true }
func (s *stubController) UnmuteAI() { s.muted = false }
func (s *stubController) Instructions() string { return s.instructions }
func (s *stubController) SetInstructions(v string) error {
	s.instructions = v
	return nil
}
func (s *stubController) Order() callstate.OrderSnapshot { return s.order }
func (s *stubController) ClearOrder()                    { s.orderCleared = true }

func newTestServer(t *testing.T, controller Controller) (*gin.Engine, *stubController) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()

	filter := admission.New(admission.Config{Enabled: true})
	store := config.NewStore(t.TempDir()+"/config.json", log.Nop(), config.Runtime{Model: "gpt-realtime"})
	h := New(log.Nop())
	srv := NewServer(h, controller, filter, store, nil, log.Nop())
	srv.RegisterRoutes(engine)

	sc, _ := controller.(*stubController)
	return engine, sc
}

func TestGetRootReportsStatus(t *testing.T) {
	controller := &stubController{status: orchestrator.Status{SIPRegistered: true, CallActive: true}}
	engine, _ := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"call_active":true`)
}

func TestPostCallHangupInvokesController(t *testing.T) {
	controller := &stubController{}
	engine, sc := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodPost, "/call/hangup", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sc.hangupCalled)
}

func TestPostAIMuteAndUnmute(t *testing.T) {
	controller := &stubController{}
	engine, sc := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodPost, "/ai/mute", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.True(t, sc.muted)

	req = httptest.NewRequest(http.MethodPost, "/ai/unmute", nil)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.False(t, sc.muted)
}

func TestPostModelPersists(t *testing.T) {
	controller := &stubController{}
	engine, _ := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodPost, "/model", bytes.NewBufferString(`{"model":"gpt-realtime-mini"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	req = httptest.NewRequest(http.MethodGet, "/model", nil)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), "gpt-realtime-mini")
}

func TestPostInstructionsUpdatesControllerInstructions(t *testing.T) {
	controller := &stubController{}
	engine, sc := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodPost, "/instructions", bytes.NewBufferString(`{"instructions":"be concise"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "be concise", sc.instructions)
}

func TestDeleteOrderClearsOrder(t *testing.T) {
	controller := &stubController{}
	engine, sc := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodDelete, "/order", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sc.orderCleared)
}

func TestPostFirewallTogglesAdmission(t *testing.T) {
	controller := &stubController{}
	engine, _ := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodPost, "/firewall", bytes.NewBufferString(`{"enabled":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)
}

func TestGetExpertStatsWithoutClientConfigured(t *testing.T) {
	controller := &stubController{}
	engine, _ := newTestServer(t, controller)

	req := httptest.NewRequest(http.MethodGet, "/expert/stats", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
