// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package hub

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/calld/internal/admission"
	"github.com/rapidaai/calld/internal/callstate"
	"github.com/rapidaai/calld/internal/config"
	"github.com/rapidaai/calld/internal/expert"
	"github.com/rapidaai/calld/internal/log"
	"github.com/rapidaai/calld/internal/orchestrator"
)

// Controller is the slice of *orchestrator.Orchestrator the REST surface
// drives, named here so rest.go can be unit-tested against a stub.
type Controller interface {
	Status() orchestrator.Status
	Hangup() error
	MuteAI()
	UnmuteAI()
	Instructions() string
	SetInstructions(string) error
	Order() callstate.OrderSnapshot
	ClearOrder()
}

// Server wires the Hub's WebSocket fan-out and the §6 REST endpoints
// onto a gin.Engine.
type Server struct {
	hub         *Hub
	controller  Controller
	admission   *admission.Filter
	configStore *config.Store
	expert      *expert.Client
	logger      log.Logger

	expertInstructionsMu sync.RWMutex
	expertInstructions   string
}

// NewServer builds a Server; call RegisterRoutes to attach it to an engine.
func NewServer(h *Hub, controller Controller, filter *admission.Filter, store *config.Store, expertClient *expert.Client, logger log.Logger) *Server {
	return &Server{hub: h, controller: controller, admission: filter, configStore: store, expert: expertClient, logger: logger}
}

// RegisterRoutes attaches every §6 REST endpoint plus /ws to engine.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/", s.getRoot)
	engine.GET("/status", s.getStatus)
	engine.POST("/call/accept", s.postCallAccept)
	engine.POST("/call/hangup", s.postCallHangup)
	engine.POST("/ai/mute", s.postAIMute)
	engine.POST("/ai/unmute", s.postAIUnmute)
	engine.GET("/model", s.getModel)
	engine.POST("/model", s.postModel)
	engine.GET("/instructions", s.getInstructions)
	engine.POST("/instructions", s.postInstructions)
	engine.GET("/order", s.getOrder)
	engine.DELETE("/order", s.deleteOrder)
	engine.GET("/expert/config", s.getExpertConfig)
	engine.POST("/expert/config", s.postExpertConfig)
	engine.GET("/expert/models", s.getExpertModels)
	engine.GET("/expert/stats", s.getExpertStats)
	engine.GET("/expert/instructions", s.getExpertInstructions)
	engine.POST("/expert/instructions", s.postExpertInstructions)
	engine.GET("/firewall", s.getFirewall)
	engine.POST("/firewall", s.postFirewall)
	engine.GET("/ws", s.getWS)
}

func (s *Server) getRoot(c *gin.Context) {
	st := s.controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"sip_registered": st.SIPRegistered,
		"call_active":    st.CallActive,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	st := s.controller.Status()
	c.JSON(http.StatusOK, gin.H{
		"sip": gin.H{
			"registered": st.SIPRegistered,
		},
		"ai": gin.H{
			"call_active": st.CallActive,
			"call_id":     st.CallID,
			"muted":       st.AIMuted,
		},
		"firewall": gin.H{
			"enabled": s.admission.Enabled(),
		},
	})
}

// postCallAccept always replies success without acting on any call —
// inbound calls auto-accept via §4.7's onIncoming once admission allows them;
// this endpoint exists for operator consoles that want to confirm the
// daemon is reachable and in a state that can accept calls.
func (s *Server) postCallAccept(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) postCallHangup(c *gin.Context) {
	if err := s.controller.Hangup(); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) postAIMute(c *gin.Context) {
	s.controller.MuteAI()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) postAIUnmute(c *gin.Context) {
	s.controller.UnmuteAI()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getModel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"model": s.configStore.Model()})
}

type modelRequest struct {
	Model string `json:"model" binding:"required"`
}

func (s *Server) postModel(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if err := s.configStore.SetModel(req.Model); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error(), "model": req.Model})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": req.Model})
}

func (s *Server) getInstructions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instructions": s.controller.Instructions()})
}

type instructionsRequest struct {
	Instructions string `json:"instructions" binding:"required"`
}

func (s *Server) postInstructions(c *gin.Context) {
	var req instructionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if err := s.controller.SetInstructions(req.Instructions); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getOrder(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Order())
}

func (s *Server) deleteOrder(c *gin.Context) {
	s.controller.ClearOrder()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getExpertConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.configStore.Get().ExpertConfig)
}

func (s *Server) postExpertConfig(c *gin.Context) {
	var ec config.ExpertConfig
	if err := c.ShouldBindJSON(&ec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if err := s.configStore.SetExpertConfig(ec); err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getExpertModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled_models": s.configStore.Get().ExpertConfig.EnabledModels})
}

func (s *Server) getExpertStats(c *gin.Context) {
	if s.expert == nil {
		c.JSON(http.StatusOK, expert.Stats{})
		return
	}
	c.JSON(http.StatusOK, s.expert.Stats())
}

// Expert instructions mirror the AI-instructions split: non-persisted,
// kept only in memory for the life of the process (§6).
func (s *Server) getExpertInstructions(c *gin.Context) {
	s.expertInstructionsMu.RLock()
	defer s.expertInstructionsMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{"instructions": s.expertInstructions})
}

func (s *Server) postExpertInstructions(c *gin.Context) {
	var req instructionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	s.expertInstructionsMu.Lock()
	s.expertInstructions = req.Instructions
	s.expertInstructionsMu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getFirewall(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": s.admission.Enabled()})
}

type firewallRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) postFirewall(c *gin.Context) {
	var req firewallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	s.admission.SetEnabled(req.Enabled)
	s.hub.BroadcastFirewallStatus(req.Enabled)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "enabled": req.Enabled})
}

func (s *Server) getWS(c *gin.Context) {
	s.hub.Serve(c.Writer, c.Request, s.controller.Status())
}
