// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// calld is the single-call voice AI gateway daemon (§1 Overview): it
// wires the SIP/RTP endpoint, the realtime AI stream, the product
// expert client and the REST/WebSocket control plane together and runs
// them until told to stop. Graceful shutdown follows the same
// signal-then-context-timeout shape as the rest of the retrieval pack's
// service entrypoints (e.g. flowpbx's cmd/flowpbx/main.go): stop
// accepting new calls, hang up the active one, drain C8 observers
// best-effort, then exit (§5).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/calld/internal/admission"
	"github.com/rapidaai/calld/internal/config"
	"github.com/rapidaai/calld/internal/expert"
	"github.com/rapidaai/calld/internal/hub"
	"github.com/rapidaai/calld/internal/knowledge"
	"github.com/rapidaai/calld/internal/log"
	"github.com/rapidaai/calld/internal/orchestrator"
	"github.com/rapidaai/calld/internal/sip"
	"github.com/rapidaai/calld/internal/tooldispatch"
)

// shutdownTimeout bounds the entire graceful-shutdown sequence (§5).
const shutdownTimeout = 15 * time.Second

// observerDrainTimeout bounds how long C8 waits for WebSocket observers
// to drain before the process exits (§5 "best-effort 2s").
const observerDrainTimeout = 2 * time.Second

func main() {
	os.Exit(run())
}

// run returns the process exit code per §6: 0 clean shutdown, 1 startup
// failure, 2 forced shutdown after the graceful window expired.
func run() int {
	appCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "calld: configuration error: %v\n", err)
		return 1
	}

	logger, err := log.New(log.Config{Level: appCfg.LogLevel, FilePath: appCfg.LogFilePath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "calld: logger init failed: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("calld starting",
		"sip_server", appCfg.SIPServer,
		"api_addr", fmt.Sprintf("%s:%d", appCfg.APIHost, appCfg.APIPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := admission.New(admission.Config{
		Enabled:            true,
		AllowedNetworksCSV: appCfg.AllowedNetworksCSV,
		PublicServerIP:     appCfg.PublicServerIP,
		ProviderHostname:   appCfg.ProviderHostname,
	})

	catalogs, err := tooldispatch.LoadCatalogStore(appCfg.CatalogDir)
	if err != nil {
		logger.Error("failed to load product catalogs", "error", err)
		return 1
	}
	domains, err := tooldispatch.LoadDomainRegistry(appCfg.DomainsFilePath)
	if err != nil {
		logger.Error("failed to load product domains", "error", err)
		return 1
	}
	knowledgeBase, err := knowledge.Load(appCfg.NormsIndexPath, appCfg.FachwissenIndexPath)
	if err != nil {
		logger.Error("failed to load knowledge base", "error", err)
		return 1
	}
	documentation, err := expert.LoadDocumentationIndex(appCfg.DocumentationDir, appCfg.DocumentationBaseURL)
	if err != nil {
		logger.Error("failed to load product documentation index", "error", err)
		return 1
	}

	configStore := config.NewStore(appCfg.ConfigFilePath, logger, config.Runtime{
		Model: appCfg.DefaultModel,
		ExpertConfig: config.ExpertConfig{
			MinConfidence: appCfg.ExpertMinConfidence,
		},
	})

	expertClient, err := expert.New(ctx, expert.Config{
		Models:                 buildExpertModels(configStore.Get().ExpertConfig),
		MinConfidence:          configStore.Get().ExpertConfig.MinConfidence,
		AnthropicAPIKey:        appCfg.AnthropicAPIKey,
		OpenAIAPIKey:           appCfg.OpenAIAPIKey,
		BedrockRegion:          appCfg.BedrockRegion,
		BedrockAccessKeyID:     appCfg.BedrockAccessKeyID,
		BedrockSecretAccessKey: appCfg.BedrockSecretAccessKey,
		Tools:                  expert.Tools{Catalogs: catalogs, Knowledge: knowledgeBase, Documentation: documentation},
	}, logger.With("component", "expert"))
	if err != nil {
		logger.Error("failed to build expert client", "error", err)
		return 1
	}

	sipServer, err := sip.New(sip.Config{
		Registrar:      appCfg.SIPServer,
		RegistrarPort:  appCfg.SIPPort,
		Username:       appCfg.SIPUser,
		Password:       appCfg.SIPPassword,
		Transport:      appCfg.SIPTransport,
		PublicIP:       appCfg.PublicServerIP,
		RTPPortStart:   appCfg.RTPPortRangeStart,
		RTPPortEnd:     appCfg.RTPPortRangeEnd,
	}, sip.Handlers{}, logger.With("component", "sip"))
	if err != nil {
		logger.Error("failed to build SIP server", "error", err)
		return 1
	}

	eventHub := hub.New(logger.With("component", "hub"))

	orch := orchestrator.New(orchestrator.Deps{
		SIP:         sipServer,
		Admission:   filter,
		Catalogs:    catalogs,
		Domains:     domains,
		Expert:      expertClient,
		ConfigStore: configStore,
		Broadcaster: eventHub,
		Realtime: orchestrator.RealtimeTemplate{
			URL:                  appCfg.RealtimeURL,
			Model:                configStore.Model(),
			APIKey:               appCfg.OpenAIAPIKey,
			Voice:                appCfg.RealtimeVoice,
			VADThreshold:         appCfg.RealtimeVADThreshold,
			VADPrefixPaddingMs:   appCfg.RealtimeVADPrefixPaddingMs,
			VADSilenceDurationMs: appCfg.RealtimeVADSilenceDurationMs,
		},
		Logger: logger.With("component", "orchestrator"),
	})

	restServer := hub.NewServer(eventHub, orch, filter, configStore, expertClient, logger.With("component", "rest"))

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())
	restServer.RegisterRoutes(engine)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appCfg.APIHost, appCfg.APIPort),
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := sipServer.Start(ctx); err != nil {
		logger.Error("failed to start sip server", "error", err)
		return 1
	}

	// The HTTP control plane runs under an errgroup so an early listener
	// failure cancels serveCtx the same way a signal would, the same
	// run-and-join-by-cancellation shape as the teacher's
	// websocket_executor.Initialize().
	group, serveCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http control plane listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-serveCtx.Done()
	if ctx.Err() != nil {
		logger.Info("shutdown signal received")
	} else {
		logger.Error("http control plane exited early")
	}

	code := shutdown(sipServer, orch, eventHub, httpSrv, logger)
	if err := group.Wait(); err != nil {
		logger.Error("http control plane error", "error", err)
	}
	return code
}

// shutdown runs the §5 graceful-shutdown sequence: stop accepting new
// calls, hang up any active call, drain C8 observers best-effort, stop
// C2, then stop the HTTP control plane. Returns 2 if the overall
// deadline is exceeded.
func shutdown(sipServer *sip.Server, orch *orchestrator.Orchestrator, eventHub *hub.Hub, httpSrv *http.Server, logger log.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if orch.Status().CallActive {
		logger.Info("hanging up active call for shutdown")
		if err := orch.Hangup(); err != nil {
			logger.Warn("hangup during shutdown failed", "error", err)
		}
	}

	eventHub.Shutdown(observerDrainTimeout)

	if err := sipServer.Stop(ctx); err != nil {
		logger.Warn("sip server stop failed", "error", err)
	}

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
		return 2
	}

	logger.Info("calld stopped")
	return 0
}

// buildExpertModels maps the §4.6 abstract model classes to concrete
// (provider, model) pairs. There is no per-deployment override for this
// mapping in §6 — only enabled_models/default_model/min_confidence are
// configurable — so the pairing itself is a fixed deployment default,
// reasonable given whichever provider keys are actually configured.
func buildExpertModels(ec config.ExpertConfig) map[string]expert.ModelSpec {
	models := map[string]expert.ModelSpec{
		"small-model":           {Provider: "openai", Model: "gpt-4o-mini"},
		"small-reasoning-model": {Provider: "anthropic", Model: "claude-haiku-4-5"},
		"balanced-model":        {Provider: "openai", Model: "gpt-4o"},
		"large-standard":        {Provider: "bedrock", Model: "anthropic.claude-sonnet-4-5-v1:0"},
		"large-reasoning-model": {Provider: "anthropic", Model: "claude-sonnet-4-5"},
		"pro-reasoning-model":   {Provider: "anthropic", Model: "claude-opus-4-1"},
	}
	if ec.DefaultModel != "" {
		models["balanced-model"] = expert.ModelSpec{Provider: "openai", Model: ec.DefaultModel}
	}
	return models
}
