package app

import (
	"context"
	"fmt"

	"github.com/antoniostano/melissa/internal/books"
	"github.com/antoniostano/melissa/internal/brain"
	"github.com/antoniostano/melissa/internal/config"
	"github.com/antoniostano/melissa/internal/httpapi"
	"github.com/antoniostano/melissa/internal/memory"
	"github.com/antoniostano/melissa/internal/observability"
	"github.com/antoniostano/melissa/internal/search"
	"github.com/antoniostano/melissa/internal/session"
	"github.com/antoniostano/melissa/internal/tools"
	"github.com/antoniostano/melissa/internal/voice"
)

type VoiceInfo struct {
	Provider       string
	Detail         string
	DefaultVoiceID string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *voice.Orchestrator
	Metrics      *observability.Metrics
	Voice        VoiceInfo

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.MemoryIndexPath, memory.NewHashEmbedder(memory.DefaultEmbeddingDim))
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.BrainModel,
	})
	if err != nil {
		_ = memoryStore.Close()
		return nil, fmt.Errorf("brain adapter init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		_ = memoryStore.Close()
		return nil, err
	}
	cfg.VoiceProvider = voiceSetup.resolvedProvider

	catalog := books.DefaultCatalog()
	searcher := search.NewClient(cfg.SearchMaxResults)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	orchestrator := voice.NewOrchestrator(voice.OrchestratorConfig{
		Sessions:    sessions,
		Adapter:     adapter,
		MemoryStore: memoryStore,
		NewTools: func(userID string) *tools.Registry {
			return tools.Builtin(tools.Deps{
				UserID: userID,
				Memory: memoryStore,
				Books:  catalog,
				Search: searcher,
				TopK:   cfg.MemoryTopK,
			})
		},
		STTProvider:   voiceSetup.sttProvider,
		TTSProvider:   voiceSetup.ttsProvider,
		Metrics:       metrics,
		DefaultVoice:  voiceSetup.defaultVoiceID,
		ToolLoopLimit: cfg.ToolLoopLimit,
		MemoryTopK:    cfg.MemoryTopK,
	})

	api := httpapi.New(cfg, sessions, orchestrator, memoryStore, metrics)

	cleanup := func() error {
		return memoryStore.Close()
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Voice: VoiceInfo{
			Provider:       cfg.VoiceProvider,
			Detail:         voiceSetup.detail,
			DefaultVoiceID: voiceSetup.defaultVoiceID,
		},
		Cleanup: cleanup,
	}, nil
}
