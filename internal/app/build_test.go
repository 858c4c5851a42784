package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/antoniostano/melissa/internal/config"
)

func TestBuildWithLocalBackends(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         fmt.Sprintf("melissa_test_app_%d", time.Now().UnixNano()),
		DefaultUserID:            "melissa_user",
		BrainMode:                "scripted",
		VoiceProvider:            "mock",
		MemoryIndexPath:          filepath.Join(t.TempDir(), "memory.json"),
		MemoryTopK:               3,
		ToolLoopLimit:            4,
		SearchMaxResults:         5,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	built, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			t.Fatalf("Cleanup: %v", err)
		}
	}()

	if built.API == nil || built.Sessions == nil || built.Orchestrator == nil {
		t.Fatal("missing wired component")
	}
	if built.Voice.Provider != "mock" {
		t.Fatalf("voice provider = %q, want mock", built.Voice.Provider)
	}
}

func TestBuildRejectsRemoteVoiceWithoutCredentials(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace: fmt.Sprintf("melissa_test_app_bad_%d", time.Now().UnixNano()),
		BrainMode:        "scripted",
		VoiceProvider:    "remote",
		MemoryIndexPath:  filepath.Join(t.TempDir(), "memory.json"),
	}

	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for remote voice without credentials")
	}
}
