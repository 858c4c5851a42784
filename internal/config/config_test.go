package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BrainMode != "auto" {
		t.Fatalf("BrainMode = %q, want %q", cfg.BrainMode, "auto")
	}
	if cfg.DefaultUserID != "melissa_user" {
		t.Fatalf("DefaultUserID = %q, want %q", cfg.DefaultUserID, "melissa_user")
	}
	if cfg.ToolLoopLimit != 4 {
		t.Fatalf("ToolLoopLimit = %d, want 4", cfg.ToolLoopLimit)
	}
	if cfg.MemoryIndexPath == "" {
		t.Fatalf("MemoryIndexPath should have a default")
	}
}

func TestLoadRemoteVoiceRequiresCredentials(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VOICE_PROVIDER", "remote")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail fast when remote voice credentials are missing")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should still fail without FISH_AUDIO_API_KEY")
	}

	t.Setenv("FISH_AUDIO_API_KEY", "fa-test")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v, want success with both credentials", err)
	}
}

func TestLoadRejectsInvalidLoopLimit(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOOL_LOOP_LIMIT", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject a non-positive TOOL_LOOP_LIMIT")
	}
}

func TestLoadRequiresSomeMemoryBackend(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_INDEX_PATH", " ")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail when neither DATABASE_URL nor MEMORY_INDEX_PATH is set")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"MELISSA_USER_ID",
		"BRAIN_MODE",
		"BRAIN_HTTP_URL",
		"BRAIN_MODEL",
		"VOICE_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"WHISPER_MODEL",
		"WHISPER_LANGUAGE",
		"FISH_AUDIO_API_KEY",
		"FISH_AUDIO_WS_BASE_URL",
		"FISH_AUDIO_VOICE_ID",
		"FISH_AUDIO_MODEL",
		"DATABASE_URL",
		"MEMORY_INDEX_PATH",
		"MEMORY_TOP_K",
		"TOOL_LOOP_LIMIT",
		"SEARCH_MAX_RESULTS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
