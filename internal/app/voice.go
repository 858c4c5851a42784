package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/melissa/internal/config"
	"github.com/antoniostano/melissa/internal/voice"
)

type voiceSetup struct {
	sttProvider      voice.STTProvider
	ttsProvider      voice.TTSProvider
	resolvedProvider string
	defaultVoiceID   string
	detail           string
}

func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	tryRemote := func() (voiceSetup, bool) {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" || strings.TrimSpace(cfg.FishAudioAPIKey) == "" {
			return voiceSetup{}, false
		}
		stt := voice.NewWhisperSTT(voice.WhisperConfig{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  strings.TrimRight(cfg.OpenAIBaseURL, "/") + "/v1",
			Model:    cfg.WhisperModel,
			Language: cfg.WhisperLanguage,
		})
		tts := voice.NewFishAudioTTS(voice.FishAudioConfig{
			APIKey:    cfg.FishAudioAPIKey,
			WSBaseURL: cfg.FishAudioWSBaseURL,
			Model:     cfg.FishAudioModel,
		})
		return voiceSetup{
			sttProvider:      stt,
			ttsProvider:      tts,
			resolvedProvider: "remote",
			defaultVoiceID:   cfg.FishAudioVoiceID,
			detail:           "whisper stt + fish audio tts",
		}, true
	}

	mockSetup := func() voiceSetup {
		p := voice.NewMockProvider()
		return voiceSetup{
			sttProvider:      p,
			ttsProvider:      p,
			resolvedProvider: "mock",
			defaultVoiceID:   "mock-voice",
			detail:           "mock speech providers",
		}
	}

	switch voiceMode {
	case "remote":
		if setup, ok := tryRemote(); ok {
			return setup, nil
		}
		return voiceSetup{}, fmt.Errorf("voice provider %q requires OPENAI_API_KEY and FISH_AUDIO_API_KEY", voiceMode)
	case "mock":
		return mockSetup(), nil
	case "auto":
		if setup, ok := tryRemote(); ok {
			return setup, nil
		}
		return mockSetup(), nil
	default:
		return voiceSetup{}, fmt.Errorf("unsupported voice provider %q", cfg.VoiceProvider)
	}
}
