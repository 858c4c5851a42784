package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/melissa/internal/reliability"
)

// FishAudioTTS streams synthesized speech over the Fish Audio live
// websocket. A stream is opened per assistant turn and torn down when
// the final event arrives or the turn is interrupted.
type FishAudioTTS struct {
	cfg FishAudioConfig
}

type FishAudioConfig struct {
	APIKey    string
	WSBaseURL string
	Model     string
	Format    string
}

func NewFishAudioTTS(cfg FishAudioConfig) *FishAudioTTS {
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = "wss://api.fish.audio"
	}
	if cfg.Model == "" {
		cfg.Model = "speech-1.6"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	return &FishAudioTTS{cfg: cfg}
}

func (p *FishAudioTTS) StartStream(ctx context.Context, voiceID string) (TTSStream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, fmt.Errorf("voice_id is required")
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	headers.Set("model", p.cfg.Model)

	u := strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/tts/live"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &fishTTSStream{conn: conn, format: p.cfg.Format, events: make(chan TTSEvent, 512)}
	go s.readLoop()
	if err := s.writeJSON(map[string]any{
		"event": "start",
		"request": map[string]any{
			"reference_id": voiceID,
			"format":       p.cfg.Format,
			"latency":      "balanced",
		},
	}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("start tts stream: %w", err)
	}
	return s, nil
}

type fishTTSStream struct {
	conn      *websocket.Conn
	format    string
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan TTSEvent
}

func (s *fishTTSStream) SendText(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.writeJSON(map[string]any{"event": "text", "text": text + " "})
}

func (s *fishTTSStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"event": "stop"})
}

func (s *fishTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *fishTTSStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
		close(s.events)
	})
	return retErr
}

func (s *fishTTSStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *fishTTSStream) readLoop() {
	defer s.safeClose()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		switch asString(raw["event"]) {
		case "audio":
			if audio := asString(raw["audio"]); audio != "" {
				s.events <- TTSEvent{Type: TTSEventAudio, AudioBase64: audio, Format: s.format}
			}
		case "finish":
			s.events <- TTSEvent{Type: TTSEventFinal}
			return
		case "log", "error":
			code := asString(raw["event"])
			s.events <- TTSEvent{Type: TTSEventError, Code: code, Detail: asString(raw["message"]), Retryable: reliability.IsRetryableRealtimeMessageType(code)}
		}
	}
}

func (s *fishTTSStream) safeClose() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		close(s.events)
	})
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
