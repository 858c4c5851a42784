package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/melissa/internal/audio"
	"github.com/antoniostano/melissa/internal/reliability"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// WhisperSTT transcribes committed utterances through an OpenAI-compatible
// /audio/transcriptions endpoint. Chunks are buffered per session and only
// uploaded once the client commits, so partial events are not produced.
type WhisperSTT struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	client   *http.Client
}

type WhisperConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

func NewWhisperSTT(cfg WhisperConfig) *WhisperSTT {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperSTT{
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		model:    model,
		language: cfg.Language,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *WhisperSTT) StartSession(_ context.Context, sessionID string) (STTSession, <-chan STTEvent, error) {
	events := make(chan STTEvent, 64)
	s := &whisperSession{
		provider:  p,
		sessionID: sessionID,
		events:    events,
	}
	return s, events, nil
}

type whisperSession struct {
	provider  *WhisperSTT
	sessionID string

	mu         sync.Mutex
	pcm        []byte
	sampleRate int
	closed     bool
	inflight   sync.WaitGroup

	events chan STTEvent
}

func (s *whisperSession) SendAudioChunk(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if audioBase64 != "" {
		chunk, err := base64.StdEncoding.DecodeString(audioBase64)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("decode audio chunk: %w", err)
		}
		s.pcm = append(s.pcm, chunk...)
	}
	if sampleRate > 0 {
		s.sampleRate = sampleRate
	}
	if !commit || len(s.pcm) == 0 {
		s.mu.Unlock()
		return nil
	}
	pcm := s.pcm
	rate := s.sampleRate
	s.pcm = nil
	s.inflight.Add(1)
	s.mu.Unlock()

	// Transcription is an HTTP round trip; keep it off the connection loop.
	go func() {
		defer s.inflight.Done()
		s.transcribe(ctx, pcm, rate)
	}()
	return nil
}

func (s *whisperSession) transcribe(ctx context.Context, pcm []byte, sampleRate int) {
	text, err := s.provider.transcribeWAV(ctx, audio.WrapPCM16LE(pcm, sampleRate))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err != nil {
		log.Printf("whisper: session=%s transcription failed: %v", s.sessionID, err)
		s.events <- STTEvent{
			Type:      STTEventError,
			Code:      "stt_failed",
			Detail:    err.Error(),
			Retryable: true,
			Timestamp: time.Now().UnixMilli(),
		}
		return
	}
	s.events <- STTEvent{
		Type:      STTEventCommitted,
		Text:      strings.TrimSpace(text),
		Timestamp: time.Now().UnixMilli(),
	}
}

func (s *whisperSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
	close(s.events)
	return nil
}

func (p *WhisperSTT) transcribeWAV(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := form.WriteField("model", p.model); err != nil {
		return "", err
	}
	if p.language != "" {
		if err := form.WriteField("language", p.language); err != nil {
			return "", err
		}
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", fmt.Errorf("transcription status %d (retryable): %s", resp.StatusCode, snippet)
		}
		return "", fmt.Errorf("transcription status %d: %s", resp.StatusCode, snippet)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return parsed.Text, nil
}
