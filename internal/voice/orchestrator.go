package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/melissa/internal/brain"
	"github.com/antoniostano/melissa/internal/memory"
	"github.com/antoniostano/melissa/internal/observability"
	"github.com/antoniostano/melissa/internal/policy"
	"github.com/antoniostano/melissa/internal/protocol"
	"github.com/antoniostano/melissa/internal/session"
	"github.com/antoniostano/melissa/internal/tools"
)

const (
	memoryContextTimeout = 350 * time.Millisecond
	memorySaveTimeout    = 2 * time.Second
	ttsFinalizeTimeout   = 10 * time.Second
	criticalSendTimeout  = 600 * time.Millisecond
	defaultToolLoopLimit = 4
	historyMaxMessages   = 40

	// minRecallRelevance is the cosine floor below which a recalled fact
	// is treated as unrelated to the utterance and kept out of the prompt.
	minRecallRelevance = 0.35
)

const systemPrompt = `You are Melissa, a warm and attentive voice companion. ` +
	`Keep replies short and conversational, the way spoken language sounds. ` +
	`Use your tools when they help: save_memory when the user shares something worth ` +
	`keeping, recall_memory when the past is relevant, web_search for facts you do ` +
	`not know, and the book tools when the conversation turns to reading. ` +
	`When the user clearly wants to end the conversation, call end_conversation.`

const (
	greetingText     = "Hey, it's Melissa. What's on your mind?"
	farewellText     = "Goodbye! It was lovely talking with you."
	brainApology     = "I'm sorry, I'm having trouble thinking right now. Could you say that again in a moment?"
	toolLoopApology  = "I'm sorry, I got a bit tangled up trying to answer that. Could you try asking another way?"
	emptyReplyFiller = "I'm not sure what to say to that."
)

// Orchestrator drives one websocket connection through the session
// lifecycle: greet, transcribe, think, optionally call tools, speak,
// and close on a farewell.
type Orchestrator struct {
	sessions      *session.Manager
	adapter       brain.Adapter
	memoryStore   memory.Store
	newTools      func(userID string) *tools.Registry
	sttProvider   STTProvider
	ttsProvider   TTSProvider
	metrics       *observability.Metrics
	defaultVoice  string
	toolLoopLimit int
	memoryTopK    int
}

type OrchestratorConfig struct {
	Sessions      *session.Manager
	Adapter       brain.Adapter
	MemoryStore   memory.Store
	NewTools      func(userID string) *tools.Registry
	STTProvider   STTProvider
	TTSProvider   TTSProvider
	Metrics       *observability.Metrics
	DefaultVoice  string
	ToolLoopLimit int
	MemoryTopK    int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	limit := cfg.ToolLoopLimit
	if limit <= 0 {
		limit = defaultToolLoopLimit
	}
	topK := cfg.MemoryTopK
	if topK <= 0 {
		topK = 3
	}
	return &Orchestrator{
		sessions:      cfg.Sessions,
		adapter:       cfg.Adapter,
		memoryStore:   cfg.MemoryStore,
		newTools:      cfg.NewTools,
		sttProvider:   cfg.STTProvider,
		ttsProvider:   cfg.TTSProvider,
		metrics:       cfg.Metrics,
		defaultVoice:  cfg.DefaultVoice,
		toolLoopLimit: limit,
		memoryTopK:    topK,
	}
}

// conversation is the per-connection message history shared between the
// connection loop and in-flight turn goroutines.
type conversation struct {
	mu   sync.Mutex
	msgs []brain.Message
}

func (c *conversation) append(msgs ...brain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msgs...)
	if len(c.msgs) > historyMaxMessages {
		c.msgs = c.msgs[len(c.msgs)-historyMaxMessages:]
	}
}

func (c *conversation) snapshot() []brain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]brain.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// RunConnection owns a session's websocket until the client leaves, the
// session is closed, or ctx is canceled. inbound carries parsed client
// messages; everything written to outbound is serialized by the transport.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	o.metrics.ActiveSessions.Inc()
	defer o.metrics.ActiveSessions.Dec()

	registry := o.newTools(s.UserID)

	sttSession, sttEvents, err := o.sttProvider.StartSession(connCtx, s.ID)
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("stt", "connect_failed").Inc()
		o.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      "stt_connect_failed",
			Source:    "stt",
			Retryable: true,
			Detail:    err.Error(),
		})
		return fmt.Errorf("start stt session: %w", err)
	}
	defer sttSession.Close()

	if _, err := o.sessions.Transition(s.ID, session.StatusActive); err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	o.metrics.SessionEvents.WithLabelValues("session_active").Inc()
	o.send(outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "session_active"})

	convo := &conversation{}

	var (
		turnMu     sync.Mutex
		turnCancel context.CancelFunc
		turnWG     sync.WaitGroup
		closeOnce  sync.Once
	)

	cancelActiveTurn := func() {
		turnMu.Lock()
		cancel := turnCancel
		turnCancel = nil
		turnMu.Unlock()
		if cancel != nil {
			cancel()
		}
	}

	// endSession runs the closing handshake exactly once: closing status,
	// one farewell, terminated status, then connection teardown.
	endSession := func(farewell bool) {
		closeOnce.Do(func() {
			if _, err := o.sessions.Transition(s.ID, session.StatusClosing); err != nil {
				log.Printf("orchestrator: session=%s closing transition: %v", s.ID, err)
			}
			o.metrics.SessionEvents.WithLabelValues("session_closing").Inc()
			if farewell {
				farewellCtx, cancel := context.WithTimeout(context.Background(), ttsFinalizeTimeout)
				o.speakAndRecord(farewellCtx, s, convo, farewellText, uuid.NewString(), "session_end", outbound)
				cancel()
			}
			if _, err := o.sessions.End(s.ID); err != nil {
				log.Printf("orchestrator: session=%s terminate: %v", s.ID, err)
			}
			o.metrics.SessionEvents.WithLabelValues("session_terminated").Inc()
			o.send(outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "session_terminated"})
			connCancel()
		})
	}

	startTurn := func(userText string) {
		turnMu.Lock()
		if turnCancel != nil {
			// A new committed utterance supersedes whatever the assistant
			// was still saying or computing.
			turnCancel()
		}
		turnCtx, cancel := context.WithCancel(connCtx)
		turnCancel = cancel
		turnMu.Unlock()

		turnID := uuid.NewString()
		if err := o.sessions.StartTurn(s.ID, turnID); err != nil {
			cancel()
			return
		}
		turnWG.Add(1)
		go func() {
			defer turnWG.Done()
			defer cancel()
			if o.runAssistantTurn(turnCtx, s, convo, registry, userText, turnID, outbound) {
				endSession(true)
			}
		}()
	}

	handleUtterance := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		cur, err := o.sessions.Get(s.ID)
		if err != nil || cur.Status != session.StatusActive {
			return
		}
		if isClosingPhrase(text) {
			convo.append(brain.Message{Role: brain.RoleUser, Content: text})
			cancelActiveTurn()
			endSession(true)
			return
		}
		startTurn(text)
	}

	o.speakAndRecord(connCtx, s, convo, greetingText, uuid.NewString(), "greeting", outbound)

	for {
		select {
		case <-connCtx.Done():
			cancelActiveTurn()
			turnWG.Wait()
			return nil

		case msg, ok := <-inbound:
			if !ok {
				// Client went away without a leave control.
				cancelActiveTurn()
				if _, err := o.sessions.End(s.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
					log.Printf("orchestrator: session=%s end on disconnect: %v", s.ID, err)
				}
				turnWG.Wait()
				return nil
			}
			_ = o.sessions.Touch(s.ID)

			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				o.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientAudioChunk)).Inc()
				if err := sttSession.SendAudioChunk(connCtx, m.PCM16Base64, m.SampleRate, false); err != nil {
					o.metrics.ProviderErrors.WithLabelValues("stt", "send_failed").Inc()
					log.Printf("orchestrator: session=%s stt send: %v", s.ID, err)
				}
			case protocol.ClientTranscript:
				o.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientTranscript)).Inc()
				handleUtterance(m.Text)
			case protocol.ClientControl:
				o.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeClientControl)).Inc()
				switch m.Action {
				case protocol.ControlInterrupt:
					cancelActiveTurn()
					_ = o.sessions.Interrupt(s.ID)
					o.metrics.SessionEvents.WithLabelValues("interrupted").Inc()
					o.send(outbound, protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: s.ID, Code: "interrupted"})
				case protocol.ControlCommit:
					if err := sttSession.SendAudioChunk(connCtx, "", 0, true); err != nil {
						o.metrics.ProviderErrors.WithLabelValues("stt", "commit_failed").Inc()
					}
				case protocol.ControlLeave:
					cancelActiveTurn()
					endSession(false)
				}
			}

		case evt, ok := <-sttEvents:
			if !ok {
				sttEvents = nil
				continue
			}
			switch evt.Type {
			case STTEventPartial:
				o.send(outbound, protocol.STTPartial{
					Type:       protocol.TypeSTTPartial,
					SessionID:  s.ID,
					Text:       evt.Text,
					Confidence: evt.Confidence,
					TSMs:       evt.Timestamp,
				})
			case STTEventCommitted:
				o.send(outbound, protocol.STTCommitted{
					Type:      protocol.TypeSTTCommitted,
					SessionID: s.ID,
					Text:      evt.Text,
					TSMs:      evt.Timestamp,
				})
				handleUtterance(evt.Text)
			case STTEventError:
				o.metrics.ProviderErrors.WithLabelValues("stt", evt.Code).Inc()
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      evt.Code,
					Source:    "stt",
					Retryable: evt.Retryable,
					Detail:    evt.Detail,
				})
			}
		}
	}
}

// runAssistantTurn takes one committed utterance through the model and its
// tool loop and speaks the result. It reports whether the model asked to
// end the conversation.
func (o *Orchestrator) runAssistantTurn(
	turnCtx context.Context,
	s *session.Session,
	convo *conversation,
	registry *tools.Registry,
	userText, turnID string,
	outbound chan<- any,
) bool {
	start := time.Now()
	convo.append(brain.Message{Role: brain.RoleUser, Content: userText})

	messages := make([]brain.Message, 0, historyMaxMessages+2)
	messages = append(messages, brain.Message{Role: brain.RoleSystem, Content: o.systemContent(turnCtx, s.UserID, userText)})
	messages = append(messages, convo.snapshot()...)

	var finalText string
	loops := 0
	for {
		if loops >= o.toolLoopLimit {
			o.metrics.SessionEvents.WithLabelValues("tool_loop_exceeded").Inc()
			log.Printf("orchestrator: session=%s turn=%s tool loop limit %d reached", s.ID, turnID, o.toolLoopLimit)
			finalText = toolLoopApology
			break
		}

		resp, err := o.adapter.Complete(turnCtx, brain.Request{
			SessionID: s.ID,
			Messages:  messages,
			Tools:     registry.Defs(),
		})
		if err != nil {
			if turnCtx.Err() != nil {
				return false
			}
			code := "unavailable"
			if errors.Is(err, brain.ErrRateLimited) {
				code = "rate_limited"
			}
			o.metrics.ProviderErrors.WithLabelValues("brain", code).Inc()
			log.Printf("orchestrator: session=%s turn=%s brain: %v", s.ID, turnID, err)
			finalText = brainApology
			break
		}
		if !resp.IsToolCall() {
			finalText = resp.Text
			break
		}

		loops++
		messages = append(messages, brain.Message{Role: brain.RoleAssistant, ToolCalls: resp.ToolCalls})
		results := o.invokeToolCalls(turnCtx, registry, resp.ToolCalls, s, turnID, outbound)
		endRequested := false
		for i, call := range resp.ToolCalls {
			if call.Name == tools.EndConversationTool {
				endRequested = true
			}
			messages = append(messages, brain.Message{Role: brain.RoleTool, Content: results[i], ToolCallID: call.ID})
		}
		if endRequested {
			o.metrics.ToolLoopDepth.Observe(float64(loops))
			return true
		}
	}

	o.metrics.ToolLoopDepth.Observe(float64(loops))
	if turnCtx.Err() != nil {
		return false
	}
	if strings.TrimSpace(finalText) == "" {
		finalText = emptyReplyFiller
	}

	o.speakAndRecord(turnCtx, s, convo, finalText, turnID, "complete", outbound)
	o.metrics.ObserveTurnLatency(time.Since(start))
	o.rememberBestEffort(s.UserID, userText)
	return false
}

// systemContent builds the system prompt, folding in relevant memories when
// the store answers in time. A slow or failing store never
// delays the turn beyond memoryContextTimeout.
func (o *Orchestrator) systemContent(ctx context.Context, userID, userText string) string {
	if o.memoryStore == nil {
		return systemPrompt
	}
	recallCtx, cancel := context.WithTimeout(ctx, memoryContextTimeout)
	defer cancel()
	matches, err := o.memoryStore.Recall(recallCtx, userID, userText, o.memoryTopK)
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("memory", "recall_failed").Inc()
		return systemPrompt
	}
	relevant := matches[:0]
	for _, m := range matches {
		if m.Score >= minRecallRelevance {
			relevant = append(relevant, m)
		}
	}
	if len(relevant) == 0 {
		return systemPrompt
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nThings you remember about this user:\n")
	for _, m := range relevant {
		b.WriteString("- ")
		b.WriteString(m.Fact)
		b.WriteString("\n")
	}
	return b.String()
}

// invokeToolCalls executes a batch of tool calls concurrently and returns
// results in the model's request order.
func (o *Orchestrator) invokeToolCalls(
	ctx context.Context,
	registry *tools.Registry,
	calls []brain.ToolCall,
	s *session.Session,
	turnID string,
	outbound chan<- any,
) []string {
	results := make([]string, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call brain.ToolCall) {
			defer wg.Done()
			res, err := registry.Invoke(ctx, call)
			outcome := "ok"
			if err != nil {
				outcome = "unknown_tool"
				res = "I tried to use a capability I don't actually have. Let's move on."
			}
			o.metrics.ToolInvocations.WithLabelValues(call.Name, outcome).Inc()
			results[i] = res
		}(i, call)
	}
	wg.Wait()

	for i, call := range calls {
		o.send(outbound, protocol.ToolActivity{
			Type:      protocol.TypeToolActivity,
			SessionID: s.ID,
			TurnID:    turnID,
			Tool:      call.Name,
			Result:    truncateForActivity(results[i]),
		})
	}
	return results
}

// speakAndRecord appends the assistant text to the history, pushes the text
// frame, streams TTS audio, and closes the turn. The text frame always goes
// out, so a broken TTS stream degrades to text rather than silence.
func (o *Orchestrator) speakAndRecord(ctx context.Context, s *session.Session, convo *conversation, text, turnID, reason string, outbound chan<- any) {
	convo.append(brain.Message{Role: brain.RoleAssistant, Content: text})
	o.send(outbound, protocol.AssistantText{Type: protocol.TypeAssistantText, SessionID: s.ID, TurnID: turnID, Text: text})
	o.streamTTS(ctx, s, text, turnID, outbound)
	if ctx.Err() != nil {
		return
	}
	o.send(outbound, protocol.AssistantTurnEnd{Type: protocol.TypeAssistantTurnEnd, SessionID: s.ID, TurnID: turnID, Reason: reason})
}

func (o *Orchestrator) streamTTS(ctx context.Context, s *session.Session, text, turnID string, outbound chan<- any) {
	voiceID := s.VoiceID
	if voiceID == "" {
		voiceID = o.defaultVoice
	}

	stream, err := o.ttsProvider.StartStream(ctx, voiceID)
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("tts", "connect_failed").Inc()
		o.send(outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      "tts_connect_failed",
			Source:    "tts",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	defer stream.Close()

	if err := stream.SendText(ctx, text); err != nil {
		o.metrics.ProviderErrors.WithLabelValues("tts", "send_failed").Inc()
		return
	}
	_ = stream.CloseInput(ctx)

	seq := 0
	deadline := time.NewTimer(ttsFinalizeTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			o.metrics.ProviderErrors.WithLabelValues("tts", "finalize_timeout").Inc()
			return
		case evt, ok := <-stream.Events():
			if !ok {
				return
			}
			switch evt.Type {
			case TTSEventAudio:
				seq++
				o.send(outbound, protocol.AssistantAudioChunk{
					Type:        protocol.TypeAssistantAudio,
					SessionID:   s.ID,
					TurnID:      turnID,
					Seq:         seq,
					Format:      evt.Format,
					AudioBase64: evt.AudioBase64,
				})
			case TTSEventFinal:
				return
			case TTSEventError:
				o.metrics.ProviderErrors.WithLabelValues("tts", evt.Code).Inc()
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      evt.Code,
					Source:    "tts",
					Retryable: evt.Retryable,
					Detail:    evt.Detail,
				})
				if !evt.Retryable {
					return
				}
			}
		}
	}
}

// rememberBestEffort persists a redacted copy of the user's utterance so
// later sessions can recall it. Failures only log; the conversation never
// waits on the write.
func (o *Orchestrator) rememberBestEffort(userID, userText string) {
	if o.memoryStore == nil {
		return
	}
	redacted, _ := policy.RedactPII(userText)
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), memorySaveTimeout)
		defer cancel()
		if _, err := o.memoryStore.Remember(saveCtx, userID, redacted, "conversation"); err != nil {
			o.metrics.ProviderErrors.WithLabelValues("memory", "save_failed").Inc()
			log.Printf("orchestrator: user=%s memory save: %v", userID, err)
		}
	}()
}

// send delivers an outbound frame without letting a stalled client wedge
// the session. Critical frames wait up to criticalSendTimeout; bulk frames
// (audio, partial transcripts) drop immediately when the channel is full.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)
	o.metrics.WSMessages.WithLabelValues("outbound", msgType).Inc()

	if critical {
		timer := time.NewTimer(criticalSendTimeout)
		defer timer.Stop()
		select {
		case outbound <- msg:
		case <-timer.C:
			o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		}
		return
	}

	select {
	case outbound <- msg:
	default:
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch msg.(type) {
	case protocol.STTPartial:
		return string(protocol.TypeSTTPartial), false
	case protocol.STTCommitted:
		return string(protocol.TypeSTTCommitted), true
	case protocol.AssistantText:
		return string(protocol.TypeAssistantText), true
	case protocol.AssistantAudioChunk:
		return string(protocol.TypeAssistantAudio), false
	case protocol.AssistantTurnEnd:
		return string(protocol.TypeAssistantTurnEnd), true
	case protocol.ToolActivity:
		return string(protocol.TypeToolActivity), false
	case protocol.SystemEvent:
		return string(protocol.TypeSystemEvent), true
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent), true
	default:
		return "unknown", false
	}
}

// isClosingPhrase is the local fallback for ending a session when the model
// does not call end_conversation itself.
func isClosingPhrase(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "goodbye") || strings.Contains(lower, "bye for now")
}

func truncateForActivity(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
