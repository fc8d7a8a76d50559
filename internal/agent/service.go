package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/classifier"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/prompts"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/rewriter"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/session"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/tools"
)

// ErrInvalidRequest marks turn requests rejected before any work is done.
var ErrInvalidRequest = errors.New("invalid request")

// MaxMessageRunes bounds the customer message length.
const MaxMessageRunes = 10000

// TurnRequest is one customer message.
type TurnRequest struct {
	SessionID string
	Message   string
	// Context is client page state merged into the session.
	Context map[string]any
	// LLMConfig overlays the active configuration for this turn only.
	LLMConfig *llm.Config
}

// TurnResult is what a completed turn returns to the client.
type TurnResult struct {
	SessionID string
	Response  string
	Timestamp time.Time
	Actions   []tools.Action
	Summary   TurnSummary
}

// TurnSummary describes a finished turn for logs and telemetry.
type TurnSummary struct {
	SessionID    string    `json:"sessionId"`
	Iterations   int       `json:"iterations"`
	ToolCalls    int       `json:"toolCalls"`
	ForcedFinal  bool      `json:"forcedFinal"`
	MustUseTools bool      `json:"mustUseTools"`
	Categories   []string  `json:"categories,omitempty"`
	Rewritten    bool      `json:"rewritten"`
	Failed       bool      `json:"failed"`
	Disconnected bool      `json:"disconnected"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	DurationMs   int64     `json:"durationMs"`
	Timestamp    time.Time `json:"timestamp"`
}

// Observer is notified after every turn.
type Observer interface {
	ObserveTurn(ctx context.Context, summary TurnSummary)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, summary TurnSummary)

// ObserveTurn calls f.
func (f ObserverFunc) ObserveTurn(ctx context.Context, summary TurnSummary) { f(ctx, summary) }

// ServiceConfig holds storefront identity used in prompts.
type ServiceConfig struct {
	StoreName      string
	SupportContact string
}

// Service runs turns: lock the session, load it, resolve a provider,
// rewrite and classify the message, run the loop, and persist.
type Service struct {
	store    *session.Store
	resolver *llm.Resolver
	rewriter *rewriter.Rewriter
	loop     *Loop
	config   *ConfigHolder
	cfg      ServiceConfig
	logger   *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer

	turns, toolCalls, forcedFinals, failures, rewrites atomic.Int64
	inputTokens, outputTokens                          atomic.Int64
}

// NewService wires a turn service.
func NewService(store *session.Store, resolver *llm.Resolver, rw *rewriter.Rewriter, loop *Loop, config *ConfigHolder, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		resolver: resolver,
		rewriter: rw,
		loop:     loop,
		config:   config,
		cfg:      cfg,
		logger:   logger,
	}
}

// AddObserver registers a turn observer.
func (s *Service) AddObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Config returns the active LLM configuration.
func (s *Service) Config() llm.Config {
	return s.config.Get()
}

// SetConfig validates and replaces the active LLM configuration.
func (s *Service) SetConfig(cfg llm.Config) (llm.Config, error) {
	out, err := s.config.Replace(cfg)
	if err != nil {
		return llm.Config{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.logger.Info("llm config replaced", "provider", out.Provider, "model", out.Model)
	return out, nil
}

// Apology is the user-facing failure text.
func (s *Service) Apology() string {
	return prompts.Apology(s.cfg.SupportContact)
}

// PendingTurn holds the session lock and a resolved provider. Exactly
// one of Run or Abort must be called.
type PendingTurn struct {
	svc     *Service
	req     TurnRequest
	sess    *session.Session
	cfg     llm.Config
	handle  *llm.Handle
	unlock  func()
	started time.Time
}

// SessionID returns the session the turn runs on.
func (p *PendingTurn) SessionID() string { return p.sess.ID }

// Abort releases the turn without running it.
func (p *PendingTurn) Abort() { p.unlock() }

// Begin validates the request, takes the session lock, loads the session
// and resolves a provider. Resolution failures surface here, before any
// response is written.
func (s *Service) Begin(ctx context.Context, req TurnRequest) (*PendingTurn, error) {
	if err := validateMessage(req.Message); err != nil {
		return nil, err
	}
	cfg, err := s.config.Effective(req.LLMConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.SessionID == "" {
		req.SessionID = session.NewID()
	}

	started := time.Now()
	unlock := s.store.Lock(req.SessionID)

	sess, err := s.store.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("load session: %w", err)
	}
	handle, err := s.resolver.Resolve(ctx, cfg)
	if err != nil {
		unlock()
		s.failures.Add(1)
		return nil, err
	}

	return &PendingTurn{
		svc:     s,
		req:     req,
		sess:    sess,
		cfg:     cfg,
		handle:  handle,
		unlock:  unlock,
		started: started,
	}, nil
}

// Chat runs a complete non-streaming turn.
func (s *Service) Chat(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	p, err := s.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, nil), nil
}

// Run executes the turn and releases the session lock. With an emitter
// the turn streams; the final answer is always delivered as text before
// the end event.
func (p *PendingTurn) Run(ctx context.Context, emit Emitter) (result *TurnResult) {
	s := p.svc
	defer p.unlock()
	emit = guard(ctx, emit)
	saved := false

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn panicked", "session", p.sess.ID, "panic", r)
			s.failures.Add(1)
			if !saved {
				p.sess.Append(session.NewText(session.RoleAssistant, s.Apology()))
				if err := s.store.Save(context.WithoutCancel(ctx), p.sess); err != nil {
					s.logger.Error("session save failed", "session", p.sess.ID, "error", err)
				}
			}
			if emit != nil {
				emit(ErrorEvent(s.Apology()))
			}
			result = &TurnResult{SessionID: p.sess.ID, Response: s.Apology(), Timestamp: time.Now().UTC()}
		}
	}()

	text := p.req.Message
	rewritten := false
	if p.cfg.RewriterEnabled() && s.rewriter != nil {
		r := s.rewriter.Rewrite(ctx, p.handle.Client, p.handle.Model, text)
		text, rewritten = r.Text, r.WasRewritten
	}

	categories := classifier.Classify(text)
	mustUse := classifier.Decide(categories)
	system := prompts.SystemPrompt(s.cfg.StoreName, s.cfg.SupportContact)
	if mustUse {
		system = prompts.WithToolDirective(system, classifier.Strings(categories))
	}

	sess := p.sess
	sess.MergeContext(p.req.Context)
	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: system}},
		appendTurn(replay(sess.Messages), llm.Message{Role: llm.RoleUser, Content: text})...)
	sess.Append(session.NewText(session.RoleUser, text))

	turn := tools.NewTurn(sess.ID, sess.Context)
	out := s.loop.Run(ctx, Input{
		Client:      p.handle.Client,
		Model:       p.handle.Model,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
		Messages:    messages,
		Turn:        turn,
		Emit:        emit,
		Apology:     s.Apology(),
	})

	sess.Append(out.Records...)
	if out.Response != "" {
		sess.Append(session.NewText(session.RoleAssistant, out.Response))
	}
	if err := s.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		s.logger.Error("session save failed", "session", sess.ID, "error", err)
	}
	saved = true

	now := time.Now().UTC()
	actions := turn.Actions()
	if emit != nil {
		if out.Response != "" && !out.Streamed {
			emit(textEvent(out.Response))
		}
		emit(endEvent(sess.ID, out.Response, now, actions))
	}

	summary := TurnSummary{
		SessionID:    sess.ID,
		Iterations:   out.Iterations,
		ToolCalls:    out.ToolCalls,
		ForcedFinal:  out.ForcedFinal,
		MustUseTools: mustUse,
		Categories:   classifier.Strings(categories),
		Rewritten:    rewritten,
		Failed:       out.Failed,
		Disconnected: out.Disconnected,
		Provider:     p.handle.Provider,
		Model:        p.handle.Model,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		DurationMs:   time.Since(p.started).Milliseconds(),
		Timestamp:    now,
	}
	s.record(ctx, summary)

	return &TurnResult{
		SessionID: sess.ID,
		Response:  out.Response,
		Timestamp: now,
		Actions:   actions,
		Summary:   summary,
	}
}

func (s *Service) record(ctx context.Context, sum TurnSummary) {
	s.turns.Add(1)
	s.toolCalls.Add(int64(sum.ToolCalls))
	s.inputTokens.Add(int64(sum.InputTokens))
	s.outputTokens.Add(int64(sum.OutputTokens))
	if sum.ForcedFinal {
		s.forcedFinals.Add(1)
	}
	if sum.Failed {
		s.failures.Add(1)
	}
	if sum.Rewritten {
		s.rewrites.Add(1)
	}

	s.logger.Info("turn completed",
		"session", sum.SessionID,
		"provider", sum.Provider,
		"model", sum.Model,
		"iterations", sum.Iterations,
		"tool_calls", sum.ToolCalls,
		"forced_final", sum.ForcedFinal,
		"must_use_tools", sum.MustUseTools,
		"categories", sum.Categories,
		"input_tokens", sum.InputTokens,
		"output_tokens", sum.OutputTokens,
		"duration_ms", sum.DurationMs,
	)

	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, o := range observers {
		o.ObserveTurn(context.WithoutCancel(ctx), sum)
	}
}

// History returns a session's messages. Unknown sessions have an empty
// history.
func (s *Service) History(ctx context.Context, sessionID string, includeTools bool) ([]session.Message, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return []session.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return sess.History(includeTools), nil
}

// SessionContext returns a session's page context. Unknown sessions have
// an empty context.
func (s *Service) SessionContext(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.Context == nil {
		return map[string]any{}, nil
	}
	return sess.Context, nil
}

// Clear deletes a session's log, waiting for any running turn on it.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	unlock := s.store.Lock(sessionID)
	defer unlock()
	return s.store.Clear(ctx, sessionID)
}

// Stats is a snapshot of turn counters.
type Stats struct {
	Turns        int64         `json:"turns"`
	ToolCalls    int64         `json:"toolCalls"`
	ForcedFinals int64         `json:"forcedFinals"`
	Failures     int64         `json:"failures"`
	Rewrites     int64         `json:"rewrites"`
	InputTokens  int64         `json:"inputTokens"`
	OutputTokens int64         `json:"outputTokens"`
	Sessions     session.Stats `json:"sessions"`
}

// Stats returns the service counters.
func (s *Service) Stats() Stats {
	return Stats{
		Turns:        s.turns.Load(),
		ToolCalls:    s.toolCalls.Load(),
		ForcedFinals: s.forcedFinals.Load(),
		Failures:     s.failures.Load(),
		Rewrites:     s.rewrites.Load(),
		InputTokens:  s.inputTokens.Load(),
		OutputTokens: s.outputTokens.Load(),
		Sessions:     s.store.Stats(),
	}
}

func validateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" || utf8.RuneCountInString(msg) > MaxMessageRunes {
		return fmt.Errorf("%w: message is required and must be at most %d characters", ErrInvalidRequest, MaxMessageRunes)
	}
	return nil
}

// replay renders a session log as chat history. Tool records become
// compact assistant text, consecutive same-role entries are merged, and
// leading assistant entries left by truncation are dropped.
func replay(msgs []session.Message) []llm.Message {
	var out []llm.Message
	for _, m := range msgs {
		var role string
		switch m.Role {
		case session.RoleUser:
			role = llm.RoleUser
		case session.RoleAssistant:
			role = llm.RoleAssistant
		default:
			continue
		}
		if len(out) == 0 && role != llm.RoleUser {
			continue
		}
		out = appendTurn(out, llm.Message{Role: role, Content: m.Replay()})
	}
	return out
}

func appendTurn(history []llm.Message, m llm.Message) []llm.Message {
	if n := len(history); n > 0 && history[n-1].Role == m.Role {
		history[n-1].Content += "\n" + m.Content
		return history
	}
	return append(history, m)
}
