package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func sampleSession(id string) *Session {
	s := newSession(id)
	s.MergeContext(map[string]any{"page": "/produto/dip-500"})
	s.Append(
		NewText(RoleUser, "adicione 2 dipirona"),
		NewToolCalls([]ToolCall{{ID: "call_1", Name: "add_to_cart", Arguments: map[string]any{"productId": "dip-500", "quantity": float64(2)}}}),
		NewToolResult(ToolResult{ToolCallID: "call_1", Name: "add_to_cart", Success: true, Message: "Adicionado."}),
		NewText(RoleAssistant, "Pronto, adicionei 2 dipironas."),
	)
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := setupSQLite(t)
	ctx := context.Background()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Load(missing) err = %v, want ErrSessionNotFound", err)
	}

	in := sampleSession("s1")
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(out.Messages))
	}
	if out.Context["page"] != "/produto/dip-500" {
		t.Errorf("context = %v", out.Context)
	}
	call := out.Messages[1]
	if call.Kind != KindToolCall || len(call.ToolCalls) != 1 || call.ToolCalls[0].Arguments["quantity"] != float64(2) {
		t.Errorf("tool call record = %+v", call)
	}
	res := out.Messages[2]
	if res.ToolResult == nil || !res.ToolResult.Success || res.ToolResult.ToolCallID != "call_1" {
		t.Errorf("tool result record = %+v", res)
	}
	if !out.Messages[0].Timestamp.Equal(in.Messages[0].Timestamp) {
		t.Errorf("timestamp = %v, want %v", out.Messages[0].Timestamp, in.Messages[0].Timestamp)
	}

	// Save replaces the log.
	in.Messages = in.Messages[2:]
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("resave: %v", err)
	}
	out, _ = store.Load(ctx, "s1")
	if len(out.Messages) != 2 || out.Messages[0].Kind != KindToolResult {
		t.Errorf("after resave messages = %+v", out.Messages)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("after delete err = %v", err)
	}
}

func TestSession_HistoryAndReplay(t *testing.T) {
	s := sampleSession("s1")

	visible := s.History(false)
	if len(visible) != 2 || visible[0].Role != RoleUser || visible[1].Role != RoleAssistant {
		t.Errorf("History(false) = %+v", visible)
	}
	if full := s.History(true); len(full) != 4 {
		t.Errorf("History(true) len = %d, want 4", len(full))
	}

	for _, m := range s.Messages {
		if strings.TrimSpace(m.Content) == "" {
			t.Errorf("message %s has empty content", m.Kind)
		}
	}

	replay := s.Messages[1].Replay()
	if !strings.Contains(replay, `add_to_cart{"productId":"dip-500","quantity":2}`) {
		t.Errorf("Replay() = %q", replay)
	}
	if got := s.Messages[2].Replay(); got != "[resultado de add_to_cart: ok] Adicionado." {
		t.Errorf("tool result Replay() = %q", got)
	}
}

func TestSession_Truncate(t *testing.T) {
	s := newSession("s1")
	for i := range 25 {
		s.Append(NewText(RoleUser, fmt.Sprintf("m%d", i)))
	}
	s.Truncate(20)
	if len(s.Messages) != 20 {
		t.Fatalf("len = %d, want 20", len(s.Messages))
	}
	if s.Messages[0].Content != "m5" || s.Messages[19].Content != "m24" {
		t.Errorf("kept %q..%q, want m5..m24", s.Messages[0].Content, s.Messages[19].Content)
	}
}

func TestCache_LRUAndTTL(t *testing.T) {
	c := newCache(2, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.put(newSession("a"))
	c.put(newSession("b"))
	c.get("a")
	c.put(newSession("c"))

	if _, ok := c.get("b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("recently used entry should survive")
	}

	now = now.Add(2 * time.Minute)
	if n := c.sweep(); n != 2 {
		t.Errorf("sweep removed %d, want 2", n)
	}
	if c.len() != 0 {
		t.Errorf("len after sweep = %d", c.len())
	}

	c.put(newSession("d"))
	now = now.Add(2 * time.Minute)
	if _, ok := c.get("d"); ok {
		t.Error("expired entry returned by get")
	}
}

func TestStore_GetOrCreateConcurrent(t *testing.T) {
	store := NewStore(setupSQLite(t), Config{CacheSize: 10, TTL: time.Hour}, discardLogger())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created = map[time.Time]bool{}
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := store.GetOrCreate(ctx, "shared")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			mu.Lock()
			created[s.CreatedAt] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(created) != 1 {
		t.Errorf("concurrent creation produced %d distinct sessions", len(created))
	}
}

func TestStore_SaveTruncatesAndPersists(t *testing.T) {
	durable := setupSQLite(t)
	store := NewStore(durable, Config{CacheSize: 10, TTL: time.Hour}, discardLogger())
	ctx := context.Background()

	s, err := store.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s.ID == "" {
		t.Fatal("empty id should allocate a new session id")
	}
	for i := range 25 {
		s.Append(NewText(RoleUser, fmt.Sprintf("m%d", i)))
	}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(s.Messages) != 25 {
		t.Error("Save must not mutate the caller's session")
	}

	fromDisk, err := durable.Load(ctx, s.ID)
	if err != nil || len(fromDisk.Messages) != 20 {
		t.Fatalf("durable copy: %d messages, err %v", len(fromDisk.Messages), err)
	}

	// A fresh store over the same database reloads the session.
	reloaded, err := NewStore(durable, Config{}, discardLogger()).Get(ctx, s.ID)
	if err != nil || len(reloaded.Messages) != 20 {
		t.Fatalf("reload: %v", err)
	}

	if err := store.Clear(ctx, s.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("after Clear err = %v", err)
	}
}

type failingDurable struct {
	mu    sync.Mutex
	saves int
}

func (f *failingDurable) Load(context.Context, string) (*Session, error) {
	return nil, errors.New("disk I/O error")
}

func (f *failingDurable) Save(context.Context, *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return errors.New("disk I/O error")
}

func (f *failingDurable) Delete(context.Context, string) error { return nil }

func TestStore_DegradesToMemory(t *testing.T) {
	durable := &failingDurable{}
	store := NewStore(durable, Config{}, discardLogger())
	ctx := context.Background()

	s, err := store.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("GetOrCreate should survive a durable failure: %v", err)
	}
	if !store.Stats().Degraded {
		t.Error("store should report degraded")
	}
	s.Append(NewText(RoleUser, "oi"))
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save in memory-only mode: %v", err)
	}
	if durable.saves != 0 {
		t.Errorf("durable store called %d times after degrading", durable.saves)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil || len(got.Messages) != 1 {
		t.Errorf("memory copy: %+v, %v", got, err)
	}
}

func TestStore_LockSerializesAndReleases(t *testing.T) {
	store := NewStore(nil, Config{}, discardLogger())

	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := store.Lock("s1")
			defer unlock()
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if n := store.locks.size(); n != 0 {
		t.Errorf("lock table holds %d entries after release", n)
	}

	unlock := store.Lock("s2")
	unlock()
	unlock()
}

func TestSweeper(t *testing.T) {
	store := NewStore(nil, Config{TTL: time.Millisecond}, discardLogger())
	store.GetOrCreate(context.Background(), "s1")
	time.Sleep(5 * time.Millisecond)

	sw, err := NewSweeper(store, "", discardLogger())
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	sw.sweep()
	if got := store.Stats().Cached; got != 0 {
		t.Errorf("cached after sweep = %d, want 0", got)
	}

	if _, err := NewSweeper(store, "not a schedule", discardLogger()); err == nil {
		t.Error("invalid schedule should be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
