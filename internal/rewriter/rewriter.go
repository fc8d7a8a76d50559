// Package rewriter restates unclear customer messages before they reach
// the agent loop. Rewriting is best effort: any failure leaves the
// original text in place and never fails the turn.
package rewriter

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/classifier"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/llm"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/prompts"
)

const (
	// DefaultTimeout bounds the rewrite call.
	DefaultTimeout = 8 * time.Second

	rewriteTemperature = 0.1
	rewriteMaxTokens   = 200
)

// Result is the outcome of a rewrite attempt.
type Result struct {
	Text         string
	WasRewritten bool
}

// Rewriter calls a model to restate unclear messages.
type Rewriter struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Rewriter. A zero timeout uses DefaultTimeout.
func New(timeout time.Duration, logger *slog.Logger) *Rewriter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{timeout: timeout, logger: logger}
}

// Rewrite returns a clearer version of raw when [Unclear] flags it.
// Clear messages, errors, timeouts, and degenerate model output all
// return raw unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, client llm.Client, model, raw string) Result {
	original := Result{Text: raw}
	if client == nil || !Unclear(raw) {
		return original
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	temp := rewriteTemperature
	resp, err := client.Chat(ctx, &llm.ChatRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompts.RewritePrompt(raw)}},
		Temperature: &temp,
		MaxTokens:   rewriteMaxTokens,
	})
	if err != nil {
		r.logger.Warn("message rewrite failed, using original", "model", model, "error", err)
		return original
	}

	text := cleanup(resp.Message.Content)
	if degenerate(raw, text) {
		r.logger.Debug("discarding degenerate rewrite", "raw_len", len(raw), "rewrite_len", len(text))
		return original
	}
	if text == raw {
		return original
	}

	r.logger.Debug("message rewritten", "raw", raw, "rewritten", text)
	return Result{Text: text, WasRewritten: true}
}

var labelPrefix = regexp.MustCompile(`(?i)^(reescrita|mensagem reescrita|mensagem|rewritten|resposta)\s*:\s*`)

// cleanup strips labels, surrounding quotes, and code fences the model
// adds despite instructions.
func cleanup(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = labelPrefix.ReplaceAllString(s, "")
	for _, q := range []string{`"`, `'`, "“", "”", "«", "»"} {
		s = strings.TrimPrefix(s, q)
		s = strings.TrimSuffix(s, q)
	}
	if i := strings.Index(s, "\n"); i != -1 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// degenerate reports whether a rewrite is too short or implausibly long
// relative to the original.
func degenerate(raw, rewritten string) bool {
	n := utf8.RuneCountInString(rewritten)
	return n < 2 || n > 4*utf8.RuneCountInString(raw)+200
}

var (
	// abbreviations is pt-BR chat shorthand seen in storefront messages.
	abbreviations = map[string]bool{
		"vc": true, "vcs": true, "pq": true, "qto": true, "qnt": true, "qnto": true,
		"tb": true, "tbm": true, "cx": true, "cxs": true, "und": true, "un": true,
		"pfv": true, "pf": true, "pls": true, "q": true, "oq": true, "mt": true,
		"mto": true, "msm": true, "hj": true, "td": true, "tds": true, "blz": true,
		"obg": true, "vlw": true, "n": true, "nd": true, "ngm": true, "cmg": true,
	}

	// informalMarkers are laughter and slang tokens.
	informalMarkers = regexp.MustCompile(`(?i)\b(k{3,}|rs(rs)*|mano|blz|tipo assim|vei|véi)\b`)

	// misspellings are common typos of domain nouns.
	misspellings = map[string]bool{
		"carinho": true, "carrinhu": true, "carrnho": true, "carrinio": true,
		"dipiroma": true, "dipirina": true, "diprona": true,
		"paracetamou": true, "paracetamo": true,
		"ibuprofeni": true, "ibupofeno": true, "ibuprofen": true,
		"promoçao": true, "promocao": true, "promosão": true,
		"finalisar": true, "remedio": true,
	}

	wordSplit = regexp.MustCompile(`[^\p{L}\p{N}']+`)
)

// Unclear reports whether raw is worth rewriting. It fires on very short
// input (unless it is small talk), pt-BR chat abbreviations, informal
// markers without terminal punctuation, or misspelled domain nouns.
func Unclear(raw string) bool {
	text := strings.TrimSpace(raw)
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	words := strings.Fields(lower)

	if classifier.IsSmallTalk(lower) {
		return false
	}

	if len(words) <= 2 || utf8.RuneCountInString(text) < 12 {
		return true
	}

	abbrevs := 0
	for _, w := range wordSplit.Split(lower, -1) {
		if abbreviations[w] {
			abbrevs++
		}
		if misspellings[w] {
			return true
		}
	}
	if abbrevs >= 2 || (abbrevs == 1 && len(words) <= 5) {
		return true
	}

	if !endsWithPunctuation(text) && informalMarkers.MatchString(lower) {
		return true
	}
	return false
}

func endsWithPunctuation(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(".!?…", r)
}
