// Package usage keeps a persistent ledger of per-turn token usage and
// cost. Records are append-only and indexed by timestamp and session so
// the stats endpoint can aggregate them by period, model, or provider.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/config"
)

// Record is one turn's token usage and cost.
type Record struct {
	ID           string
	Timestamp    time.Time
	SessionID    string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	ToolCalls    int
	CostUSD      float64
	Outcome      string // "answered", "forced", "failed", "disconnected"
}

// Summary holds aggregated totals.
type Summary struct {
	Turns        int     `json:"turns"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	ToolCalls    int64   `json:"toolCalls"`
	CostUSD      float64 `json:"costUsd"`
}

// Store is an append-only usage ledger. It shares the session database
// handle and never closes it.
type Store struct {
	db      *sql.DB
	pricing map[string]config.PricingEntry
	logger  *slog.Logger
}

// NewStore creates the ledger table on db if needed.
func NewStore(db *sql.DB, pricing map[string]config.PricingEntry, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, pricing: pricing, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turn_usage (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		session_id    TEXT,
		provider      TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		tool_calls    INTEGER NOT NULL,
		cost_usd      REAL NOT NULL,
		outcome       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turn_usage_timestamp ON turn_usage(timestamp);
	CREATE INDEX IF NOT EXISTS idx_turn_usage_session ON turn_usage(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists rec. An empty ID gets a UUIDv7 and a zero timestamp
// becomes now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_usage
			(id, timestamp, session_id, provider, model,
			 input_tokens, output_tokens, tool_calls, cost_usd, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.SessionID,
		rec.Provider,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.ToolCalls,
		rec.CostUSD,
		rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// ObserveTurn records a finished turn. Failures are logged; the turn has
// already been answered.
func (s *Store) ObserveTurn(ctx context.Context, sum agent.TurnSummary) {
	rec := Record{
		Timestamp:    sum.Timestamp,
		SessionID:    sum.SessionID,
		Provider:     sum.Provider,
		Model:        sum.Model,
		InputTokens:  sum.InputTokens,
		OutputTokens: sum.OutputTokens,
		ToolCalls:    sum.ToolCalls,
		CostUSD:      ComputeCost(sum.Model, sum.InputTokens, sum.OutputTokens, s.pricing),
		Outcome:      Outcome(sum),
	}
	if err := s.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("usage record failed", "session_id", sum.SessionID, "error", err)
	}
}

// Outcome classifies how a turn ended.
func Outcome(sum agent.TurnSummary) string {
	switch {
	case sum.Disconnected:
		return "disconnected"
	case sum.Failed:
		return "failed"
	case sum.ForcedFinal:
		return "forced"
	default:
		return "answered"
	}
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(tool_calls), 0), COALESCE(SUM(cost_usd), 0)
		 FROM turn_usage
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.Turns, &sum.InputTokens, &sum.OutputTokens, &sum.ToolCalls, &sum.CostUSD); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByModel returns per-model totals for records within [start, end).
func (s *Store) SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "model", start, end)
}

// SummaryByProvider returns per-provider totals for records within [start, end).
func (s *Store) SummaryByProvider(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "provider", start, end)
}

// SummaryByOutcome returns per-outcome totals for records within [start, end).
func (s *Store) SummaryByOutcome(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "outcome", start, end)
}

// column is always one of the constants above.
func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(tool_calls), 0), COALESCE(SUM(cost_usd), 0)
		 FROM turn_usage
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Turns, &sum.InputTokens, &sum.OutputTokens, &sum.ToolCalls, &sum.CostUSD); err != nil {
			return nil, fmt.Errorf("scan usage by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}

// Report is the aggregated view served by the stats endpoint.
type Report struct {
	Since      time.Time           `json:"since"`
	Until      time.Time           `json:"until"`
	Total      *Summary            `json:"total"`
	ByModel    map[string]*Summary `json:"byModel"`
	ByProvider map[string]*Summary `json:"byProvider"`
	ByOutcome  map[string]*Summary `json:"byOutcome"`
}

// Report aggregates records within [start, end).
func (s *Store) Report(ctx context.Context, start, end time.Time) (*Report, error) {
	r := &Report{Since: start.UTC(), Until: end.UTC()}
	var err error
	if r.Total, err = s.Summary(ctx, start, end); err != nil {
		return nil, err
	}
	if r.ByModel, err = s.SummaryByModel(ctx, start, end); err != nil {
		return nil, err
	}
	if r.ByProvider, err = s.SummaryByProvider(ctx, start, end); err != nil {
		return nil, err
	}
	if r.ByOutcome, err = s.SummaryByOutcome(ctx, start, end); err != nil {
		return nil, err
	}
	return r, nil
}

// ComputeCost prices a model's token usage. Models not in the table are
// free.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	entry, ok := pricing[model]
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}
