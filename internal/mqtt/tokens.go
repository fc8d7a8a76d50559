package mqtt

import (
	"sync"
	"time"

	"github.com/RaphaelMalburg/vanaci-task-2-sub000/internal/agent"
)

// Usage is one day's accumulated turn activity.
type Usage struct {
	Day          string `json:"day"`
	Turns        int64  `json:"turns"`
	ToolCalls    int64  `json:"toolCalls"`
	Failures     int64  `json:"failures"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
}

// DailyTokens tracks turn and token usage that resets at local
// midnight. It is safe for concurrent use.
type DailyTokens struct {
	mu    sync.Mutex
	usage Usage
	loc   *time.Location
	now   func() time.Time
}

// NewDailyTokens creates an accumulator using loc for midnight
// detection. A nil loc means [time.Local].
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, now: time.Now}
	d.usage.Day = d.today()
	return d
}

// OnTurn adds a finished turn to today's totals.
func (d *DailyTokens) OnTurn(sum agent.TurnSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.usage.Turns++
	d.usage.ToolCalls += int64(sum.ToolCalls)
	d.usage.InputTokens += int64(sum.InputTokens)
	d.usage.OutputTokens += int64(sum.OutputTokens)
	if sum.Failed {
		d.usage.Failures++
	}
}

// Snapshot returns today's totals after checking for rollover.
func (d *DailyTokens) Snapshot() Usage {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.usage
}

func (d *DailyTokens) today() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

// maybeReset zeroes the totals when the local date changed. Must be
// called with d.mu held.
func (d *DailyTokens) maybeReset() {
	if today := d.today(); today != d.usage.Day {
		d.usage = Usage{Day: today}
	}
}
