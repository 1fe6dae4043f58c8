package agent

import (
	"sync"
	"time"
)

// DefaultHistorySize is the action log capacity when none is configured.
const DefaultHistorySize = 100

// Action is an immutable audit record of one helper call.
type Action struct {
	ID         string         `json:"id"`
	Agent      string         `json:"agent"`
	Type       string         `json:"type"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Duration   time.Duration  `json:"duration"`
	TokensUsed int            `json:"tokens_used"`
	Cost       float64        `json:"cost"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// Metrics summarizes the actions currently held in a log.
type Metrics struct {
	TotalActions    int           `json:"total_actions"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalCost       float64       `json:"total_cost"`
	TotalTokens     int           `json:"total_tokens"`
}

// ActionLog is a fixed-capacity ring buffer of actions. When full, the
// oldest entry is overwritten.
type ActionLog struct {
	mu    sync.RWMutex
	buf   []Action
	start int
	size  int
}

// NewActionLog creates a log holding at most capacity actions.
func NewActionLog(capacity int) *ActionLog {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &ActionLog{buf: make([]Action, capacity)}
}

// Append records an action.
func (l *ActionLog) Append(a Action) {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := len(l.buf)
	if l.size < capacity {
		l.buf[(l.start+l.size)%capacity] = a
		l.size++
		return
	}
	l.buf[l.start] = a
	l.start = (l.start + 1) % capacity
}

// Len returns the number of stored actions.
func (l *ActionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Cap returns the capacity.
func (l *ActionLog) Cap() int {
	return len(l.buf)
}

// Snapshot returns the stored actions, oldest first.
func (l *ActionLog) Snapshot() []Action {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Action, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Metrics computes metrics over the stored actions.
func (l *ActionLog) Metrics() Metrics {
	actions := l.Snapshot()
	m := Metrics{TotalActions: len(actions)}
	if len(actions) == 0 {
		return m
	}

	var ok int
	var total time.Duration
	for _, a := range actions {
		if a.Success {
			ok++
		}
		total += a.Duration
		m.TotalCost += a.Cost
		m.TotalTokens += a.TokensUsed
	}
	m.SuccessRate = float64(ok) / float64(len(actions))
	m.AverageDuration = total / time.Duration(len(actions))
	return m
}
