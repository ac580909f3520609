package reload

import (
	"sync"
	"time"
)

// Stats summarizes reload activity.
type Stats struct {
	Total           int
	Succeeded       int
	Failed          int
	AverageDuration time.Duration
}

type stats struct {
	mu            sync.Mutex
	total         int
	succeeded     int
	failed        int
	totalDuration time.Duration
}

func (s *stats) record(success bool, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if success {
		s.succeeded++
	} else {
		s.failed++
	}
	s.totalDuration += d
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{Total: s.total, Succeeded: s.succeeded, Failed: s.failed}
	if s.total > 0 {
		out.AverageDuration = s.totalDuration / time.Duration(s.total)
	}
	return out
}

// Stats returns a snapshot of reload statistics.
func (c *Controller) Stats() Stats {
	return c.stats.snapshot()
}

// HistoryEntry is one recorded reload outcome.
type HistoryEntry struct {
	ComponentID string
	Success     bool
	Duration    time.Duration
	At          time.Time
}

// historyRing keeps the newest maxSize entries.
type historyRing struct {
	mu      sync.Mutex
	entries []HistoryEntry
	maxSize int
}

func newHistoryRing(maxSize int) *historyRing {
	return &historyRing{maxSize: maxSize}
}

func (h *historyRing) add(entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
}

func (h *historyRing) snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *historyRing) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// History returns the recorded reload outcomes, oldest first.
func (c *Controller) History() []HistoryEntry {
	return c.history.snapshot()
}

// ClearHistory drops all recorded outcomes.
func (c *Controller) ClearHistory() {
	c.history.clear()
}

// memoryWarnThreshold is the approximate byte budget for controller state
// before a warning logs.
const memoryWarnThreshold = 1 << 20

// approxMemoryUsage sums rough sizes of the queue, history, and pending
// debounce map.
func (c *Controller) approxMemoryUsage() int {
	c.mu.Lock()
	queueLen := len(c.queue)
	debounceLen := len(c.debounce)
	var queueBytes int
	for _, req := range c.queue {
		queueBytes += len(req.ComponentID) + len(req.FilePath) + 24
	}
	c.mu.Unlock()

	historyBytes := 0
	for _, entry := range c.history.snapshot() {
		historyBytes += len(entry.ComponentID) + 48
	}

	return queueBytes + historyBytes + queueLen*16 + debounceLen*64
}

func (c *Controller) logMemoryUsage() {
	usage := c.approxMemoryUsage()
	if usage > memoryWarnThreshold {
		c.logger.Warn("reload controller memory usage high",
			"bytes", usage, "threshold", memoryWarnThreshold)
	} else {
		c.logger.Debug("reload controller memory usage", "bytes", usage)
	}
}
