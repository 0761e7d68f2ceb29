package orchestrator

import "time"

// HistoryEntry records one processed query.
type HistoryEntry struct {
	ID        string         `json:"id"`
	Query     string         `json:"query"`
	Result    Result         `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// HistoryFilter narrows History. A Limit of zero or less returns every
// matching entry.
type HistoryFilter struct {
	Limit       int
	SuccessOnly bool
}

func (o *Orchestrator) record(entry HistoryEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, entry)
	if over := len(o.history) - o.cfg.MaxHistorySize; over > 0 {
		// copy so the evicted entries can be collected
		o.history = append([]HistoryEntry(nil), o.history[over:]...)
	}
}

// History returns a copy of the most recent entries, oldest first.
func (o *Orchestrator) History(f HistoryFilter) []HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]HistoryEntry, 0, len(o.history))
	for _, e := range o.history {
		if f.SuccessOnly && !e.Result.OK() {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
