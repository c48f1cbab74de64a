// Package timeserie records the timing of every benchmark loop invocation
// of a sweep.
package timeserie

import "sync"

type TimeSeriesCollector struct {
	mu     sync.Mutex
	tokens []*Token
}

func NewTimeSeriesCollector() *TimeSeriesCollector {
	return &TimeSeriesCollector{}
}

func (tc *TimeSeriesCollector) Update(ev any) {
	token := EventToToken(ev)
	if token == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens = append(tc.tokens, token)
}

// Flush returns the recorded tokens in arrival order and clears them.
func (tc *TimeSeriesCollector) Flush() []*Token {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tokens := tc.tokens
	tc.tokens = nil
	return tokens
}
