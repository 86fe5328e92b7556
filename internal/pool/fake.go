package pool

import (
	"context"
	"sync"
)

// FakeRemote is an in-memory RemoteAPI for tests and offline runs. It
// records every call and returns whatever it is primed with.
type FakeRemote struct {
	mu sync.Mutex

	Offer      AssignmentOffer
	StatsReply PoolStats
	Err        error

	RequestCalls    []string
	ProgressCalls   []ProgressReport
	CompletionCalls []CompletionReport
	StatsCalls      int
}

// RequestRange implements RemoteAPI.
func (f *FakeRemote) RequestRange(ctx context.Context, clientID, scanType string) (AssignmentOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RequestCalls = append(f.RequestCalls, clientID)
	if f.Err != nil {
		return AssignmentOffer{}, f.Err
	}
	return f.Offer, nil
}

// ReportProgress implements RemoteAPI.
func (f *FakeRemote) ReportProgress(ctx context.Context, report ProgressReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProgressCalls = append(f.ProgressCalls, report)
	return f.Err
}

// ReportCompletion implements RemoteAPI.
func (f *FakeRemote) ReportCompletion(ctx context.Context, report CompletionReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CompletionCalls = append(f.CompletionCalls, report)
	return f.Err
}

// Stats implements RemoteAPI.
func (f *FakeRemote) Stats(ctx context.Context, clientID string) (PoolStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatsCalls++
	if f.Err != nil {
		return PoolStats{}, f.Err
	}
	return f.StatsReply, nil
}

// SetErr primes the fake to fail every subsequent call with err. Passing
// nil clears the failure.
func (f *FakeRemote) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Progress returns a copy of the recorded progress reports.
func (f *FakeRemote) Progress() []ProgressReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ProgressReport, len(f.ProgressCalls))
	copy(out, f.ProgressCalls)
	return out
}

// Completions returns a copy of the recorded completion reports.
func (f *FakeRemote) Completions() []CompletionReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CompletionReport, len(f.CompletionCalls))
	copy(out, f.CompletionCalls)
	return out
}
