package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bitrange/rangepool/internal/errors"
)

// PoolStats is the participant-facing view of the shared pool.
type PoolStats struct {
	Participants    int     `json:"participants"`
	RangesCompleted int     `json:"ranges_completed"`
	CoveragePct     float64 `json:"coverage_pct"`
	Rank            int     `json:"rank"`
	ContributionPct float64 `json:"contribution_pct"`
}

// AssignmentOffer is a range the remote pool suggests this participant
// work on. Keyspace is "start:end" in hex, the format search executables
// take on the command line.
type AssignmentOffer struct {
	RangeID  string `json:"range_id"`
	Keyspace string `json:"keyspace"`
}

// ProgressReport is one heartbeat sent to the remote pool.
type ProgressReport struct {
	ClientID        string  `json:"client_id"`
	RangeID         string  `json:"range_id"`
	Keyspace        string  `json:"keyspace"`
	SearchedKeys    string  `json:"searched_keys"`
	PercentComplete float64 `json:"percent_complete"`
	SearchRate      float64 `json:"search_rate"`
}

// CompletionReport is the terminal report for an assignment.
type CompletionReport struct {
	ClientID     string `json:"client_id"`
	RangeID      string `json:"range_id"`
	SearchedKeys string `json:"searched_keys"`
	Found        bool   `json:"found"`
}

// RemoteAPI is the contract with a remote pool server. All methods honor
// ctx cancellation; implementations must never block indefinitely.
type RemoteAPI interface {
	RequestRange(ctx context.Context, clientID, scanType string) (AssignmentOffer, error)
	ReportProgress(ctx context.Context, report ProgressReport) error
	ReportCompletion(ctx context.Context, report CompletionReport) error
	Stats(ctx context.Context, clientID string) (PoolStats, error)
}

// HTTPRemote talks JSON over HTTP to a pool server.
type HTTPRemote struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRemote creates a remote client for the pool at baseURL. The
// timeout bounds every request on top of caller context deadlines.
func NewHTTPRemote(baseURL string, timeout time.Duration) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// RequestRange asks the pool server for a range suggestion.
func (r *HTTPRemote) RequestRange(ctx context.Context, clientID, scanType string) (AssignmentOffer, error) {
	body := map[string]string{"client_id": clientID, "scan_type": scanType}
	var offer AssignmentOffer
	if err := r.post(ctx, "/api/range/request", body, &offer); err != nil {
		return AssignmentOffer{}, err
	}
	return offer, nil
}

// ReportProgress sends one heartbeat.
func (r *HTTPRemote) ReportProgress(ctx context.Context, report ProgressReport) error {
	return r.post(ctx, "/api/range/progress", report, nil)
}

// ReportCompletion sends the terminal report for an assignment.
func (r *HTTPRemote) ReportCompletion(ctx context.Context, report CompletionReport) error {
	return r.post(ctx, "/api/range/complete", report, nil)
}

// Stats fetches pool-wide statistics.
func (r *HTTPRemote) Stats(ctx context.Context, clientID string) (PoolStats, error) {
	u := r.baseURL + "/api/stats?client_id=" + url.QueryEscape(clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return PoolStats{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return PoolStats{}, fmt.Errorf("%w: %v", errors.ErrPoolUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PoolStats{}, fmt.Errorf("%w: stats returned %d", errors.ErrPoolUnreachable, resp.StatusCode)
	}

	var stats PoolStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return PoolStats{}, fmt.Errorf("%w: bad stats payload: %v", errors.ErrPoolUnreachable, err)
	}
	return stats, nil
}

// post sends a JSON body and optionally decodes a JSON response into out.
func (r *HTTPRemote) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPoolUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned %d", errors.ErrPoolUnreachable, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: bad response payload: %v", errors.ErrPoolUnreachable, err)
		}
	}
	return nil
}
