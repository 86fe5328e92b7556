// Package partition converts a probability estimate over the keyspace into
// a concrete search manifest: one high-priority core band, parallel splits
// of it for multi-GPU scanning, and low-priority fallback ranges covering
// the remainder of the interval.
package partition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/keyspace"
)

// Defaults mirror the range strategy this tool has always shipped with:
// a 40-90% core band split three ways, with the remainder as fallbacks.
const (
	DefaultBandLow    = 40.0
	DefaultBandHigh   = 90.0
	DefaultSplitCount = 3

	DefaultCorePriority     = 90
	DefaultSplitPriority    = 85
	DefaultFallbackPriority = 40
	// The top slice of the keyspace is the least likely band; it sits
	// below the other fallbacks in priority.
	DefaultTopFallbackPriority = 30
)

// Estimate is a probability estimate over the keyspace, expressed as a
// percentage position with confidence bounds. It arrives from an external
// estimator and is treated as untyped configuration.
type Estimate struct {
	Position float64 `json:"position"`
	CILower  float64 `json:"ci_lower"`
	CIUpper  float64 `json:"ci_upper"`
}

// Validate rejects estimates whose fields are outside [0,100] or whose
// bounds are inverted, before any range arithmetic runs.
func (e Estimate) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"position", e.Position},
		{"ci_lower", e.CILower},
		{"ci_upper", e.CIUpper},
	} {
		if f.value < 0 || f.value > 100 {
			return errors.NewValidationError("estimate percent must be within [0,100]").
				WithField(f.name).WithValue(f.value)
		}
	}
	if e.CILower > e.CIUpper {
		return errors.NewValidationError("estimate lower bound exceeds upper bound").
			WithField("ci_lower").WithValue(e.CILower)
	}
	return nil
}

// Config fixes the interval and band constants manifest generation uses.
type Config struct {
	// Start and End bound the full keyspace, End exclusive.
	Start keyspace.Key
	End   keyspace.Key

	// TargetID is the opaque identifier handed to search workers.
	TargetID string

	// SplitCount is how many parallel pieces the core band splits into.
	SplitCount int

	// Priority buckets. Zero values take the defaults above.
	CorePriority        int
	SplitPriority       int
	FallbackPriority    int
	TopFallbackPriority int
}

// PuzzleConfig returns the standard interval [2^(n-1), 2^n) for a puzzle
// number. The solo pools this tool cooperates with run puzzles 68, 69,
// and 71.
func PuzzleConfig(puzzle int, targetID string) (Config, error) {
	if puzzle < 1 || puzzle > 256 {
		return Config{}, errors.NewValidationError("puzzle number must be within [1,256]").
			WithField("puzzle").WithValue(puzzle)
	}
	return Config{
		Start:    keyspace.PowerOfTwo(uint(puzzle - 1)),
		End:      keyspace.PowerOfTwo(uint(puzzle)),
		TargetID: targetID,
	}, nil
}

// Manifest is the generated range plan. The persisted JSON layout matches
// the file format the original pool tooling consumes.
type Manifest struct {
	TargetID     string           `json:"target_id,omitempty"`
	Estimate     Estimate         `json:"estimate"`
	HighPriority keyspace.Range   `json:"high_priority"`
	GPUSplits    []keyspace.Range `json:"multi_gpu_splits"`
	Fallback     []keyspace.Range `json:"fallback"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// Ranges returns the schedulable ranges: the core band's parallel splits
// followed by the fallbacks, in manifest order. The core band itself is
// the splits' parent and is not scheduled directly.
func (m *Manifest) Ranges() []keyspace.Range {
	out := make([]keyspace.Range, 0, len(m.GPUSplits)+len(m.Fallback))
	out = append(out, m.GPUSplits...)
	out = append(out, m.Fallback...)
	return out
}

// Generate builds a manifest from the estimate and configuration. It is a
// pure function of its inputs apart from the created_at stamps: the same
// estimate and config always produce the same boundaries.
func Generate(est Estimate, cfg Config) (*Manifest, error) {
	if err := est.Validate(); err != nil {
		return nil, err
	}
	if cfg.Start.Cmp(cfg.End) >= 0 {
		return nil, errors.NewValidationError("keyspace start must be below its end").
			WithField("start").WithValue(cfg.Start.String())
	}

	splitCount := cfg.SplitCount
	if splitCount <= 0 {
		splitCount = DefaultSplitCount
	}
	corePriority := orDefault(cfg.CorePriority, DefaultCorePriority)
	splitPriority := orDefault(cfg.SplitPriority, DefaultSplitPriority)
	fallbackPriority := orDefault(cfg.FallbackPriority, DefaultFallbackPriority)
	topPriority := orDefault(cfg.TopFallbackPriority, DefaultTopFallbackPriority)

	bandLow, bandHigh := band(est)
	size := cfg.End.Sub(cfg.Start)

	coreStart, err := keyspace.PercentOffset(bandLow, cfg.Start, size)
	if err != nil {
		return nil, err
	}
	coreEnd, err := keyspace.PercentOffset(bandHigh, cfg.Start, size)
	if err != nil {
		return nil, err
	}
	if coreStart.Cmp(coreEnd) >= 0 {
		return nil, errors.NewValidationError("estimate band collapses to an empty range").
			WithField("position").WithValue(est.Position)
	}

	now := time.Now().UTC()
	core := keyspace.Range{
		ID:        "core",
		Start:     coreStart,
		End:       coreEnd,
		Priority:  corePriority,
		Status:    keyspace.StatusPending,
		Label:     fmt.Sprintf("core band %.0f-%.0f%%", bandLow, bandHigh),
		CreatedAt: now,
	}

	splits, err := core.Split(splitCount, splitPriority)
	if err != nil {
		return nil, err
	}
	for i := range splits {
		splits[i].ID = fmt.Sprintf("gpu-%d", i)
		splits[i].Label = fmt.Sprintf("GPU %d", i)
	}

	var fallback []keyspace.Range
	if cfg.Start.Cmp(coreStart) < 0 {
		fallback = append(fallback, keyspace.Range{
			ID:        "fallback-low",
			Start:     cfg.Start,
			End:       coreStart,
			Priority:  fallbackPriority,
			Status:    keyspace.StatusPending,
			Label:     fmt.Sprintf("bottom %.0f%%", bandLow),
			CreatedAt: now,
		})
	}
	if coreEnd.Cmp(cfg.End) < 0 {
		fallback = append(fallback, keyspace.Range{
			ID:        "fallback-high",
			Start:     coreEnd,
			End:       cfg.End,
			Priority:  topPriority,
			Status:    keyspace.StatusPending,
			Label:     fmt.Sprintf("top %.0f%%", 100-bandHigh),
			CreatedAt: now,
		})
	}

	return &Manifest{
		TargetID:     cfg.TargetID,
		Estimate:     est,
		HighPriority: core,
		GPUSplits:    splits,
		Fallback:     fallback,
		GeneratedAt:  now,
	}, nil
}

// CustomManifest builds a single-range manifest for caller-supplied
// bounds. An operator handed an exact interval searches it as-is; the
// estimate partitioner never applies.
func CustomManifest(cfg Config) (*Manifest, error) {
	if cfg.Start.Cmp(cfg.End) >= 0 {
		return nil, errors.NewValidationError("keyspace start must be below its end").
			WithField("start").WithValue(cfg.Start.String())
	}

	now := time.Now().UTC()
	r := keyspace.Range{
		ID:        "custom",
		Start:     cfg.Start,
		End:       cfg.End,
		Priority:  orDefault(cfg.CorePriority, DefaultCorePriority),
		Status:    keyspace.StatusPending,
		Label:     "custom range",
		CreatedAt: now,
	}
	return &Manifest{
		TargetID:     cfg.TargetID,
		HighPriority: r,
		GPUSplits:    []keyspace.Range{r},
		GeneratedAt:  now,
	}, nil
}

// band picks the core band bounds. The default 40-90% band is used unless
// the estimate's confidence interval is narrower, in which case the CI
// itself is the better bet.
func band(est Estimate) (low, high float64) {
	low, high = DefaultBandLow, DefaultBandHigh
	if est.CIUpper > est.CILower && est.CIUpper-est.CILower < high-low {
		low, high = est.CILower, est.CIUpper
	}
	return low, high
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

const manifestFileName = "manifest.json"

// Save writes the manifest to dir atomically: data goes to a temporary
// file first, then renames into place.
func (m *Manifest) Save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	target := filepath.Join(dir, manifestFileName)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads a previously saved manifest from dir.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}
