package keyspace

import (
	"fmt"
	"time"

	"github.com/bitrange/rangepool/internal/errors"
)

// Status represents the lifecycle state of a range.
type Status string

const (
	// StatusPending indicates the range has not been assigned yet.
	StatusPending Status = "pending"

	// StatusActive indicates the range is currently being searched.
	StatusActive Status = "active"

	// StatusCompleted indicates the range has been fully searched.
	StatusCompleted Status = "completed"

	// StatusAbandoned indicates the range was given up without completing.
	StatusAbandoned Status = "abandoned"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
// A range reaches a terminal state exactly once and is then excluded
// from future scheduling.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Range is a contiguous sub-interval [Start, End) of the keyspace with
// its own priority and lifecycle state.
type Range struct {
	// ID uniquely identifies the range within a manifest.
	ID string `json:"id"`

	// Start is the inclusive lower bound.
	Start Key `json:"start"`

	// End is the exclusive upper bound. Start < End always.
	End Key `json:"end"`

	// Priority orders ranges for selection, 0 (lowest) to 100 (highest).
	Priority int `json:"priority"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// ParentID back-references the range this one was split from.
	ParentID string `json:"parent_id,omitempty"`

	// Label is a human-readable description ("ML core band", "GPU 1").
	Label string `json:"label,omitempty"`

	// CreatedAt is when the range was generated.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the structural invariants of the range.
func (r Range) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("range id must not be empty")
	}
	if r.Start.Cmp(r.End) >= 0 {
		return errors.NewValidationError("range start must be below its end").
			WithField("start").WithValue(r.Start.String())
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.NewValidationError("priority must be within [0,100]").
			WithField("priority").WithValue(r.Priority)
	}
	return nil
}

// Width returns End - Start, the number of keys the range covers.
func (r Range) Width() Key {
	return r.End.Sub(r.Start)
}

// Contains reports whether the key lies within [Start, End).
func (r Range) Contains(k Key) bool {
	return r.Start.Cmp(k) <= 0 && k.Cmp(r.End) < 0
}

// Overlaps reports whether the two half-open intervals intersect.
func (r Range) Overlaps(other Range) bool {
	return r.Start.Cmp(other.End) < 0 && other.Start.Cmp(r.End) < 0
}

// Keyspace renders the range in the start:end hex form the search
// executables accept.
func (r Range) Keyspace() string {
	return r.Start.Hex() + ":" + r.End.Hex()
}

// Split partitions the range into n contiguous children whose union is
// exactly [Start, End). The first n-1 children have equal width and the
// last child absorbs the remainder of the integer division, so no key is
// dropped or duplicated. Children start pending with the given priority
// and carry a ParentID back-reference.
func (r Range) Split(n int, priority int) ([]Range, error) {
	if n < 1 {
		return nil, errors.NewValidationError("split count must be at least 1").
			WithField("count").WithValue(n)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	width := r.Width()
	step := width.DivInt(int64(n))
	if step.IsZero() {
		return nil, errors.NewValidationError("range too narrow to split").
			WithField("count").WithValue(n)
	}

	now := time.Now().UTC()
	children := make([]Range, 0, n)
	cursor := r.Start
	for i := 0; i < n; i++ {
		end := cursor.Add(step)
		if i == n-1 {
			end = r.End
		}
		children = append(children, Range{
			ID:        fmt.Sprintf("%s/%d", r.ID, i+1),
			Start:     cursor,
			End:       end,
			Priority:  priority,
			Status:    StatusPending,
			ParentID:  r.ID,
			Label:     fmt.Sprintf("%s split %d/%d", r.Label, i+1, n),
			CreatedAt: now,
		})
		cursor = end
	}
	return children, nil
}
