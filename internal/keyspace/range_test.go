package keyspace

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRange(t *testing.T, id, start, end string) Range {
	t.Helper()
	return Range{
		ID:        id,
		Start:     MustParseKey(start),
		End:       MustParseKey(end),
		Priority:  50,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRangeValidate(t *testing.T) {
	tests := []struct {
		name    string
		r       Range
		wantErr bool
	}{
		{name: "valid", r: makeRange(t, "a", "0x1000", "0x2000")},
		{name: "empty id", r: makeRange(t, "", "0x1000", "0x2000"), wantErr: true},
		{name: "start equals end", r: makeRange(t, "a", "0x1000", "0x1000"), wantErr: true},
		{name: "start above end", r: makeRange(t, "a", "0x2000", "0x1000"), wantErr: true},
		{
			name: "priority out of bounds",
			r: Range{
				ID: "a", Start: NewKey(0), End: NewKey(10), Priority: 101,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRangeWidthAndContains(t *testing.T) {
	r := makeRange(t, "a", "0x1000", "0x2000")

	assert.Equal(t, "4096", r.Width().String())
	assert.True(t, r.Contains(MustParseKey("0x1000")))
	assert.True(t, r.Contains(MustParseKey("0x1FFF")))
	assert.False(t, r.Contains(MustParseKey("0x2000")), "end is exclusive")
	assert.False(t, r.Contains(MustParseKey("0xFFF")))
}

func TestRangeOverlaps(t *testing.T) {
	a := makeRange(t, "a", "0x1000", "0x2000")

	assert.True(t, a.Overlaps(makeRange(t, "b", "0x1800", "0x2800")))
	assert.True(t, a.Overlaps(makeRange(t, "b", "0x0000", "0x1001")))
	assert.True(t, a.Overlaps(a))
	assert.False(t, a.Overlaps(makeRange(t, "b", "0x2000", "0x3000")), "touching ranges do not overlap")
	assert.False(t, a.Overlaps(makeRange(t, "b", "0x0100", "0x1000")))
}

func TestRangeKeyspace(t *testing.T) {
	r := makeRange(t, "a", "0x1000", "0x2000")
	assert.Equal(t, "1000:2000", r.Keyspace())
}

func TestSplitPartitionsExactly(t *testing.T) {
	// Width 2^69+7 does not divide evenly; the last child must absorb
	// the remainder so the union is exact.
	start := PowerOfTwo(70)
	end := start.Add(PowerOfTwo(69)).Add(NewKey(7))
	r := Range{ID: "core", Start: start, End: end, Priority: 90, Status: StatusActive, Label: "core"}

	for _, n := range []int{1, 2, 3, 7, 16} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			children, err := r.Split(n, 85)
			require.NoError(t, err)
			require.Len(t, children, n)

			// Contiguous, disjoint, exact union.
			assert.Zero(t, children[0].Start.Cmp(r.Start))
			assert.Zero(t, children[n-1].End.Cmp(r.End))
			total := Key{}
			for i, c := range children {
				require.NoError(t, c.Validate())
				assert.Equal(t, StatusPending, c.Status)
				assert.Equal(t, r.ID, c.ParentID)
				assert.Equal(t, 85, c.Priority)
				if i > 0 {
					assert.Zero(t, c.Start.Cmp(children[i-1].End), "child %d not contiguous", i)
				}
				total = total.Add(c.Width())
			}
			assert.Zero(t, total.Cmp(r.Width()))
		})
	}
}

func TestSplitRejectsBadCount(t *testing.T) {
	r := makeRange(t, "a", "0x1000", "0x2000")
	_, err := r.Split(0, 50)
	require.Error(t, err)
	_, err = r.Split(-2, 50)
	require.Error(t, err)
}

func TestSplitRejectsTooNarrow(t *testing.T) {
	r := Range{ID: "tiny", Start: NewKey(0), End: NewKey(3), Priority: 10}
	_, err := r.Split(5, 10)
	require.Error(t, err)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusAbandoned.IsTerminal())
}
