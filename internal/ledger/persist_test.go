package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/keyspace"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := testLedger(t)
	_, err := l.Update("gpu-0", keyspace.NewKey(0x800), 1e9)
	require.NoError(t, err)
	require.NoError(t, l.Complete("gpu-1", false))

	require.NoError(t, l.Save(dir))
	assert.True(t, Exists(dir))

	back, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, l.Len(), back.Len())

	rec, err := back.Get("gpu-0")
	require.NoError(t, err)
	assert.Equal(t, "2048", rec.SearchedKeys.String())
	assert.Equal(t, 12.5, rec.PercentComplete)

	rec, err = back.Get("gpu-1")
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusCompleted, rec.Range.Status)

	// Insertion order survives the round trip.
	snap := back.Snapshot()
	assert.Equal(t, "gpu-0", snap[0].RangeID())

	// History survives too.
	require.Len(t, back.History(), 1)
}

func TestBigIntegersPersistAsDecimalStrings(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.AddRange(keyspace.Range{
		ID: "wide", Start: keyspace.Key{}, End: keyspace.PowerOfTwo(69), Priority: 50,
	}))
	require.NoError(t, l.Save(dir))

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"590295810358705651712"`),
		"2^69 must be serialized as a decimal string")

	back, err := Load(dir)
	require.NoError(t, err)
	rec, err := back.Get("wide")
	require.NoError(t, err)
	assert.Zero(t, rec.TotalKeys.Cmp(keyspace.PowerOfTwo(69)))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	var nf *errors.NotFoundError
	require.True(t, errors.As(err, &nf), "missing ledger is a not-found, not corruption")
}

func TestLoadCorruptFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLedgerCorrupted))
}

func TestLoadInconsistentStateIsFatal(t *testing.T) {
	dir := t.TempDir()

	// Valid JSON whose order references a range that has no record.
	state := `{"records":{},"order":["ghost"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(state), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrLedgerCorrupted))
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	l := testLedger(t)
	require.NoError(t, l.Save(dir))

	// No temp residue after a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestMutateSerializesClaims(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.AddRange(keyspace.Range{
		ID:     "solo",
		Start:  keyspace.NewKey(0x1000),
		End:    keyspace.NewKey(0x2000),
		Status: keyspace.StatusPending, Priority: 90,
	}))
	require.NoError(t, l.Save(dir))

	// Every transaction reloads the state file under the lock, so only
	// one of the concurrent claimants can observe the range pending.
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Mutate(dir, func(l *Ledger) error {
				_, err := l.Claim("solo")
				return err
			})
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	back, err := Load(dir)
	require.NoError(t, err)
	rec, err := back.Get("solo")
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusActive, rec.Range.Status)
}

func TestMutateDiscardsOnError(t *testing.T) {
	dir := t.TempDir()
	l := New()
	require.NoError(t, l.AddRange(keyspace.Range{
		ID:     "solo",
		Start:  keyspace.NewKey(0x1000),
		End:    keyspace.NewKey(0x2000),
		Status: keyspace.StatusPending, Priority: 90,
	}))
	require.NoError(t, l.Save(dir))

	boom := errors.New("downstream write failed")
	_, err := Mutate(dir, func(l *Ledger) error {
		if _, cerr := l.Claim("solo"); cerr != nil {
			return cerr
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	back, err := Load(dir)
	require.NoError(t, err)
	rec, err := back.Get("solo")
	require.NoError(t, err)
	assert.Equal(t, keyspace.StatusPending, rec.Range.Status,
		"a failed transaction must not persist the claim")
}
