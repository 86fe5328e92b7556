package pool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeCreatesIdentity(t *testing.T) {
	dir := t.TempDir()

	id, err := Initialize(dir, "", "default", 60)
	require.NoError(t, err)
	assert.NotEmpty(t, id.ClientID)
	assert.Equal(t, "default", id.ScanType)
	assert.Equal(t, 60, id.ReportIntervalSeconds)
	assert.False(t, id.CreatedAt.IsZero())

	_, err = os.Stat(filepath.Join(dir, identityFileName))
	require.NoError(t, err)
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := Initialize(dir, "", "default", 60)
	require.NoError(t, err)

	// A second run keeps the generated client id, even with a different
	// id supplied, and picks up the new report interval.
	second, err := Initialize(dir, "other-client", "random", 30)
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, second.ClientID)
	assert.Equal(t, first.ScanType, second.ScanType)
	assert.Equal(t, 30, second.ReportIntervalSeconds)
}

func TestInitializeHonorsConfiguredClientID(t *testing.T) {
	id, err := Initialize(t.TempDir(), "rig-42", "default", 60)
	require.NoError(t, err)
	assert.Equal(t, "rig-42", id.ClientID)
}

func TestInitializeCorruptFileFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, identityFileName), []byte("{not json"), 0644))

	_, err := Initialize(dir, "", "default", 60)
	require.Error(t, err)
}
