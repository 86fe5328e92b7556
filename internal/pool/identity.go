package pool

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const identityFileName = "identity.json"

// Identity is this participant's durable pool identity. Created once and
// reused across runs so the remote pool can track contribution.
type Identity struct {
	ClientID              string    `json:"client_id"`
	ScanType              string    `json:"scan_type"`
	ReportIntervalSeconds int       `json:"report_interval_seconds"`
	CreatedAt             time.Time `json:"created_at"`
}

// Initialize returns the identity stored under dir, creating and
// persisting one on first run. Idempotent: an existing identity wins
// over the supplied defaults, except the report interval which follows
// current configuration.
func Initialize(dir, clientID, scanType string, reportIntervalSeconds int) (Identity, error) {
	path := filepath.Join(dir, identityFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		var id Identity
		if jsonErr := json.Unmarshal(data, &id); jsonErr != nil {
			return Identity{}, fmt.Errorf("failed to parse identity file %s: %w", path, jsonErr)
		}
		id.ReportIntervalSeconds = reportIntervalSeconds
		return id, nil
	}
	if !os.IsNotExist(err) {
		return Identity{}, fmt.Errorf("failed to read identity file: %w", err)
	}

	if clientID == "" {
		clientID = generateClientID()
	}
	id := Identity{
		ClientID:              clientID,
		ScanType:              scanType,
		ReportIntervalSeconds: reportIntervalSeconds,
		CreatedAt:             time.Now().UTC(),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Identity{}, fmt.Errorf("failed to create data directory: %w", err)
	}
	out, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return Identity{}, fmt.Errorf("failed to marshal identity: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return Identity{}, fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Identity{}, fmt.Errorf("failed to finalize identity file: %w", err)
	}
	return id, nil
}

func generateClientID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("client-%d", time.Now().UnixNano())
	}
	return "client-" + hex.EncodeToString(b[:])
}
