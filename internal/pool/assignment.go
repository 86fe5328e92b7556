// Package pool coordinates search participants over a shared ledger: it
// claims ranges atomically, relays heartbeat progress, expires silent
// assignments, and talks to an optional remote pool server.
package pool

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bitrange/rangepool/internal/errors"
	"github.com/bitrange/rangepool/internal/keyspace"
)

// State is an assignment lifecycle state.
type State string

const (
	// StateRequested is the transient state while a claim is in flight.
	StateRequested State = "requested"
	// StateAssigned means the range is claimed but no progress has been
	// reported yet.
	StateAssigned State = "assigned"
	// StateReporting means at least one progress report has landed.
	StateReporting State = "reporting"
	// StateCompleted is terminal: the range was searched to the end or the
	// target was found inside it.
	StateCompleted State = "completed"
	// StateAbandoned is terminal: the participant released the range.
	StateAbandoned State = "abandoned"
	// StateExpired is terminal: the assignment went silent past the grace
	// window and was reclaimed.
	StateExpired State = "expired"
)

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAbandoned || s == StateExpired
}

// validTransitions maps each state to the states reachable from it.
// Terminal states have no entries.
var validTransitions = map[State][]State{
	StateRequested: {StateAssigned, StateAbandoned},
	StateAssigned:  {StateReporting, StateCompleted, StateAbandoned, StateExpired},
	StateReporting: {StateReporting, StateCompleted, StateAbandoned, StateExpired},
}

// Assignment binds one participant to one range for the duration of a
// search pass.
type Assignment struct {
	ID         string         `json:"id"`
	RangeID    string         `json:"range_id"`
	ClientID   string         `json:"client_id"`
	Range      keyspace.Range `json:"range"`
	State      State          `json:"state"`
	ClaimedAt  time.Time      `json:"claimed_at"`
	LastReport time.Time      `json:"last_report"`
}

// transition moves the assignment to next, rejecting moves the state
// machine does not allow.
func (a *Assignment) transition(next State) error {
	for _, allowed := range validTransitions[a.State] {
		if next == allowed {
			a.State = next
			return nil
		}
	}
	return errors.NewInvalidStateError("assignment", a.ID, string(a.State), "transition to "+string(next))
}

// newID returns a random assignment identifier.
func newID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("asg-%d", time.Now().UnixNano())
	}
	return "asg-" + hex.EncodeToString(b[:])
}
