package journal

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind classifies journal entries.
type EventKind string

const (
	KindEntry          EventKind = "entry"
	KindProtection     EventKind = "protection"
	KindRatchet        EventKind = "ratchet"
	KindEmergencyClose EventKind = "emergency_close"
	KindKillSwitch     EventKind = "kill_switch"
	KindRejection      EventKind = "rejection"
)

// Event is one black-box journal entry. Events are append-only; nothing in
// the core reads them back except the session report.
type Event struct {
	ID     string
	Time   time.Time
	Symbol string
	Kind   EventKind
	Detail string
}

// ReplaceIntent is the durable record written before a cancel-then-place
// stop replacement. A restarted guardian uses pending intents to detect a
// crash inside the replacement window and re-protect immediately.
type ReplaceIntent struct {
	Symbol     string
	OldOrderID string
	NewStop    float64
	Created    time.Time
}

// Recorder is the trade journal consumed by the executor and guardian.
type Recorder interface {
	Record(e Event) error

	// Stop-replacement intent lifecycle: begin before the cancel, finish
	// after the new stop is confirmed live.
	BeginStopReplace(intent ReplaceIntent) error
	FinishStopReplace(symbol string) error
	PendingStopReplaces() ([]ReplaceIntent, error)

	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a ULID: sortable by creation time, unique within the
// process. Also used for order link IDs so fills can be matched back to
// journal entries.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewEvent builds an event stamped with a fresh ID and the current time.
func NewEvent(symbol string, kind EventKind, detail string) Event {
	return Event{
		ID:     NewID(),
		Time:   time.Now(),
		Symbol: symbol,
		Kind:   kind,
		Detail: detail,
	}
}

// NopRecorder discards everything. Used when the journal is disabled and in
// tests that don't assert on journal contents.
type NopRecorder struct{}

func (NopRecorder) Record(Event) error                           { return nil }
func (NopRecorder) BeginStopReplace(ReplaceIntent) error         { return nil }
func (NopRecorder) FinishStopReplace(string) error               { return nil }
func (NopRecorder) PendingStopReplaces() ([]ReplaceIntent, error) { return nil, nil }
func (NopRecorder) Close() error                                 { return nil }
