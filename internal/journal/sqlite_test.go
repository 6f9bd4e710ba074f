package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := OpenSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndQueryEvents(t *testing.T) {
	r := openTestJournal(t)

	require.NoError(t, r.Record(NewEvent("BTCUSDT", KindEntry, "entry filled at 50000")))
	require.NoError(t, r.Record(NewEvent("BTCUSDT", KindRatchet, "stop tightened to 50200")))
	require.NoError(t, r.Record(NewEvent("ETHUSDT", KindProtection, "emergency stop inserted")))

	all, err := r.Events("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	btc, err := r.Events("BTCUSDT")
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, KindEntry, btc[0].Kind)
	assert.Equal(t, KindRatchet, btc[1].Kind)
	assert.NotEmpty(t, btc[0].ID)
	assert.False(t, btc[0].Time.IsZero())
}

func TestReplaceIntentLifecycle(t *testing.T) {
	r := openTestJournal(t)

	pending, err := r.PendingStopReplaces()
	require.NoError(t, err)
	assert.Empty(t, pending)

	intent := ReplaceIntent{
		Symbol:     "BTCUSDT",
		OldOrderID: "stop-1",
		NewStop:    50200,
		Created:    time.Now(),
	}
	require.NoError(t, r.BeginStopReplace(intent))

	pending, err = r.PendingStopReplaces()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "BTCUSDT", pending[0].Symbol)
	assert.Equal(t, "stop-1", pending[0].OldOrderID)
	assert.Equal(t, 50200.0, pending[0].NewStop)

	require.NoError(t, r.FinishStopReplace("BTCUSDT"))

	pending, err = r.PendingStopReplaces()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReplaceIntentOverwritesStaleLeftover(t *testing.T) {
	r := openTestJournal(t)

	require.NoError(t, r.BeginStopReplace(ReplaceIntent{
		Symbol: "BTCUSDT", OldOrderID: "stop-1", NewStop: 50100, Created: time.Now(),
	}))
	require.NoError(t, r.BeginStopReplace(ReplaceIntent{
		Symbol: "BTCUSDT", OldOrderID: "stop-2", NewStop: 50300, Created: time.Now(),
	}))

	pending, err := r.PendingStopReplaces()
	require.NoError(t, err)
	require.Len(t, pending, 1, "one intent per symbol at most")
	assert.Equal(t, "stop-2", pending[0].OldOrderID)
	assert.Equal(t, 50300.0, pending[0].NewStop)
}

func TestIntentsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	r, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, r.BeginStopReplace(ReplaceIntent{
		Symbol: "BTCUSDT", OldOrderID: "stop-1", NewStop: 50200, Created: time.Now(),
	}))
	require.NoError(t, r.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.PendingStopReplaces()
	require.NoError(t, err)
	require.Len(t, pending, 1, "the crash-recovery record is durable")
	assert.Equal(t, 50200.0, pending[0].NewStop)
}

func TestFinishWithoutIntentIsHarmless(t *testing.T) {
	r := openTestJournal(t)
	assert.NoError(t, r.FinishStopReplace("BTCUSDT"))
}

func TestNewIDIsMonotonic(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b, "ids generated later sort later")
}
