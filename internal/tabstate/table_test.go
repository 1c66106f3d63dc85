package tabstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faultline/faultline/internal/model"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func TestTable_ActionsArePerContext(t *testing.T) {
	tab := NewTable(10)
	tab.RecordAction(1, model.ActionRecord{Type: model.ActionClick, Label: "one"}, t0)
	tab.RecordAction(2, model.ActionRecord{Type: model.ActionClick, Label: "two"}, t0)

	require.Len(t, tab.RecentActions(1, 5), 1)
	assert.Equal(t, "one", tab.RecentActions(1, 5)[0].Label)
	assert.Equal(t, "two", tab.RecentActions(2, 5)[0].Label)
	assert.Empty(t, tab.RecentActions(3, 5))
}

func TestTable_CloseDiscardsBufferAndFlag(t *testing.T) {
	tab := NewTable(10)
	tab.RecordAction(4, model.ActionRecord{Type: model.ActionKey, Label: "Enter"}, t0)
	tab.MarkCaptureReady(4, t0)
	require.True(t, tab.CaptureReady(4))

	tab.Close(4, t0.Add(time.Second))

	assert.Empty(t, tab.RecentActions(4, 5))
	assert.False(t, tab.CaptureReady(4))
	closedAt, ok := tab.ClosedAt(4)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), closedAt)
}

func TestTable_ClosesOnce(t *testing.T) {
	tab := NewTable(10)
	tab.Close(5, t0)
	tab.Close(5, t0.Add(time.Minute))

	closedAt, _ := tab.ClosedAt(5)
	assert.Equal(t, t0, closedAt)
}

func TestTable_PruneClosed(t *testing.T) {
	tab := NewTable(10)
	ttl := 5 * time.Minute
	tab.Close(1, t0)
	tab.Close(2, t0.Add(time.Minute))
	tab.MarkCaptureReady(3, t0)

	assert.Zero(t, tab.PruneClosed(t0.Add(ttl), ttl), "exactly at ttl is kept")
	assert.Equal(t, 1, tab.PruneClosed(t0.Add(ttl+time.Millisecond), ttl))

	_, ok := tab.ClosedAt(1)
	assert.False(t, ok)
	_, ok = tab.ClosedAt(2)
	assert.True(t, ok)
	assert.True(t, tab.CaptureReady(3), "open contexts are never pruned")
	assert.Len(t, tab.Closed(), 1)
}

func TestTable_SnapshotActions(t *testing.T) {
	tab := NewTable(10)
	for i := 1; i <= 4; i++ {
		id := model.ContextID(i)
		for j := 0; j < 7; j++ {
			tab.RecordAction(id, model.ActionRecord{Type: model.ActionClick, Label: "x"}, t0.Add(time.Duration(i)*time.Second))
		}
	}
	tab.Close(4, t0.Add(time.Hour))

	snap := tab.SnapshotActions(2, 5)
	require.Len(t, snap, 2)
	assert.Contains(t, snap, "3")
	assert.Contains(t, snap, "2")
	assert.Len(t, snap["3"], 5)
}

func TestTable_ActiveContext(t *testing.T) {
	tab := NewTable(10)
	_, ok := tab.Active()
	assert.False(t, ok)

	tab.SetActive(3, t0)
	tab.SetActive(4, t0)
	id, ok := tab.Active()
	require.True(t, ok)
	assert.Equal(t, model.ContextID(4), id)

	tab.Close(3, t0)
	_, ok = tab.Active()
	assert.True(t, ok, "closing another context keeps the active one")

	tab.Close(4, t0)
	_, ok = tab.Active()
	assert.False(t, ok)
}
