package intervention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRejectsSecondPendingForSameSession(t *testing.T) {
	c := New()
	_, err := c.Create(CreateParams{SessionID: "s1", InterventionID: "iv1", CommandID: "cmd1"})
	require.NoError(t, err)

	_, err = c.Create(CreateParams{SessionID: "s1", InterventionID: "iv2", CommandID: "cmd2"})
	assert.Error(t, err)
}

func TestCompleteUnparksWaiterAndStampsResolvedAt(t *testing.T) {
	c := New()
	iv, err := c.Create(CreateParams{SessionID: "s1", InterventionID: "iv1", CommandID: "cmd1"})
	require.NoError(t, err)

	ok := c.Complete("iv1")
	assert.True(t, ok)

	select {
	case <-iv.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done() to be closed")
	}
	assert.Equal(t, Completed, iv.Status)
	assert.False(t, iv.ResolvedAt.IsZero())

	// Session slot freed: a new intervention can now be created for it.
	_, err = c.Create(CreateParams{SessionID: "s1", InterventionID: "iv2", CommandID: "cmd2"})
	assert.NoError(t, err)
}

func TestCompleteIsNoOpWhenNotPending(t *testing.T) {
	c := New()
	_, err := c.Create(CreateParams{SessionID: "s1", InterventionID: "iv1", CommandID: "cmd1"})
	require.NoError(t, err)
	require.True(t, c.Complete("iv1"))

	assert.False(t, c.Complete("iv1"))
	assert.False(t, c.Complete("does-not-exist"))
}

func TestCancelBySessionCancelsActiveIntervention(t *testing.T) {
	c := New()
	iv, err := c.Create(CreateParams{SessionID: "s1", InterventionID: "iv1", CommandID: "cmd1"})
	require.NoError(t, err)

	c.CancelBySession("s1")

	assert.Equal(t, Cancelled, iv.Status)
	select {
	case <-iv.Done():
	default:
		t.Fatal("expected Done() to be closed after cancel")
	}
}

func TestCancelBySessionWithNoPendingIsNoOp(t *testing.T) {
	c := New()
	assert.NotPanics(t, func() { c.CancelBySession("no-such-session") })
}

func TestListPendingOnlyReturnsPending(t *testing.T) {
	c := New()
	_, _ = c.Create(CreateParams{SessionID: "s1", InterventionID: "iv1", CommandID: "cmd1"})
	_, _ = c.Create(CreateParams{SessionID: "s2", InterventionID: "iv2", CommandID: "cmd2"})
	c.Complete("iv1")

	pending := c.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "iv2", pending[0].ID)
}

func TestCleanupOldRemovesOnlyOldResolved(t *testing.T) {
	c := New()
	iv, _ := c.Create(CreateParams{SessionID: "s1", InterventionID: "iv1", CommandID: "cmd1"})
	c.Complete("iv1")
	iv.ResolvedAt = time.Now().Add(-time.Hour)
	c.byID["iv1"] = iv

	_, _ = c.Create(CreateParams{SessionID: "s2", InterventionID: "iv2", CommandID: "cmd2"})

	c.CleanupOld(time.Minute)

	_, ok := c.Get("iv1")
	assert.False(t, ok, "old resolved intervention should be cleaned up")

	_, ok = c.Get("iv2")
	assert.True(t, ok, "pending intervention should never be cleaned up")
}
