package commandqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserhive/remotebrowser/internal/errcode"
	"github.com/browserhive/remotebrowser/internal/intervention"
	"github.com/browserhive/remotebrowser/internal/protocol"
)

func TestClassifyTimeout(t *testing.T) {
	q := &Queue{}
	for _, msg := range []string{
		"context deadline exceeded",
		"Timeout 30000ms exceeded",
		"waiting for selector failed",
		"strict mode violation: locator resolved to 2 elements",
	} {
		got := q.classify("click", errors.New(msg))
		assert.Equal(t, errcode.Timeout, got.Code, msg)
	}
}

func TestClassifyNavigationError(t *testing.T) {
	q := &Queue{}
	got := q.classify("navigate", errors.New("net::ERR_NAME_NOT_RESOLVED"))
	assert.Equal(t, errcode.NavigationError, got.Code)

	got = q.classify("navigate", errors.New("cannot navigate to invalid URL"))
	assert.Equal(t, errcode.NavigationError, got.Code)
}

func TestClassifySelectorErrorWithoutDuration(t *testing.T) {
	q := &Queue{}
	got := q.classify("click", errors.New("no such element: selector did not match any nodes"))
	assert.Equal(t, errcode.SelectorError, got.Code)
}

func TestClassifySelectorErrorReclassifiedAsTimeoutWithDuration(t *testing.T) {
	q := &Queue{}
	got := q.classify("click", errors.New("locator.click: element not visible after 30000ms"))
	assert.Equal(t, errcode.Timeout, got.Code)
}

func TestClassifyUnknownMethod(t *testing.T) {
	q := &Queue{}
	got := q.classify("bogus", errors.New(`unknown method "bogus"`))
	assert.Equal(t, errcode.UnknownMethod, got.Code)
}

func TestClassifyDefaultIsExecutionError(t *testing.T) {
	q := &Queue{}
	got := q.classify("evaluate", errors.New("something went sideways"))
	assert.Equal(t, errcode.ExecutionError, got.Code)
}

func TestContainsDuration(t *testing.T) {
	assert.True(t, containsDuration("failed after 30000ms exceeded"))
	assert.True(t, containsDuration("500ms"))
	assert.False(t, containsDuration("ms"))
	assert.False(t, containsDuration("this has no duration token"))
}

func TestParamHelpers(t *testing.T) {
	params := map[string]interface{}{
		"selector": "#a",
		"width":    float64(1024),
		"enabled":  true,
	}

	s, ok := stringParam(params, "selector")
	assert.True(t, ok)
	assert.Equal(t, "#a", s)

	_, ok = stringParam(params, "missing")
	assert.False(t, ok)

	w, ok := intParam(params, "width")
	assert.True(t, ok)
	assert.Equal(t, 1024, w)

	assert.True(t, boolParam(params, "enabled"))
	assert.False(t, boolParam(params, "missing"))
}

func TestQueueCloseCancelsPending(t *testing.T) {
	q := &Queue{
		cmds:   make(chan *Command, 8),
		stopCh: make(chan struct{}),
	}

	c := &Command{ID: "1", Method: "navigate", resultCh: make(chan Result, 1)}
	q.mu.Lock()
	q.pending = append(q.pending, c)
	q.mu.Unlock()

	q.Close()

	select {
	case res := <-c.resultCh:
		require.NotNil(t, res.Err)
		assert.Equal(t, errcode.Cancelled, res.Err.Code)
	case <-time.After(time.Second):
		t.Fatal("expected cancellation result")
	}
}

func TestExecRequestInterventionNotifiesCreatedThenCompleted(t *testing.T) {
	coord := intervention.New()
	q := &Queue{sessionID: "sess-1", coordinator: coord, viewerBaseURL: "http://localhost:3000"}

	var notified []interface{}
	cmd := &Command{
		ID:     "cmd-1",
		Params: map[string]interface{}{"reason": "captcha", "instructions": "solve it"},
		Notify: func(msg interface{}) { notified = append(notified, msg) },
	}

	done := make(chan struct{})
	var result interface{}
	var err error
	go func() {
		result, err = q.execRequestIntervention(context.Background(), cmd)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(coord.ListPending()) == 1 }, time.Second, 10*time.Millisecond)

	pending := coord.ListPending()[0]
	coord.Complete(pending.ID)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected execRequestIntervention to return after completion")
	}

	require.NoError(t, err)
	require.Len(t, notified, 2)
	created, ok := notified[0].(*protocol.InterventionCreatedMessage)
	require.True(t, ok)
	assert.Equal(t, "cmd-1", created.ID)
	completed, ok := notified[1].(*protocol.InterventionCompletedMessage)
	require.True(t, ok)
	assert.Equal(t, pending.ID, completed.InterventionID)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, pending.ID, m["interventionId"])
}

func TestExecRequestInterventionTimesOutWithContextDeadline(t *testing.T) {
	coord := intervention.New()
	q := &Queue{sessionID: "sess-2", coordinator: coord, viewerBaseURL: "http://localhost:3000"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cmd := &Command{ID: "cmd-2", Params: map[string]interface{}{"reason": "x"}}
	_, err := q.execRequestIntervention(ctx, cmd)

	require.Error(t, err)
	ce, ok := err.(*errcode.Error)
	require.True(t, ok)
	assert.Equal(t, errcode.Timeout, ce.Code)
}

func TestExecRequestInterventionWithoutCoordinatorIsUnknownMethod(t *testing.T) {
	q := &Queue{}
	_, err := q.execRequestIntervention(context.Background(), &Command{ID: "cmd-3", Method: "requestHumanIntervention"})
	require.Error(t, err)
	assert.Equal(t, errcode.UnknownMethod, q.classify("requestHumanIntervention", err).Code)
}

func TestQueueClearCancelsQueuedCommandsSynchronously(t *testing.T) {
	q := &Queue{
		cmds:   make(chan *Command, 8),
		stopCh: make(chan struct{}),
	}

	queued := &Command{ID: "queued", resultCh: make(chan Result, 1)}
	q.mu.Lock()
	q.pending = append(q.pending, queued)
	q.mu.Unlock()

	q.Clear()

	select {
	case res := <-queued.resultCh:
		require.NotNil(t, res.Err)
		assert.Equal(t, errcode.Cancelled, res.Err.Code)
	default:
		t.Fatal("expected queued command to be cancelled synchronously")
	}

	q.mu.Lock()
	assert.Empty(t, q.pending)
	q.mu.Unlock()
}
