package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserhive/remotebrowser/internal/errcode"
	"github.com/browserhive/remotebrowser/internal/protocol"
)

func TestEnqueueTimeoutUsesLongWindowForIntervention(t *testing.T) {
	assert.Equal(t, interventionTimeout, enqueueTimeout(protocol.MethodRequestIntervention))
	assert.Equal(t, time.Duration(0), enqueueTimeout(protocol.MethodNavigate))
}

func TestBuildResultSuccess(t *testing.T) {
	m := buildResult("cmd-1", true, map[string]interface{}{"x": 1}, nil)
	assert.Equal(t, "cmd-1", m.ID)
	assert.True(t, m.OK)
	assert.Nil(t, m.Error)
	assert.NotNil(t, m.Result)
}

func TestBuildResultFailure(t *testing.T) {
	cerr := errcode.New(errcode.SelectorError, "not found")
	m := buildResult("cmd-2", false, nil, cerr)
	assert.False(t, m.OK)
	require.NotNil(t, m.Error)
	assert.Equal(t, cerr.Code, m.Error.Code)
}

func TestWSClientOfferFrameDropsOldestWhenFull(t *testing.T) {
	c := &wsClient{frameCh: make(chan []byte, 1)}
	c.offerFrame([]byte("first"))
	c.offerFrame([]byte("second"))

	select {
	case got := <-c.frameCh:
		assert.Equal(t, "second", string(got))
	default:
		t.Fatal("expected a buffered frame")
	}
}

func TestStreamClientOfferFrameDropsOldestWhenFull(t *testing.T) {
	c := &streamClient{frameCh: make(chan []byte, 1)}
	c.offerFrame([]byte("first"))
	c.offerFrame([]byte("second"))

	select {
	case got := <-c.frameCh:
		assert.Equal(t, "second", string(got))
	default:
		t.Fatal("expected a buffered frame")
	}
}

func TestStreamClientSendEventDoesNotDropWithinCapacity(t *testing.T) {
	c := &streamClient{eventCh: make(chan []byte, 2)}
	c.sendEvent([]byte("a"))
	c.sendEvent([]byte("b"))

	assert.Equal(t, "a", string(<-c.eventCh))
	assert.Equal(t, "b", string(<-c.eventCh))
}

func TestMustSerializeRoundTrips(t *testing.T) {
	b := mustSerialize(&protocol.PongMessage{T: 42})
	assert.Contains(t, string(b), `"type":"pong"`)
	assert.Contains(t, string(b), `"t":42`)
}

func TestStreamClientByIDFindsRegisteredClient(t *testing.T) {
	h := &Hub{streamClients: make(map[string]map[string]*streamClient)}
	sc := &streamClient{id: "client-1", sessionID: "sess-1", eventCh: make(chan []byte, 1)}
	h.registerStream("sess-1", sc)

	got, ok := h.streamClientByID("sess-1", "client-1")
	require.True(t, ok)
	assert.Same(t, sc, got)

	_, ok = h.streamClientByID("sess-1", "no-such-client")
	assert.False(t, ok)
}
