// Package transport implements the two concrete client transports (spec
// §4.G): a WebSocket full-duplex socket, and a Server-Sent-Events push
// stream paired with an HTTP POST command/input sink. Both carry the same
// protocol.* message schema and fan out through a shared Hub that also
// implements session.Publisher.
//
// The WebSocket half is grounded on the teacher's internal/proxy/server.go
// (Server/ClientConn: gorilla/websocket, a sync.Map of clients, ping/pong
// keepalive extending a read deadline). The streaming half borrows the SSE
// framing and per-client drop-on-full fan-out from the two other_examples
// reference files named in DESIGN.md (a Browserless-style screencast
// handler's text/event-stream headers, and a remote-desktop hub's buffered
// per-client send channel).
package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/browserhive/remotebrowser/internal/debugchannel"
	"github.com/browserhive/remotebrowser/internal/errcode"
	"github.com/browserhive/remotebrowser/internal/inputmap"
	"github.com/browserhive/remotebrowser/internal/intervention"
	"github.com/browserhive/remotebrowser/internal/protocol"
	"github.com/browserhive/remotebrowser/internal/rblog"
	"github.com/browserhive/remotebrowser/internal/session"
)

const (
	maxMessageSize = 10 * 1024 * 1024
	readDeadline   = 300 * time.Second
	pingInterval   = 30 * time.Second

	// interventionTimeout is the Enqueue timeout used for
	// requestHumanIntervention commands: far longer than defaultTimeout
	// since this command legitimately waits on a human (spec §4.F/§8).
	interventionTimeout = 24 * time.Hour
)

// Hub owns every connected client (both transports), keyed by session, and
// fans frames/events out to them. It implements session.Publisher.
type Hub struct {
	registry      *session.Registry
	interventions *intervention.Coordinator
	log           rblog.Logger

	upgrader websocket.Upgrader

	mu            sync.Mutex
	wsClients     map[string]map[string]*wsClient
	streamClients map[string]map[string]*streamClient
}

// SetRegistry binds the Hub to a Session Registry. Exists to break the
// construction cycle between Registry (which needs a Publisher, and the Hub
// is one) and Hub (which needs the Registry to route by session id): build
// the Hub first with a nil registry, construct the Registry with the Hub as
// its Publisher, then call SetRegistry before serving any request.
func (h *Hub) SetRegistry(registry *session.Registry) { h.registry = registry }

// NewHub constructs a Hub bound to a session Registry and Intervention
// Coordinator. registry may be nil at construction time; see SetRegistry.
func NewHub(registry *session.Registry, interventions *intervention.Coordinator, log rblog.Logger) *Hub {
	return &Hub{
		registry:      registry,
		interventions: interventions,
		log:           log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		wsClients:     make(map[string]map[string]*wsClient),
		streamClients: make(map[string]map[string]*streamClient),
	}
}

func mustSerialize(msg interface{}) []byte {
	b, _ := protocol.Serialize(msg)
	return b
}

// ---- session.Publisher ----

// PublishFrame implements session.Publisher: walks the session's live
// socket set and streaming client set, forwarding the frame. Per spec
// §4.G back-pressure, a slow client has its frame dropped rather than
// queued.
func (h *Hub) PublishFrame(sessionID string, frame debugchannel.Frame) {
	payload := mustSerialize(&protocol.FrameMessage{
		Format:    frame.Format,
		Data:      frame.Data,
		Viewport:  frame.Viewport,
		Timestamp: frame.Timestamp.UnixMilli(),
	})

	h.mu.Lock()
	wsCs := snapshotWS(h.wsClients[sessionID])
	stCs := snapshotStream(h.streamClients[sessionID])
	h.mu.Unlock()

	for _, c := range wsCs {
		c.offerFrame(payload)
	}
	for _, c := range stCs {
		c.offerFrame(payload)
	}
}

// PublishEvent implements session.Publisher. Events are never dropped
// (spec §4.G): WebSocket clients get a direct synchronous write; streaming
// clients get a buffered channel send sized generously enough that a live
// client never overflows it.
func (h *Hub) PublishEvent(sessionID string, event debugchannel.Event) {
	payload := mustSerialize(&protocol.EventMessage{Name: event.Name, Data: event.Data})

	h.mu.Lock()
	wsCs := snapshotWS(h.wsClients[sessionID])
	stCs := snapshotStream(h.streamClients[sessionID])
	h.mu.Unlock()

	for _, c := range wsCs {
		c.sendDirect(payload)
	}
	for _, c := range stCs {
		c.sendEvent(payload)
	}
}

func snapshotWS(m map[string]*wsClient) []*wsClient {
	out := make([]*wsClient, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func snapshotStream(m map[string]*streamClient) []*streamClient {
	out := make([]*streamClient, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (h *Hub) registerWS(sessionID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wsClients[sessionID] == nil {
		h.wsClients[sessionID] = make(map[string]*wsClient)
	}
	h.wsClients[sessionID][c.id] = c
}

func (h *Hub) unregisterWS(sessionID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.wsClients[sessionID], clientID)
	if len(h.wsClients[sessionID]) == 0 {
		delete(h.wsClients, sessionID)
	}
}

func (h *Hub) registerStream(sessionID string, c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streamClients[sessionID] == nil {
		h.streamClients[sessionID] = make(map[string]*streamClient)
	}
	h.streamClients[sessionID][c.id] = c
}

func (h *Hub) unregisterStream(sessionID, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streamClients[sessionID], clientID)
	if len(h.streamClients[sessionID]) == 0 {
		delete(h.streamClients, sessionID)
	}
}

// buildResult turns a commandqueue.Result into the wire ResultMessage.
func buildResult(id string, ok bool, value interface{}, cerr *errcode.Error) *protocol.ResultMessage {
	m := &protocol.ResultMessage{ID: id, OK: ok}
	if ok {
		m.Result = value
	} else if cerr != nil {
		m.Error = &protocol.ResultError{Code: cerr.Code, Message: cerr.Message, Details: cerr.Details}
	}
	return m
}

func enqueueTimeout(method string) time.Duration {
	if method == protocol.MethodRequestIntervention {
		return interventionTimeout
	}
	return 0
}

func dispatchInput(sess *session.Session, m *protocol.InputMessage) {
	mods := inputmap.FlagsFromSet(inputmap.ModifierSet{
		Alt: m.Modifiers.Alt, Ctrl: m.Modifiers.Ctrl, Meta: m.Modifiers.Meta, Shift: m.Modifiers.Shift,
	})
	switch m.Device {
	case protocol.DeviceMouse:
		x, y := inputmap.MapPoint(m.X, m.Y,
			m.ClientViewport.Width, m.ClientViewport.Height,
			m.BrowserViewport.Width, m.BrowserViewport.Height)
		sess.Channel.DispatchMouse(m.Action, x, y, m.Button, mods, m.DeltaX, m.DeltaY)
	case protocol.DeviceKey:
		sess.Channel.DispatchKey(m.Action, m.Key, m.Text, mods)
	}
}

// ---- WebSocket transport ----

type wsClient struct {
	id        string
	sessionID string
	conn      *websocket.Conn

	writeMu sync.Mutex
	closed  bool

	frameCh  chan []byte
	stopPing chan struct{}

	log rblog.Logger
}

func (c *wsClient) sendDirect(payload []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Debug().Err(err).Msg("websocket write failed, client considered stale")
	}
}

// offerFrame drops the previous unsent frame rather than block (spec §4.G).
func (c *wsClient) offerFrame(payload []byte) {
	select {
	case c.frameCh <- payload:
		return
	default:
	}
	select {
	case <-c.frameCh:
	default:
	}
	select {
	case c.frameCh <- payload:
	default:
	}
}

func (c *wsClient) frameWriter() {
	for payload := range c.frameCh {
		c.sendDirect(payload)
	}
}

func (c *wsClient) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopPing:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			closed := c.closed
			if !closed {
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.writeMu.Unlock()
			if closed {
				return
			}
		}
	}
}

func (c *wsClient) close() {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return
	}
	c.closed = true
	c.writeMu.Unlock()

	close(c.stopPing)
	close(c.frameCh)
	_ = c.conn.Close()
}

// ServeWS upgrades the request to a WebSocket and runs the session-bound
// full-duplex transport loop for its lifetime.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := h.registry.GetSession(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := &wsClient{
		id:        uuid.NewString(),
		sessionID: sessionID,
		conn:      conn,
		frameCh:   make(chan []byte, 1),
		stopPing:  make(chan struct{}),
		log:       h.log.WithSession(sessionID).WithClient(uuid.NewString()),
	}

	h.registerWS(sessionID, c)
	h.registry.AddClient(sessionID, c.id)

	go c.frameWriter()
	go c.pingLoop()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	c.sendDirect(mustSerialize(&protocol.EventMessage{Name: protocol.EventReady, Data: sess.Viewport()}))
	if lf := sess.LastFrame(); lf != nil {
		c.sendDirect(mustSerialize(&protocol.FrameMessage{
			Format: lf.Format, Data: lf.Data, Viewport: lf.Viewport, Timestamp: lf.Timestamp.UnixMilli(),
		}))
	}

	defer func() {
		h.unregisterWS(sessionID, c.id)
		h.registry.RemoveClient(sessionID, c.id)
		c.close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Parse(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping malformed client message")
			continue
		}
		h.handleWSMessage(sess, c, msg)
	}
}

func (h *Hub) handleWSMessage(sess *session.Session, c *wsClient, msg interface{}) {
	switch m := msg.(type) {
	case *protocol.PingMessage:
		c.sendDirect(mustSerialize(&protocol.PongMessage{T: m.T}))

	case *protocol.InputMessage:
		h.registry.Touch(sess.ID)
		dispatchInput(sess, m)

	case *protocol.CmdMessage:
		h.registry.Touch(sess.ID)
		// Run off the read loop so a long-running command (or a parked
		// intervention) never stalls subsequent reads on this socket.
		go func() {
			res := sess.Queue.Enqueue(m.ID, m.Method, m.Params, enqueueTimeout(m.Method), func(out interface{}) {
				c.sendDirect(mustSerialize(out))
			})
			c.sendDirect(mustSerialize(buildResult(m.ID, res.Err == nil, res.Value, res.Err)))
			if res.Err == nil && m.Method == protocol.MethodSetViewport {
				// UpdateSessionScreencast already ran inside the queue's
				// onViewportChange hook; nothing further to do here.
				_ = res
			}
		}()

	default:
		c.sendDirect(mustSerialize(&protocol.ResultMessage{
			OK:    false,
			Error: &protocol.ResultError{Code: errcode.InvalidParams, Message: "unsupported message type"},
		}))
	}
}

// ---- Streaming (SSE) + HTTP POST transport ----

type streamClient struct {
	id        string
	sessionID string
	eventCh   chan []byte
	frameCh   chan []byte
}

func (c *streamClient) sendEvent(payload []byte) {
	// Buffered generously; events are low-volume (ready/navigated/console/
	// error/intervention envelopes), so this practically never blocks. A
	// truly dead client is reaped by the SSE loop's request-context check,
	// not by dropping here (spec §4.G: events are never dropped).
	c.eventCh <- payload
}

func (c *streamClient) offerFrame(payload []byte) {
	select {
	case c.frameCh <- payload:
		return
	default:
	}
	select {
	case <-c.frameCh:
	default:
	}
	select {
	case c.frameCh <- payload:
	default:
	}
}

// ServeStream runs the server-push half of the streaming transport: SSE
// frames/events out, for the life of the request.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, ok := h.registry.GetSession(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	c := &streamClient{
		id:        uuid.NewString(),
		sessionID: sessionID,
		eventCh:   make(chan []byte, 64),
		frameCh:   make(chan []byte, 1),
	}
	h.registerStream(sessionID, c)
	h.registry.AddClient(sessionID, c.id)
	defer func() {
		h.unregisterStream(sessionID, c.id)
		h.registry.RemoveClient(sessionID, c.id)
	}()

	write := func(payload []byte) bool {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Sentinel client-id event, then current viewport, then last frame.
	write(mustSerialize(&protocol.EventMessage{Name: "client", Data: map[string]string{"clientId": c.id}}))
	write(mustSerialize(&protocol.EventMessage{Name: protocol.EventReady, Data: sess.Viewport()}))
	if lf := sess.LastFrame(); lf != nil {
		write(mustSerialize(&protocol.FrameMessage{
			Format: lf.Format, Data: lf.Data, Viewport: lf.Viewport, Timestamp: lf.Timestamp.UnixMilli(),
		}))
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-c.eventCh:
			if !write(payload) {
				return
			}
		case payload := <-c.frameCh:
			if !write(payload) {
				return
			}
		}
	}
}

// streamClientByID looks up a registered streaming client by id, the
// counterpart of wsClient's implicit connection identity for the paired
// SSE+POST transport.
func (h *Hub) streamClientByID(sessionID, clientID string) (*streamClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.streamClients[sessionID][clientID]
	return c, ok
}

// ServeCommand is the paired HTTP POST endpoint for a streaming client's
// commands and input (spec §4.G). input is fire-and-forget; cmd blocks
// until the Command Queue resolves. clientID identifies which SSE
// connection (opened via ServeStream, whose sentinel "client" event carries
// this same id) this POST belongs to, so that out-of-band envelopes a
// command raises mid-flight — intervention_created/intervention_completed
// (spec §4.F) — are delivered down the right connection rather than
// dropped.
func (h *Hub) ServeCommand(w http.ResponseWriter, r *http.Request, sessionID, clientID string) {
	sess, ok := h.registry.GetSession(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, buildResult("", false, nil, errcode.New(errcode.SessionNotFound, "session not found")))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}

	msg, err := protocol.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch m := msg.(type) {
	case *protocol.InputMessage:
		h.registry.Touch(sess.ID)
		dispatchInput(sess, m)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	case *protocol.CmdMessage:
		h.registry.Touch(sess.ID)
		var notify func(interface{})
		if sc, ok := h.streamClientByID(sessionID, clientID); ok {
			notify = func(out interface{}) { sc.sendEvent(mustSerialize(out)) }
		} else {
			h.log.Warn().Str("session", sessionID).Str("client", clientID).
				Msg("command POST without a matching SSE connection; intervention envelopes would be undeliverable")
		}
		res := sess.Queue.Enqueue(m.ID, m.Method, m.Params, enqueueTimeout(m.Method), notify)
		writeJSON(w, http.StatusOK, buildResult(m.ID, res.Err == nil, res.Value, res.Err))

	default:
		http.Error(w, "unsupported message type for command endpoint", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
