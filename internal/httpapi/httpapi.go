// Package httpapi implements the HTTP/Control Surface (spec §4.H): session
// CRUD, viewer HTML, transport upgrade/stream routes, the streaming
// transport's CORS-permissive input sink, health probes, and the root
// redirect.
//
// Grounded on the teacher's proxy.Server.Start mux-registration style
// (internal/proxy/server.go registers one handler per path on a plain
// net/http.ServeMux); CORS on the input sink is modeled on hashicorp/nomad's
// use of github.com/rs/cors.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/browserhive/remotebrowser/internal/errcode"
	"github.com/browserhive/remotebrowser/internal/health"
	"github.com/browserhive/remotebrowser/internal/intervention"
	"github.com/browserhive/remotebrowser/internal/protocol"
	"github.com/browserhive/remotebrowser/internal/rblog"
	"github.com/browserhive/remotebrowser/internal/session"
	"github.com/browserhive/remotebrowser/internal/transport"
)

// Descriptor is the session representation returned by the session CRUD
// endpoints (spec §4.H).
type Descriptor struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	WSURL        string            `json:"wsUrl"`
	StreamURL    string            `json:"streamUrl"`
	InputURL     string            `json:"inputUrl"`
	ViewerURL    string            `json:"viewerUrl"`
	Viewport     protocol.Viewport `json:"viewport"`
	CreatedAt    int64             `json:"createdAt"`
	ClientCount  int               `json:"clientCount"`
	LastActivity int64             `json:"lastActivity"`
	URL          string            `json:"url,omitempty"`
}

// Server wires the Session Registry, Transport Hub, and Intervention
// Coordinator into one net/http.ServeMux.
type Server struct {
	registry      *session.Registry
	hub           *transport.Hub
	interventions *intervention.Coordinator
	baseURL       string // scheme://host:port, no trailing slash
	log           rblog.Logger

	mux *http.ServeMux
}

// Options configures a new Server.
type Options struct {
	Registry      *session.Registry
	Hub           *transport.Hub
	Interventions *intervention.Coordinator
	BaseURL       string
	Log           rblog.Logger
}

// New builds the routed mux described by spec §4.H.
func New(opts Options) *Server {
	s := &Server{
		registry:      opts.Registry,
		hub:           opts.Hub,
		interventions: opts.Interventions,
		baseURL:       opts.BaseURL,
		log:           opts.Log,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the root http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("POST /api/sessions/{id}/interventions/{ivID}/complete", s.handleInterventionComplete)
	s.mux.HandleFunc("POST /api/sessions/{id}/interventions/{ivID}/cancel", s.handleInterventionCancel)

	s.mux.HandleFunc("GET /sessions/{id}/viewer", s.handleViewer)
	s.mux.HandleFunc("GET /sessions/{id}/ws", s.handleWS)
	s.mux.HandleFunc("GET /sessions/{id}/stream", s.handleStream)

	inputCORS := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Client-Id"},
	})
	s.mux.Handle("/sessions/{id}/input", inputCORS.Handler(http.HandlerFunc(s.handleInput)))

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /healthz", s.handleLive)
	s.mux.HandleFunc("GET /livez", s.handleLive)
	s.mux.HandleFunc("GET /readyz", s.handleReady)

	s.mux.HandleFunc("GET /{$}", s.handleRoot)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (s *Server) toDescriptor(sess *session.Session) Descriptor {
	id := sess.ID
	vp := sess.Viewport()
	return Descriptor{
		ID:           id,
		Status:       sess.State().String(),
		WSURL:        s.wsURL(id),
		StreamURL:    s.httpURL("/sessions/" + id + "/stream"),
		InputURL:     s.httpURL("/sessions/" + id + "/input"),
		ViewerURL:    s.httpURL("/sessions/" + id + "/viewer"),
		Viewport:     vp,
		CreatedAt:    sess.CreatedAt().UnixMilli(),
		ClientCount:  sess.ClientCount(),
		LastActivity: sess.LastActivity().UnixMilli(),
	}
}

func (s *Server) httpURL(path string) string { return s.baseURL + path }

func (s *Server) wsURL(id string) string {
	u := s.baseURL + "/sessions/" + id + "/ws"
	switch {
	case len(u) >= 5 && u[:5] == "https":
		return "wss" + u[5:]
	case len(u) >= 4 && u[:4] == "http":
		return "ws" + u[4:]
	default:
		return u
	}
}

// ---- session CRUD ----

type createSessionRequest struct {
	Viewport   *protocol.Viewport `json:"viewport"`
	Profile    string             `json:"profile"`
	InitialURL string             `json:"initialUrl"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body -> zero-value request, all fields optional
	}

	opts := session.CreateOptions{InitialURL: req.InitialURL}
	if req.Viewport != nil {
		opts.Width = req.Viewport.Width
		opts.Height = req.Viewport.Height
	}

	sess, err := s.registry.CreateSession(opts)
	if err != nil {
		if cerr, ok := err.(*errcode.Error); ok && cerr.Code == errcode.SessionLimitReached {
			writeError(w, http.StatusTooManyRequests, cerr.Code, cerr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, errcode.SessionCreationFailed, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, s.toDescriptor(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.ListSessions()
	descriptors := make([]Descriptor, 0, len(sessions))
	for _, sess := range sessions {
		descriptors = append(descriptors, s.toDescriptor(sess))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": descriptors,
		"count":    len(descriptors),
		"cap":      s.registry.MaxSessions(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.registry.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, errcode.SessionNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s.toDescriptor(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.HasSession(id) {
		writeError(w, http.StatusNotFound, errcode.SessionNotFound, "session not found")
		return
	}
	s.registry.DestroySession(id)
	w.WriteHeader(http.StatusNoContent)
}

// ---- interventions: operator-facing completion endpoint (spec §4.F/§8
// scenario 6: "the operator hits the completion endpoint") ----

func (s *Server) handleInterventionComplete(w http.ResponseWriter, r *http.Request) {
	ivID := r.PathValue("ivID")
	if !s.interventions.Complete(ivID) {
		writeError(w, http.StatusNotFound, errcode.CommandFailed, "no pending intervention with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleInterventionCancel(w http.ResponseWriter, r *http.Request) {
	ivID := r.PathValue("ivID")
	if !s.interventions.Cancel(ivID) {
		writeError(w, http.StatusNotFound, errcode.CommandFailed, "no pending intervention with that id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- transports ----

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, r.PathValue("id"))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeStream(w, r, r.PathValue("id"))
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	clientID := r.Header.Get("X-Client-Id")
	if clientID == "" {
		clientID = r.URL.Query().Get("clientId")
	}
	s.hub.ServeCommand(w, r, r.PathValue("id"), clientID)
}

// ---- viewer ----

const viewerPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>remotebrowser viewer</title></head>
<body>
<canvas id="frame"></canvas>
<script>
(function() {
  var sessionID = %q;
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var ws = new WebSocket(proto + "//" + location.host + "/sessions/" + sessionID + "/ws");
  var canvas = document.getElementById("frame");
  var ctx = canvas.getContext("2d");
  ws.onmessage = function(evt) {
    var msg = JSON.parse(evt.data);
    if (msg.type === "frame") {
      var img = new Image();
      img.onload = function() {
        canvas.width = img.width;
        canvas.height = img.height;
        ctx.drawImage(img, 0, 0);
      };
      img.src = "data:image/" + msg.format + ";base64," + msg.data;
    }
  };
  canvas.addEventListener("click", function(evt) {
    var rect = canvas.getBoundingClientRect();
    ws.send(JSON.stringify({
      type: "input", device: "mouse", action: "click",
      x: evt.clientX - rect.left, y: evt.clientY - rect.top,
      button: "left",
      clientViewport: {width: rect.width, height: rect.height},
      browserViewport: {width: canvas.width, height: canvas.height}
    }));
  });
})();
</script>
</body>
</html>`

// handleViewer serves a minimal static viewer page bound to one session. The
// full viewer is an out-of-scope collaborator (spec §1); this is just enough
// to drive the wire protocol end to end.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.HasSession(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, viewerPage, id)
}

// ---- health ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health.Check(s.registry))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ---- root ----

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.ListSessions()
	if len(sessions) > 0 {
		http.Redirect(w, r, "/sessions/"+sessions[0].ID+"/viewer", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "remotebrowser",
		"sessions":  0,
		"createUrl": s.httpURL("/api/sessions"),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
