/**
 * CONTEXT:   HTTP+SSE transport bridge exposing the RPC dispatcher to network clients
 * INPUT:     POST requests carrying a JSON-RPC envelope, with an X-Session-Id header for
 *            operations the outer MCP layer has already scoped to a session; GET /events
 *            for a long-lived Server-Sent Events stream
 * OUTPUT:    JSON-RPC responses over HTTP; `{method, params}` frames over SSE
 * BUSINESS:  Framing, routing, and transport concerns only - no debugger semantics cross
 *            this boundary, it only marshals what internal/rpc already decided
 * CHANGE:    Initial implementation
 * RISK:      Low - a transport bridge; the core behaves identically if this is swapped out
 */

package httpsse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/internal/rpc"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// Server wires gorilla/mux routes to an rpc.Handlers instance and to the notification
// bus for the SSE stream.
type Server struct {
	router   *mux.Router
	handlers *rpc.Handlers
	bus      *notify.Bus
	log      logger.Logger
}

func NewServer(handlers *rpc.Handlers, bus *notify.Bus, log logger.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		bus:      bus,
		log:      log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.Response{
			JSONRPC: "2.0",
			Error:   &rpc.Error{Code: rpc.CodeInvalidRequest, Message: "malformed JSON: " + err.Error()},
		})
		return
	}

	// X-Session-Id is a convenience for clients that already scoped the request to a
	// session; it only fills in a missing sessionId field, it never overrides one the
	// caller supplied in params.
	if sid := r.Header.Get("X-Session-Id"); sid != "" {
		req.Params = injectSessionID(req.Params, sid)
	}

	resp := s.handlers.Dispatch(req)
	writeJSON(w, http.StatusOK, resp)
}

func injectSessionID(params json.RawMessage, sessionID string) json.RawMessage {
	var m map[string]interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &m); err != nil {
			return params
		}
	} else {
		m = make(map[string]interface{})
	}
	if _, exists := m["sessionId"]; !exists {
		m["sessionId"] = sessionID
	}
	out, err := json.Marshal(m)
	if err != nil {
		return params
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleEvents streams every notification published on the bus to this connection
// until the client disconnects. One goroutine per connection; delivery is best-effort.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan notify.Notification, 64)
	id := s.bus.Subscribe(func(n notify.Notification) {
		select {
		case events <- n:
		default:
			s.log.Warn("SSE client too slow, dropping notification", "method", n.Method)
		}
	})
	defer s.bus.Unsubscribe(id)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-events:
			frame := map[string]interface{}{
				"method": n.Method,
				"params": n.Params,
				"time":   time.Now().Format(time.RFC3339Nano),
			}
			payload, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
