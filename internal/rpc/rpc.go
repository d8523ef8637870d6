/**
 * CONTEXT:   JSON-RPC 2.0 dispatch for the six debugger gateway operations
 * INPUT:     Raw JSON-RPC requests arriving over any transport bridge (HTTP/SSE, stdio)
 * OUTPUT:    JSON-RPC responses; domain failures ride inside a successful result payload
 * BUSINESS:  The core never distinguishes "debugger printed an error" from "command
 *            succeeded", so only protocol-level problems become JSON-RPC errors
 * CHANGE:    Initial implementation
 * RISK:      Medium - this is the seam between the typed core and untyped wire JSON
 */

package rpc

import (
	"encoding/json"
	"time"

	"github.com/sascodiego/dbggateway/internal/apperrors"
	"github.com/sascodiego/dbggateway/internal/queue"
	"github.com/sascodiego/dbggateway/internal/session"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// Standard JSON-RPC 2.0 error codes used at this boundary.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result/Error is set.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func errorResponse(id interface{}, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

func resultResponse(id interface{}, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// Handlers binds the JSON-RPC surface to a session manager. One Handlers instance is
// shared by every transport bridge attached to the process.
type Handlers struct {
	sessions *session.Manager
	log      logger.Logger
}

func NewHandlers(sessions *session.Manager, log logger.Logger) *Handlers {
	return &Handlers{sessions: sessions, log: log}
}

// Dispatch routes a single request to its handler. It never panics: a handler panic
// would indicate a bug, but Dispatch itself holds no locks across the call so a caller
// serving many requests concurrently is safe.
func (h *Handlers) Dispatch(req Request) Response {
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc version must be \"2.0\"")
	}

	switch req.Method {
	case "openSession":
		return h.openSession(req)
	case "closeSession":
		return h.closeSession(req)
	case "execCommand":
		return h.execCommand(req)
	case "commandStatus":
		return h.commandStatus(req)
	case "cancelCommand":
		return h.cancelCommand(req)
	case "listCommands":
		return h.listCommands(req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "unknown operation: "+req.Method)
	}
}

func decodeParams(req Request, dst interface{}) *Response {
	if len(req.Params) == 0 {
		resp := errorResponse(req.ID, CodeInvalidParams, "missing params")
		return &resp
	}
	if err := json.Unmarshal(req.Params, dst); err != nil {
		resp := errorResponse(req.ID, CodeInvalidParams, "malformed params: "+err.Error())
		return &resp
	}
	return nil
}

type openSessionParams struct {
	Target      string `json:"target"`
	SymbolsPath string `json:"symbolsPath"`
}

func (h *Handlers) openSession(req Request) Response {
	var p openSessionParams
	if errResp := decodeParams(req, &p); errResp != nil {
		return *errResp
	}

	id, err := h.sessions.Create(p.Target, p.SymbolsPath)
	if err != nil {
		return domainFailure(req.ID, err)
	}
	return resultResponse(req.ID, map[string]interface{}{"sessionId": id})
}

type closeSessionParams struct {
	SessionID string `json:"sessionId"`
}

func (h *Handlers) closeSession(req Request) Response {
	var p closeSessionParams
	if errResp := decodeParams(req, &p); errResp != nil {
		return *errResp
	}
	ok := h.sessions.Close(p.SessionID)
	return resultResponse(req.ID, map[string]interface{}{"success": ok})
}

type execCommandParams struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

func (h *Handlers) execCommand(req Request) Response {
	var p execCommandParams
	if errResp := decodeParams(req, &p); errResp != nil {
		return *errResp
	}

	sess, ok := h.sessions.Get(p.SessionID)
	if !ok {
		return domainFailure(req.ID, &apperrors.NotFoundError{Kind: "session", ID: p.SessionID})
	}

	id, err := sess.Queue.Enqueue(p.Command)
	if err != nil {
		return domainFailure(req.ID, err)
	}
	return resultResponse(req.ID, map[string]interface{}{"commandId": id})
}

type commandStatusParams struct {
	SessionID string `json:"sessionId"`
	CommandID string `json:"commandId"`
}

func (h *Handlers) commandStatus(req Request) Response {
	var p commandStatusParams
	if errResp := decodeParams(req, &p); errResp != nil {
		return *errResp
	}

	sess, ok := h.sessions.Get(p.SessionID)
	if !ok {
		return domainFailure(req.ID, &apperrors.NotFoundError{Kind: "session", ID: p.SessionID})
	}

	rv := sess.Queue.GetResult(p.CommandID)
	if !rv.Found {
		return domainFailure(req.ID, &apperrors.NotFoundError{Kind: "command", ID: p.CommandID})
	}

	out := map[string]interface{}{"state": rv.State.String()}
	switch rv.State {
	case queue.StateCompleted:
		out["result"] = rv.Result
	case queue.StateCancelled, queue.StateFailed:
		out["error"] = rv.Result
	}
	return resultResponse(req.ID, out)
}

func (h *Handlers) cancelCommand(req Request) Response {
	var p commandStatusParams
	if errResp := decodeParams(req, &p); errResp != nil {
		return *errResp
	}

	sess, ok := h.sessions.Get(p.SessionID)
	if !ok {
		return domainFailure(req.ID, &apperrors.NotFoundError{Kind: "session", ID: p.SessionID})
	}

	ok = sess.Queue.Cancel(p.CommandID)
	return resultResponse(req.ID, map[string]interface{}{"success": ok})
}

type listCommandsParams struct {
	SessionID string `json:"sessionId"`
}

func (h *Handlers) listCommands(req Request) Response {
	var p listCommandsParams
	if errResp := decodeParams(req, &p); errResp != nil {
		return *errResp
	}

	sess, ok := h.sessions.Get(p.SessionID)
	if !ok {
		return domainFailure(req.ID, &apperrors.NotFoundError{Kind: "session", ID: p.SessionID})
	}

	entries := sess.Queue.GetQueueStatus()
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"id":       e.ID,
			"command":  e.Command,
			"queuedAt": e.QueuedAt.Format(time.RFC3339Nano),
			"state":    e.State.String(),
		})
	}
	return resultResponse(req.ID, out)
}

// domainFailure converts NotFound, LimitExceeded, and UnrecoverableSession errors into
// a successful response carrying a structured payload. A ValidationError becomes an
// invalid-params JSON-RPC error, and any other error an internal-error response.
func domainFailure(id interface{}, err error) Response {
	switch e := err.(type) {
	case *apperrors.NotFoundError:
		return resultResponse(id, map[string]interface{}{"state": "NotFound", "kind": e.Kind, "id": e.ID})
	case *apperrors.LimitExceededError:
		return resultResponse(id, map[string]interface{}{"error": "LimitExceeded", "current": e.Current, "max": e.Max})
	case *apperrors.ValidationError:
		return errorResponseFromValidation(id, e)
	case *apperrors.UnrecoverableSessionError:
		return resultResponse(id, map[string]interface{}{"error": "UnrecoverableSession", "sessionId": e.SessionID})
	default:
		return errorResponse(id, CodeInternalError, err.Error())
	}
}

func errorResponseFromValidation(id interface{}, e *apperrors.ValidationError) Response {
	return errorResponse(id, CodeInvalidParams, e.Error())
}
