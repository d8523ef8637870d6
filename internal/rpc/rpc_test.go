package rpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/internal/session"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

func testLogger() logger.Logger { return logger.NewDefaultLogger("rpc_test", "ERROR") }

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	bus := notify.New(testLogger())
	mgr := session.NewManager(session.Options{DriverExecutable: "/bin/cat", CommandTimeout: 200 * time.Millisecond}, bus, testLogger())
	return NewHandlers(mgr, testLogger())
}

func mustParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatch_UnknownMethod(t *testing.T) {
	h := newTestHandlers(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "doesNotExist"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatch_MissingParams(t *testing.T) {
	h := newTestHandlers(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "openSession"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatch_OpenSessionThenExecCommand(t *testing.T) {
	h := newTestHandlers(t)

	openResp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "openSession", Params: mustParams(t, openSessionParams{Target: "/tmp/x.dmp"})})
	require.Nil(t, openResp.Error)
	result := openResp.Result.(map[string]interface{})
	sessionID := result["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	execResp := h.Dispatch(Request{JSONRPC: "2.0", ID: 2, Method: "execCommand", Params: mustParams(t, execCommandParams{SessionID: sessionID, Command: "version"})})
	require.Nil(t, execResp.Error)
	execResult := execResp.Result.(map[string]interface{})
	assert.NotEmpty(t, execResult["commandId"])

	closeResp := h.Dispatch(Request{JSONRPC: "2.0", ID: 3, Method: "closeSession", Params: mustParams(t, closeSessionParams{SessionID: sessionID})})
	require.Nil(t, closeResp.Error)
	assert.Equal(t, true, closeResp.Result.(map[string]interface{})["success"])
}

func TestDispatch_CommandStatusNotFoundIsSuccessfulResponse(t *testing.T) {
	h := newTestHandlers(t)
	openResp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "openSession", Params: mustParams(t, openSessionParams{Target: "/tmp/x.dmp"})})
	sessionID := openResp.Result.(map[string]interface{})["sessionId"].(string)

	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 2, Method: "commandStatus", Params: mustParams(t, commandStatusParams{SessionID: sessionID, CommandID: "does-not-exist"})})
	require.Nil(t, resp.Error)
	assert.Equal(t, "NotFound", resp.Result.(map[string]interface{})["state"])
}

func TestDispatch_UnknownSessionIsSuccessfulNotFoundResponse(t *testing.T) {
	h := newTestHandlers(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "execCommand", Params: mustParams(t, execCommandParams{SessionID: "bogus", Command: "version"})})
	require.Nil(t, resp.Error)
	assert.Equal(t, "NotFound", resp.Result.(map[string]interface{})["state"])
}
