package httpsse

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sascodiego/dbggateway/internal/notify"
	"github.com/sascodiego/dbggateway/internal/rpc"
	"github.com/sascodiego/dbggateway/internal/session"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

func testLogger() logger.Logger { return logger.NewDefaultLogger("httpsse_test", "ERROR") }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus := notify.New(testLogger())
	mgr := session.NewManager(session.Options{DriverExecutable: "/bin/cat", CommandTimeout: 200 * time.Millisecond}, bus, testLogger())
	handlers := rpc.NewHandlers(mgr, testLogger())
	return NewServer(handlers, bus, testLogger())
}

func TestHandleRPC_OpenSession(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "openSession", Params: json.RawMessage(`{"target":"/tmp/x.dmp"}`)})

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestHandleRPC_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRPC_InjectsSessionIDFromHeader(t *testing.T) {
	s := newTestServer(t)

	openBody, _ := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: 1, Method: "openSession", Params: json.RawMessage(`{"target":"/tmp/x.dmp"}`)})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(openBody)))
	var openResp rpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &openResp))
	sessionID := openResp.Result.(map[string]interface{})["sessionId"].(string)

	execBody, _ := json.Marshal(rpc.Request{JSONRPC: "2.0", ID: 2, Method: "execCommand", Params: json.RawMessage(`{"command":"version"}`)})
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(execBody))
	req.Header.Set("X-Session-Id", sessionID)
	rec2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec2, req)

	var execResp rpc.Response
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &execResp))
	assert.Nil(t, execResp.Error)
	assert.NotEmpty(t, execResp.Result.(map[string]interface{})["commandId"])
}
