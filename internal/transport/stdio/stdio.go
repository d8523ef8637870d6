/**
 * CONTEXT:   Newline-delimited JSON-RPC transport bridge over standard input/output
 * INPUT:     One JSON-RPC request per line on stdin
 * OUTPUT:    One JSON-RPC response per line on stdout
 * BUSINESS:  Lets a parent process (an MCP host launching the gateway as a subprocess)
 *            speak JSON-RPC without standing up a network listener
 * CHANGE:    Initial implementation
 * RISK:      Low - a thin read-dispatch-write loop
 */

package stdio

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/sascodiego/dbggateway/internal/rpc"
	"github.com/sascodiego/dbggateway/pkg/logger"
)

// Loop reads newline-delimited JSON-RPC requests from r and writes responses to w,
// one per line, until r is exhausted or ctx-like cancellation is signalled by closing r.
func Loop(r io.Reader, w io.Writer, handlers *rpc.Handlers, log logger.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := bufio.NewWriter(w)
	defer out.Flush()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req rpc.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeLine(out, rpc.Response{
				JSONRPC: "2.0",
				Error:   &rpc.Error{Code: rpc.CodeInvalidRequest, Message: "malformed JSON: " + err.Error()},
			})
			continue
		}

		resp := handlers.Dispatch(req)
		writeLine(out, resp)
	}

	if err := scanner.Err(); err != nil {
		log.Error("stdio transport read failed", "error", err)
	}
}

func writeLine(w *bufio.Writer, resp rpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	w.Write(data)
	w.WriteByte('\n')
	w.Flush()
}
