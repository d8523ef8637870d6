/**
 * CONTEXT:   Static tool catalogue describing the six RPC operations to any client that
 *            asks for it (e.g. an MCP tools/list call at the outer transport layer)
 * INPUT:     None - the catalogue is fixed at compile time
 * OUTPUT:    A slice of Tool descriptors, each a {name, description, inputSchema} triple
 * BUSINESS:  Tool schemas are written out as explicit literals, not reflection, so a
 *            schema change is a visible diff rather than emergent from a DTO change
 * CHANGE:    Initial implementation
 * RISK:      Low - pure data, no behavior
 */

package toolset

// Tool describes one RPC operation for a catalogue consumer. Schema follows the JSON
// Schema subset commonly used for tool-call argument validation.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func objectSchema(required []string, properties map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Catalogue returns the fixed set of tool descriptors for the six operations in
// the six gateway operations. It never parses debugger output or varies by session state.
func Catalogue() []Tool {
	return []Tool{
		{
			Name:        "openSession",
			Description: "Open a new debugger session against a dump file or remote target, returning a sessionId.",
			InputSchema: objectSchema([]string{"target"}, map[string]interface{}{
				"target":      stringProp("Filesystem path to a dump, or a remote-connection descriptor"),
				"symbolsPath": stringProp("Optional symbol search path"),
			}),
		},
		{
			Name:        "closeSession",
			Description: "Close a debugger session and release its child process.",
			InputSchema: objectSchema([]string{"sessionId"}, map[string]interface{}{
				"sessionId": stringProp("Session to close"),
			}),
		},
		{
			Name:        "execCommand",
			Description: "Enqueue a debugger command for execution within a session, returning a commandId.",
			InputSchema: objectSchema([]string{"sessionId", "command"}, map[string]interface{}{
				"sessionId": stringProp("Target session"),
				"command":   stringProp("Debugger command text, non-empty"),
			}),
		},
		{
			Name:        "commandStatus",
			Description: "Poll the state and, if available, result of a previously enqueued command.",
			InputSchema: objectSchema([]string{"sessionId", "commandId"}, map[string]interface{}{
				"sessionId": stringProp("Owning session"),
				"commandId": stringProp("Command to inspect"),
			}),
		},
		{
			Name:        "cancelCommand",
			Description: "Cancel a queued or executing command.",
			InputSchema: objectSchema([]string{"sessionId", "commandId"}, map[string]interface{}{
				"sessionId": stringProp("Owning session"),
				"commandId": stringProp("Command to cancel"),
			}),
		},
		{
			Name:        "listCommands",
			Description: "List every command known to a session, in enqueue order.",
			InputSchema: objectSchema([]string{"sessionId"}, map[string]interface{}{
				"sessionId": stringProp("Session to list commands for"),
			}),
		},
	}
}
