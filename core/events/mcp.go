package events

import "encoding/json"

// KindMcpMessage identifies an MCP payload from the server.
const KindMcpMessage Kind = "mcp.message"

// McpMessage carries an opaque MCP payload. The payload is handed to the
// registered MCP handler without further interpretation.
type McpMessage struct {
	Base
	Payload json.RawMessage
}

// NewMcpMessage creates an mcp message event.
func NewMcpMessage(payload json.RawMessage) McpMessage {
	return McpMessage{Base: NewBase(KindMcpMessage), Payload: payload}
}
