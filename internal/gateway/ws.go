package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"imagetool/internal/domain"
)

// WebSocket message types.
const (
	MsgToolCall   = "tool_call"
	MsgToolResult = "tool_result"
	MsgListTools  = "list_tools"
	MsgTools      = "tools"
	MsgError      = "error"
)

// WSMessage is the JSON message protocol for the WebSocket gateway.
// Example: {"type": "tool_call", "id": "1", "name": "generate_image", "arguments": {"prompt": "a cat"}}
type WSMessage struct {
	Type      string                  `json:"type"`
	ID        string                  `json:"id,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Arguments json.RawMessage         `json:"arguments,omitempty"`
	Result    *domain.ToolResult      `json:"result,omitempty"`
	Tools     []domain.ToolDefinition `json:"tools,omitempty"`
	Error     *ErrorBody              `json:"error,omitempty"`
}

// Default upgrader for WebSocket connections.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request to WebSocket and runs a read loop. Each
// tool_call runs in its own goroutine so a slow image does not block the
// connection; replies carry the request id and may arrive out of order.
// In-flight calls are cancelled when the client disconnects.
// Only GET is accepted for the WebSocket handshake.
func HandleWS(w http.ResponseWriter, r *http.Request, tools ToolCaller, logger *slog.Logger) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			writeWSMessage(conn, &writeMu, &WSMessage{Type: MsgError, Error: &ErrorBody{Kind: "invalid_input", Message: "invalid JSON"}})
			continue
		}

		switch in.Type {
		case MsgListTools:
			var defs []domain.ToolDefinition
			if tools != nil {
				defs = tools.Definitions()
			}
			writeWSMessage(conn, &writeMu, &WSMessage{Type: MsgTools, ID: in.ID, Tools: defs})
		case MsgToolCall:
			if tools == nil {
				writeWSMessage(conn, &writeMu, &WSMessage{Type: MsgError, ID: in.ID, Error: &ErrorBody{Kind: "unavailable", Message: "no tools configured"}})
				continue
			}
			wg.Add(1)
			go func(in WSMessage) {
				defer wg.Done()
				out := runToolCall(ctx, tools, in, logger)
				writeWSMessage(conn, &writeMu, out)
			}(in)
		default:
			writeWSMessage(conn, &writeMu, &WSMessage{Type: MsgError, ID: in.ID, Error: &ErrorBody{Kind: "invalid_input", Message: "unsupported message type: " + in.Type}})
		}
	}
}

func runToolCall(ctx context.Context, tools ToolCaller, in WSMessage, logger *slog.Logger) *WSMessage {
	args := in.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	res, err := tools.Call(ctx, in.Name, args)
	if err != nil {
		_, eb := classify(err)
		logger.Warn("ws tool call failed", "tool", in.Name, "id", in.ID, "kind", eb.Kind, "error", err)
		return &WSMessage{Type: MsgError, ID: in.ID, Name: in.Name, Error: eb}
	}
	return &WSMessage{Type: MsgToolResult, ID: in.ID, Name: in.Name, Result: res}
}

func writeWSMessage(conn *websocket.Conn, mu *sync.Mutex, msg *WSMessage) {
	data, err := marshal(msg)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
