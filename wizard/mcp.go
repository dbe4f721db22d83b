package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the studio tools on an MCP server.
func (s *Studio) RegisterMCP(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "scrapewizard_list_sessions",
		Description: "List build sessions, most recently updated first, with phase, outcome and repair attempt count.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max results (default 20)"},
		}, nil),
	}, func(ctx context.Context, req *struct {
		Limit int `json:"limit"`
	}) (any, error) {
		if req.Limit <= 0 {
			req.Limit = 20
		}
		return s.Sessions(ctx, req.Limit)
	})

	addTool(srv, &mcp.Tool{
		Name:        "scrapewizard_session_status",
		Description: "Show one build session: phase, access mode, hostility, decisions, repair attempts and last run.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Session ID (sess_...)"},
		}, []string{"session_id"}),
	}, func(ctx context.Context, req *struct {
		SessionID string `json:"session_id"`
	}) (any, error) {
		return s.Session(ctx, req.SessionID)
	})

	addTool(srv, &mcp.Tool{
		Name:        "scrapewizard_session_events",
		Description: "Show the event journal of a build session: scans, gate answers, contract violations, classified failures, repairs and runs.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string"},
			"limit":      map[string]any{"type": "integer", "description": "Most recent events to return (default 50)"},
		}, []string{"session_id"}),
	}, func(ctx context.Context, req *struct {
		SessionID string `json:"session_id"`
		Limit     int    `json:"limit"`
	}) (any, error) {
		if req.Limit <= 0 {
			req.Limit = 50
		}
		return s.Events(ctx, req.SessionID, req.Limit)
	})

	addTool(srv, &mcp.Tool{
		Name:        "scrapewizard_pending",
		Description: "Show the decision gate or manual step the running session is waiting on, if any.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(_ context.Context, _ *struct{}) (any, error) {
		return s.Pending(), nil
	})

	addTool(srv, &mcp.Tool{
		Name:        "scrapewizard_answer",
		Description: "Answer the pending gate with one of its options, confirm a finished manual step (status resolved), or cancel (status cancelled).",
		InputSchema: inputSchema(map[string]any{
			"status": map[string]any{"type": "string", "enum": []any{"resolved", "cancelled"}, "description": "Default resolved"},
			"value":  map[string]any{"type": "string", "description": "Chosen option; empty picks the gate default"},
		}, nil),
	}, func(_ context.Context, req *struct {
		Status string `json:"status"`
		Value  string `json:"value"`
	}) (any, error) {
		if err := s.Answer(req.Status, req.Value); err != nil {
			return nil, err
		}
		return map[string]string{"status": "ok"}, nil
	})

	addTool(srv, &mcp.Tool{
		Name:        "scrapewizard_add_hints",
		Description: "Queue column hints (field names or selector notes) for the session's next repair request.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string"},
			"hints":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, []string{"session_id", "hints"}),
	}, func(ctx context.Context, req *struct {
		SessionID string   `json:"session_id"`
		Hints     []string `json:"hints"`
	}) (any, error) {
		if len(req.Hints) == 0 {
			return nil, errors.New("hints must not be empty")
		}
		if err := s.AddHints(ctx, req.SessionID, req.Hints); err != nil {
			return nil, err
		}
		return map[string]any{"queued": req.Hints}, nil
	})
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool decodes the arguments into a fresh *T, calls fn, and returns
// its result as JSON text. Decode and call failures become tool errors.
func addTool[T any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *T) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in := new(T)
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, in); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		out, err := fn(ctx, in)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}
