package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chatdigest/chatdigest/internal/store"
)

// NewMCPServer creates an MCP server exposing the digest read tools to agent
// clients. Like the HTTP surface it never writes.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"chatdigest",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("chatdigest — daily digests of chat room transcripts. Rooms are looked up by name."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_rooms",
			mcp.WithDescription("List tracked chat rooms with message, summary and link counts."),
		),
		mcpListRooms(deps),
	)

	s.AddTool(
		mcp.NewTool("get_summary",
			mcp.WithDescription("Return the stored digest for one room and date."),
			mcp.WithString("room", mcp.Description("Room name"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Date as YYYY-MM-DD"), mcp.Required()),
			mcp.WithString("kind", mcp.Description("Summary kind: daily (default) or weekly")),
		),
		mcpGetSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("pending_dates",
			mcp.WithDescription("List a room's dates that have a transcript but no digest yet."),
			mcp.WithString("room", mcp.Description("Room name"), mcp.Required()),
		),
		mcpPendingDates(deps),
	)

	return s
}

func mcpListRooms(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rooms, err := deps.Store.ListRooms()
		if err != nil {
			return mcpError(fmt.Sprintf("listing rooms failed: %v", err)), nil
		}

		views := make([]roomView, 0, len(rooms))
		for _, room := range rooms {
			stats, err := deps.Store.RoomStats(room.ID)
			if err != nil {
				return mcpError(fmt.Sprintf("room stats failed: %v", err)), nil
			}
			views = append(views, toRoomView(room, stats))
		}
		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("marshaling rooms failed: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetSummary(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		roomName, err := req.RequireString("room")
		if err != nil {
			return mcpError("room is required"), nil
		}
		dateStr, err := req.RequireString("date")
		if err != nil {
			return mcpError("date is required"), nil
		}
		kind := req.GetString("kind", store.KindDaily)

		date, err := time.Parse(time.DateOnly, dateStr)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid date %q, want YYYY-MM-DD", dateStr)), nil
		}
		room, err := deps.Store.GetRoomByName(roomName)
		if errors.Is(err, store.ErrNotFound) {
			return mcpError(fmt.Sprintf("room %q not found", roomName)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("resolving room failed: %v", err)), nil
		}

		sum, err := deps.Store.GetSummary(room.ID, date, kind)
		if errors.Is(err, store.ErrNotFound) {
			return mcpError(fmt.Sprintf("no %s summary for %s on %s", kind, roomName, dateStr)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading summary failed: %v", err)), nil
		}
		return mcpText(sum.Content), nil
	}
}

func mcpPendingDates(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		roomName, err := req.RequireString("room")
		if err != nil {
			return mcpError("room is required"), nil
		}

		dates, err := deps.Mirror.DatesNeedingSummary(roomName)
		if err != nil {
			return mcpError(fmt.Sprintf("listing pending dates failed: %v", err)), nil
		}
		if dates == nil {
			dates = []string{}
		}
		b, err := json.Marshal(dates)
		if err != nil {
			return mcpError(fmt.Sprintf("marshaling dates failed: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
