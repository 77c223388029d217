package upstream

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ck-labs/mcp-warden/internal/manager"
)

// ToolLister is the slice of the MCP client session used for tool
// discovery. Satisfied by *mcp.ClientSession.
type ToolLister interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
}

// DiscoverTools fetches the server's complete tool list, following
// pagination cursors. A server that does not implement tools/list is
// treated as exposing zero tools rather than as failed.
func DiscoverTools(ctx context.Context, lister ToolLister) ([]manager.Tool, error) {
	var tools []manager.Tool
	cursor := ""
	for {
		res, err := lister.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			if isToolListUnsupported(err) {
				return []manager.Tool{}, nil
			}
			return nil, err
		}
		for _, t := range res.Tools {
			tools = append(tools, manager.Tool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// isToolListUnsupported recognizes the various ways servers report that
// tools/list is not implemented. There is no structured code for this
// across server implementations, so it falls back to message matching.
func isToolListUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "method not found") &&
		!strings.Contains(msg, "not implemented") &&
		!strings.Contains(msg, "unsupported") &&
		!strings.Contains(msg, "does not support") {
		return false
	}
	return strings.Contains(msg, "tools") || strings.Contains(msg, "list")
}
