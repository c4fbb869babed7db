package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/caephub/caephub/internal/common/logger"
	"github.com/caephub/caephub/internal/hub/tools"
)

// registerTools binds the shared tool table onto the MCP server: the declared
// parameters become the tool's input schema and every call dispatches through
// the table's handler.
func registerTools(s *server.MCPServer, table []tools.Tool, log *logger.Logger) {
	for _, tool := range table {
		s.AddTool(buildTool(tool), toolHandler(tool, log))
	}
	log.Info("registered MCP tools", zap.Int("count", len(table)))
}

func buildTool(tool tools.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(tool.Description)}
	for _, p := range tool.Params {
		var propOpts []mcp.PropertyOption
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		propOpts = append(propOpts, mcp.Description(p.Description))

		switch p.Type {
		case tools.TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case tools.TypeBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		case tools.TypeArray:
			opts = append(opts, mcp.WithArray(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(tool.Name, opts...)
}

func toolHandler(tool tools.Tool, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError("invalid tool arguments: " + err.Error()), nil
		}

		res := tool.Handle(ctx, args)
		if !res.OK() {
			log.Debug("tool call refused",
				zap.String("tool", tool.Name), zap.Int("status", res.Status))
			return mcp.NewToolResultError(string(res.Body)), nil
		}
		return mcp.NewToolResultText(string(res.Body)), nil
	}
}
