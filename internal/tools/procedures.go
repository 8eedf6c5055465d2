package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListProceduresInput defines the input schema for the list_procedures tool.
type ListProceduresInput struct {
	AssetType string `json:"asset_type,omitempty" jsonschema:"Only procedures for this asset type (exact match)"`
}

// NewListProceduresHandler creates the list_procedures tool handler.
func NewListProceduresHandler(deps *Dependencies) mcp.ToolHandlerFor[ListProceduresInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListProceduresInput) (*mcp.CallToolResult, any, error) {
		procs, err := deps.Catalog.Procedures(ctx, input.AssetType)
		if err != nil {
			deps.Logger.Error("list procedures failed", "error", err)
			return ErrorResult("Failed to load procedures", "Check the remote store or the local procedures file"), nil, nil
		}
		if len(procs) == 0 {
			return TextResult("No procedures found"), nil, nil
		}
		deps.Logger.Debug("procedures listed", "asset_type", input.AssetType, "count", len(procs))
		return JSONResult(procs), nil, nil
	}
}
