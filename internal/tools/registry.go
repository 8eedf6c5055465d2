package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_procedures",
		Description: "List test procedures, optionally only those for an asset type, with their steps",
	}, NewListProceduresHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_session",
		Description: "Start or resume a test session for an asset and procedure; returns a session handle",
	}, NewStartSessionHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_personnel",
		Description: "Set the technicians and contractors (with companies) present for a session",
	}, NewSetPersonnelHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_step",
		Description: "Record the result, verifiers, field values and notes of one procedure step",
	}, NewRecordStepHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "navigate",
		Description: "Move the wizard: next, back, or jump to a state index (0 personnel, N+1 summary)",
	}, NewNavigateHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "finish_session",
		Description: "Validate and finish a session; rows are appended or queued for later sync",
	}, NewFinishSessionHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "queue_status",
		Description: "List finished sessions waiting to be synced",
	}, NewQueueStatusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "drain_queue",
		Description: "Sync queued sessions to the remote store now",
	}, NewDrainQueueHandler(deps))
}
