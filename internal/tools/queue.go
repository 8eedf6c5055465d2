package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueueStatusInput defines the input schema for the queue_status tool.
type QueueStatusInput struct{}

type queueItem struct {
	ID          string `json:"id"`
	AssetID     string `json:"asset_id"`
	ProcedureID string `json:"procedure_id"`
	Timestamp   string `json:"timestamp"`
	Rows        int    `json:"rows"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
}

// NewQueueStatusHandler creates the queue_status tool handler.
func NewQueueStatusHandler(deps *Dependencies) mcp.ToolHandlerFor[QueueStatusInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueueStatusInput) (*mcp.CallToolResult, any, error) {
		entries, err := deps.Tests.QueueStatus(ctx)
		if err != nil {
			return errorFor(err), nil, nil
		}
		if len(entries) == 0 {
			return TextResult("Queue is empty"), nil, nil
		}
		items := make([]queueItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, queueItem{
				ID:          e.ID,
				AssetID:     e.Batch.Key.AssetID,
				ProcedureID: e.Batch.Key.ProcedureID,
				Timestamp:   e.Batch.Key.Timestamp,
				Rows:        len(e.Batch.Rows),
				Attempts:    e.Attempts,
				LastError:   e.LastError,
			})
		}
		return JSONResult(items), nil, nil
	}
}

// DrainQueueInput defines the input schema for the drain_queue tool.
type DrainQueueInput struct {
	Background bool `json:"background,omitempty" jsonschema:"Run as a background job and return its id instead of waiting"`
}

// NewDrainQueueHandler creates the drain_queue tool handler.
func NewDrainQueueHandler(deps *Dependencies) mcp.ToolHandlerFor[DrainQueueInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DrainQueueInput) (*mcp.CallToolResult, any, error) {
		if deps.Coordinator == nil {
			return ErrorResult("Sync is not configured", ""), nil, nil
		}
		if input.Background && deps.Jobs != nil {
			job := deps.Jobs.StartDrain(ctx, deps.Coordinator)
			return JSONResult(job.Snapshot()), nil, nil
		}
		res, err := deps.Coordinator.DrainQueue(ctx, nil)
		if err != nil {
			return errorFor(err), nil, nil
		}
		deps.Logger.Info("queue drained via mcp", "uploaded", res.Uploaded, "failed", res.Failed, "skipped", res.Skipped)
		return JSONResult(res), nil, nil
	}
}
