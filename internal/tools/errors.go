package tools

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/assetcheck/internal/attachments"
	"github.com/raphaelgruber/assetcheck/internal/remote"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/wizard"
)

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// Returns IsError=true so LLM can see the error and self-correct.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// JSONResult renders v as indented JSON text content.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("Failed to encode result", err.Error())
	}
	return TextResult(string(data))
}

// errorFor maps a service error to a result with a recovery hint.
func errorFor(err error) *mcp.CallToolResult {
	if ve, ok := wizard.AsValidation(err); ok {
		return ErrorResult(ve.Error(), "Fix the reported fields and try again")
	}
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return ErrorResult(err.Error(), "Call start_session to get a session handle")
	case errors.Is(err, service.ErrProcedureNotFound), errors.Is(err, service.ErrAssetNotFound):
		return ErrorResult(err.Error(), "Use list_procedures to find valid ids")
	case errors.Is(err, wizard.ErrUnknownStep):
		return ErrorResult(err.Error(), "Use a step number from the procedure")
	case errors.Is(err, wizard.ErrInvalidResult):
		return ErrorResult(err.Error(), "Use \"pass\" or \"fail\"")
	case errors.Is(err, wizard.ErrFinished):
		return ErrorResult(err.Error(), "Start a new session")
	case errors.Is(err, remote.ErrNoCredential):
		return ErrorResult(err.Error(), "Run 'assetcheck login' first")
	case errors.Is(err, attachments.ErrImageTooLarge):
		return ErrorResult(err.Error(), "Resize the photo before attaching it")
	}
	return ErrorResult(err.Error(), "")
}
