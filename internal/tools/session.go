package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/session"
	"github.com/raphaelgruber/assetcheck/internal/wizard"
)

// sessionState is returned by every session tool.
type sessionState struct {
	service.SessionInfo
	Step       *models.Step `json:"step,omitempty"`
	Incomplete []int        `json:"incomplete_steps,omitempty"`
}

func stateOf(deps *Dependencies, handle string) (*mcp.CallToolResult, any, error) {
	info, err := deps.Tests.Info(handle)
	if err != nil {
		return errorFor(err), nil, nil
	}
	e, err := deps.Tests.Engine(handle)
	if err != nil {
		return errorFor(err), nil, nil
	}
	st := sessionState{SessionInfo: info}
	_, st.Step = e.State()
	st.Incomplete = e.Session().IncompleteSteps(e.Procedure())
	return JSONResult(st), nil, nil
}

// StartSessionInput defines the input schema for the start_session tool.
type StartSessionInput struct {
	AssetID     string `json:"asset_id" jsonschema:"required,Asset under test"`
	ProcedureID string `json:"procedure_id" jsonschema:"required,Procedure to run"`
	Mode        string `json:"mode,omitempty" jsonschema:"wizard (default) or classic"`
}

// NewStartSessionHandler creates the start_session tool handler.
func NewStartSessionHandler(deps *Dependencies) mcp.ToolHandlerFor[StartSessionInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StartSessionInput) (*mcp.CallToolResult, any, error) {
		if input.AssetID == "" || input.ProcedureID == "" {
			return ErrorResult("asset_id and procedure_id are required", "Use list_procedures to find valid ids"), nil, nil
		}
		var mode session.Mode
		if input.Mode != "" {
			mode = session.ParseMode(input.Mode)
		}
		handle, _, err := deps.Tests.Start(ctx, service.StartRequest{
			AssetID:     input.AssetID,
			ProcedureID: input.ProcedureID,
			Mode:        mode,
		})
		if err != nil {
			return errorFor(err), nil, nil
		}
		deps.Logger.Info("session started via mcp", "handle", handle, "asset", input.AssetID, "procedure", input.ProcedureID)
		return stateOf(deps, handle)
	}
}

// SetPersonnelInput defines the input schema for the set_personnel tool.
type SetPersonnelInput struct {
	Handle              string   `json:"handle" jsonschema:"required,Session handle from start_session"`
	Technicians         []string `json:"technicians,omitempty" jsonschema:"Up to 3 technician names"`
	Contractors         []string `json:"contractors,omitempty" jsonschema:"Up to 3 contractor names"`
	ContractorCompanies []string `json:"contractor_companies,omitempty" jsonschema:"Company per contractor, same order"`
}

// NewSetPersonnelHandler creates the set_personnel tool handler.
func NewSetPersonnelHandler(deps *Dependencies) mcp.ToolHandlerFor[SetPersonnelInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SetPersonnelInput) (*mcp.CallToolResult, any, error) {
		e, err := deps.Tests.Engine(input.Handle)
		if err != nil {
			return errorFor(err), nil, nil
		}
		if err := e.SetPersonnel(ctx, input.Technicians, input.Contractors, input.ContractorCompanies); err != nil {
			return errorFor(err), nil, nil
		}
		return stateOf(deps, input.Handle)
	}
}

// RecordStepInput defines the input schema for the record_step tool.
// Only the provided parts are changed.
type RecordStepInput struct {
	Handle     string            `json:"handle" jsonschema:"required,Session handle from start_session"`
	Step       int               `json:"step" jsonschema:"required,Step number"`
	Result     string            `json:"result,omitempty" jsonschema:"pass or fail"`
	Performers []string          `json:"performers,omitempty" jsonschema:"Verifier tags such as 'Technician: Alice'"`
	Fields     map[string]string `json:"fields,omitempty" jsonschema:"Field values by key; empty value clears"`
	Notes      *string           `json:"notes,omitempty" jsonschema:"Step notes"`
}

// NewRecordStepHandler creates the record_step tool handler.
func NewRecordStepHandler(deps *Dependencies) mcp.ToolHandlerFor[RecordStepInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RecordStepInput) (*mcp.CallToolResult, any, error) {
		e, err := deps.Tests.Engine(input.Handle)
		if err != nil {
			return errorFor(err), nil, nil
		}
		if input.Result != "" {
			if err := e.SetStepResult(ctx, input.Step, models.Result(strings.ToLower(input.Result))); err != nil {
				return errorFor(err), nil, nil
			}
		}
		if input.Performers != nil {
			if err := e.SetStepPerformers(ctx, input.Step, input.Performers); err != nil {
				return errorFor(err), nil, nil
			}
		}
		for key, value := range input.Fields {
			if err := e.SetStepField(ctx, input.Step, key, value); err != nil {
				return errorFor(err), nil, nil
			}
		}
		if input.Notes != nil {
			if err := e.SetStepNotes(ctx, input.Step, *input.Notes); err != nil {
				return errorFor(err), nil, nil
			}
		}
		return stateOf(deps, input.Handle)
	}
}

// NavigateInput defines the input schema for the navigate tool.
type NavigateInput struct {
	Handle    string `json:"handle" jsonschema:"required,Session handle from start_session"`
	Direction string `json:"direction" jsonschema:"required,next, back or jump"`
	Index     int    `json:"index,omitempty" jsonschema:"Target state index for jump"`
}

// NewNavigateHandler creates the navigate tool handler.
func NewNavigateHandler(deps *Dependencies) mcp.ToolHandlerFor[NavigateInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input NavigateInput) (*mcp.CallToolResult, any, error) {
		e, err := deps.Tests.Engine(input.Handle)
		if err != nil {
			return errorFor(err), nil, nil
		}
		switch strings.ToLower(input.Direction) {
		case "next":
			err = e.Advance(ctx)
		case "back":
			err = e.Retreat(ctx)
		case "jump":
			err = e.JumpTo(ctx, input.Index)
		default:
			return ErrorResult(fmt.Sprintf("unknown direction %q", input.Direction), "Use next, back or jump"), nil, nil
		}
		if err != nil {
			return errorFor(err), nil, nil
		}
		return stateOf(deps, input.Handle)
	}
}

// FinishSessionInput defines the input schema for the finish_session tool.
type FinishSessionInput struct {
	Handle string `json:"handle" jsonschema:"required,Session handle from start_session"`
}

// NewFinishSessionHandler creates the finish_session tool handler.
func NewFinishSessionHandler(deps *Dependencies) mcp.ToolHandlerFor[FinishSessionInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input FinishSessionInput) (*mcp.CallToolResult, any, error) {
		res, err := deps.Tests.Finish(ctx, input.Handle)
		if err != nil {
			if _, ok := wizard.AsValidation(err); !ok {
				deps.Logger.Error("finish failed", "handle", input.Handle, "error", err)
			}
			return errorFor(err), nil, nil
		}
		deps.Logger.Info("session finished via mcp", "handle", input.Handle,
			"status", res.OverallStatus, "appended", res.Submit.Appended, "queued", res.Submit.Queued)
		return JSONResult(res), nil, nil
	}
}
