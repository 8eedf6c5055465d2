// Package tools provides MCP tool handlers and registration.
package tools

import (
	"log/slog"

	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Catalog     *service.CatalogService
	Tests       *service.TestService
	Jobs        *service.JobManager
	Coordinator *syncer.Coordinator
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}
