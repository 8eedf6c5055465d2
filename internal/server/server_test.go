//go:build integration

package server_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/attachments"
	"github.com/raphaelgruber/assetcheck/internal/auth"
	"github.com/raphaelgruber/assetcheck/internal/metrics"
	"github.com/raphaelgruber/assetcheck/internal/server"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/raphaelgruber/assetcheck/internal/session"
	"github.com/raphaelgruber/assetcheck/internal/storage"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
	"github.com/raphaelgruber/assetcheck/internal/tools"
)

type emptySheets struct{}

func (emptySheets) Get(context.Context, string) ([][]string, error) { return nil, nil }
func (emptySheets) Append(context.Context, string, [][]string) error { return nil }
func (emptySheets) Update(context.Context, string, [][]string) error { return nil }

// connect runs srv on an in-memory transport and returns a client session.
func connect(t *testing.T, srv *server.Server) (context.Context, *mcp.ClientSession) {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.MCPServer().Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err, "client should connect successfully")

	t.Cleanup(func() {
		_ = cs.Close()
		cancel()
		select {
		case <-serverErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop within timeout")
		}
	})
	return ctx, cs
}

func testDeps(t *testing.T, logger *slog.Logger) *tools.Dependencies {
	t.Helper()
	kv := storage.NewMemory()
	cache := attachments.New(context.Background(), kv)
	coord := syncer.New(emptySheets{}, auth.Static(""), syncer.NewQueue(kv), syncer.WithAttachments(cache))
	catalog := service.NewCatalogService(emptySheets{}, service.CatalogRanges{
		Assets:     "Assets!A2:Z",
		Procedures: "TestProcedures!A2:Z",
	})
	tests := service.NewTestService(catalog, session.NewStore(kv), cache, coord, service.WithAutosaveInterval(time.Hour))
	t.Cleanup(func() { _ = tests.Close(context.Background()) })

	return &tools.Dependencies{
		Catalog:     catalog,
		Tests:       tests,
		Jobs:        service.NewJobManager(nil, logger),
		Coordinator: coord,
		Metrics:     metrics.NewCollector(),
		Logger:      logger,
	}
}

func TestServerWithoutDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New("0.1.0-test", logger, nil)
	srv.Setup()

	ctx, cs := connect(t, srv)

	info := cs.InitializeResult()
	require.NotNil(t, info)
	assert.Equal(t, server.Name, info.ServerInfo.Name)
	assert.Equal(t, "0.1.0-test", info.ServerInfo.Version)

	for i := range 3 {
		result, err := cs.ListTools(ctx, nil)
		require.NoError(t, err, "request %d should succeed", i)
		assert.Empty(t, result.Tools)
	}
}

func TestServerRegistersSessionTools(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New("0.1.0-test", logger, testDeps(t, logger))
	srv.Setup()

	ctx, cs := connect(t, srv)

	result, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "start_session")
	assert.Contains(t, names, "drain_queue")

	// The queue is empty, so the status call succeeds without a remote.
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "queue_status", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
}
