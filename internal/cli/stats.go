package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show the runtime statistics of a running assetcheck-server.

Examples:
  assetcheck stats --server http://tablet-hub:8484`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c := serverClient()
	if c == nil {
		return fmt.Errorf("stats needs --server or ASSETCHECK_SERVER_URL")
	}
	stats, err := c.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}

	fmt.Printf("Server: %s\n", c.Endpoint())
	fmt.Printf("  Live sessions: %d\n", stats.LiveSessions)
	fmt.Printf("  Queued batches: %d\n", stats.Queued)
	if !stats.CatalogLoadedAt.IsZero() {
		fmt.Printf("  Catalog loaded: %s\n", stats.CatalogLoadedAt.Local().Format("2006-01-02 15:04:05"))
	}

	if len(stats.Operations) > 0 {
		fmt.Println("\nOperations:")
		names := make([]string, 0, len(stats.Operations))
		for name := range stats.Operations {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Printf("  %-28s %v\n", name, stats.Operations[name])
		}
	}
	return nil
}
