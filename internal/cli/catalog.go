package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/assetcheck/internal/models"
	"github.com/spf13/cobra"
)

var procAssetType string

var proceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "List test procedures",
	Long: `List the test procedures in the catalog.

Examples:
  assetcheck procedures
  assetcheck procedures --asset-type UPS`,
	Args: cobra.NoArgs,
	RunE: runProcedures,
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List assets",
	Args:  cobra.NoArgs,
	RunE:  runAssets,
}

var historyCmd = &cobra.Command{
	Use:   "history <asset-id>",
	Short: "Show recorded tests of an asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	proceduresCmd.Flags().StringVarP(&procAssetType, "asset-type", "t", "", "only procedures for this asset type")
}

func runProcedures(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var procs []models.Procedure
	var err error
	if c := serverClient(); c != nil {
		procs, err = c.Procedures(ctx, procAssetType)
	} else {
		a, openErr := openApp(ctx)
		if openErr != nil {
			return openErr
		}
		procs, err = a.Catalog.Procedures(ctx, procAssetType)
	}
	if err != nil {
		return fmt.Errorf("list procedures: %w", err)
	}

	if len(procs) == 0 {
		fmt.Println("No procedures found")
		return nil
	}

	fmt.Printf("%-12s %-12s %-6s %-8s %s\n", "ID", "ASSET TYPE", "STEPS", "MINUTES", "NAME")
	fmt.Println("------------------------------------------------------------------------")
	for _, p := range procs {
		fmt.Printf("%-12s %-12s %-6d %-8d %s\n", p.ID, p.AssetType, len(p.Steps), p.EstimatedDurationMinutes, p.Name)
	}
	return nil
}

func runAssets(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var assets []models.Asset
	var err error
	if c := serverClient(); c != nil {
		assets, err = c.Assets(ctx)
	} else {
		a, openErr := openApp(ctx)
		if openErr != nil {
			return openErr
		}
		assets, err = a.Catalog.Assets(ctx)
	}
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}

	if len(assets) == 0 {
		fmt.Println("No assets found")
		return nil
	}

	fmt.Printf("%-12s %-10s %-12s %-12s %s\n", "ID", "TYPE", "LOCATION", "NEXT DUE", "NAME")
	fmt.Println("------------------------------------------------------------------------")
	for _, as := range assets {
		location := as.Building
		if as.Floor != "" {
			location += "/" + as.Floor
		}
		fmt.Printf("%-12s %-10s %-12s %-12s %s\n", as.ID, as.Type, location, as.NextMaintenanceDate, as.Name)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var history []models.TestHistoryEntry
	var err error
	if c := serverClient(); c != nil {
		history, err = c.History(ctx, args[0])
	} else {
		a, openErr := openApp(ctx)
		if openErr != nil {
			return openErr
		}
		history, err = a.Catalog.History(ctx, args[0])
	}
	if err != nil {
		return fmt.Errorf("asset history: %w", err)
	}

	if len(history) == 0 {
		fmt.Printf("No recorded tests for %s\n", args[0])
		return nil
	}

	fmt.Printf("%-20s %-12s %-14s %s\n", "DATE", "PROCEDURE", "STATUS", "TECHNICIANS")
	fmt.Println("------------------------------------------------------------------------")
	for _, h := range history {
		fmt.Printf("%-20s %-12s %-14s %s\n", h.Date, h.ProcedureID, h.OverallStatus, h.Technicians)
	}
	return nil
}
