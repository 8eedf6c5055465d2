package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/client"
	"github.com/raphaelgruber/assetcheck/internal/syncer"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List results waiting for upload",
	Long: `List test results that were recorded offline or failed to upload.

Examples:
  assetcheck queue
  assetcheck sync     # upload them`,
	Args: cobra.NoArgs,
	RunE: runQueue,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live or saved test sessions",
	Long: `List live sessions on the server, or the saved progress in the local store.

Saved progress is restored when the same asset and procedure are started again.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func queueEntryOf(e syncer.Entry) client.QueueEntry {
	return client.QueueEntry{
		ID:          e.ID,
		AssetID:     e.Batch.Key.AssetID,
		ProcedureID: e.Batch.Key.ProcedureID,
		Timestamp:   e.Batch.Key.Timestamp,
		Rows:        len(e.Batch.Rows),
		QueuedAt:    e.QueuedAt,
		Attempts:    e.Attempts,
		LastError:   e.LastError,
		Appended:    e.Appended,
	}
}

func runQueue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var entries []client.QueueEntry
	if c := serverClient(); c != nil {
		var err error
		entries, err = c.Queue(ctx)
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}
	} else {
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		pending, err := a.Tests.QueueStatus(ctx)
		if err != nil {
			return fmt.Errorf("list queue: %w", err)
		}
		for _, e := range pending {
			entries = append(entries, queueEntryOf(e))
		}
	}

	if len(entries) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	fmt.Printf("%-10s %-10s %-10s %-5s %-9s %-17s %s\n", "ID", "ASSET", "PROCEDURE", "ROWS", "ATTEMPTS", "QUEUED", "LAST ERROR")
	fmt.Println("------------------------------------------------------------------------")
	for _, e := range entries {
		fmt.Printf("%-10s %-10s %-10s %-5d %-9d %-17s %s\n",
			e.ID, e.AssetID, e.ProcedureID, e.Rows, e.Attempts,
			e.QueuedAt.Local().Format("2006-01-02 15:04"), e.LastError)
	}
	fmt.Printf("\n%d batch(es) pending\n", len(entries))
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if c := serverClient(); c != nil {
		sessions, err := c.Sessions(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No live sessions")
			return nil
		}
		fmt.Printf("%-10s %-10s %-10s %-10s %-8s %s\n", "HANDLE", "ASSET", "PROCEDURE", "STATE", "RESULTS", "OPENED")
		fmt.Println("------------------------------------------------------------------------")
		for _, s := range sessions {
			fmt.Printf("%-10s %-10s %-10s %-10s %-8s %s\n",
				s.Handle, s.AssetID, s.Procedure, s.State,
				fmt.Sprintf("%d/%d", s.Passed, s.Failed), s.Opened.Format(time.Kitchen))
		}
		return nil
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	records, err := a.Tests.SavedProgress(ctx)
	if err != nil {
		return fmt.Errorf("list saved sessions: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No saved sessions")
		return nil
	}

	fmt.Printf("%-10s %-10s %-8s %-8s %-17s %s\n", "ASSET", "PROCEDURE", "STEP", "MODE", "SAVED", "NAME")
	fmt.Println("------------------------------------------------------------------------")
	for _, r := range records {
		if r.Session == nil {
			continue
		}
		fmt.Printf("%-10s %-10s %-8d %-8s %-17s %s\n",
			r.Session.AssetID, r.Session.ProcedureID, r.WizardIndex, r.Mode,
			r.SavedAt.Local().Format("2006-01-02 15:04"), r.AssetName)
	}
	return nil
}
