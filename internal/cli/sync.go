package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/raphaelgruber/assetcheck/internal/client"
	"github.com/raphaelgruber/assetcheck/internal/service"
	"github.com/spf13/cobra"
)

var syncNoProgress bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload queued results",
	Long: `Upload results that were recorded offline or failed to upload.

Each queued batch is retried once. Batches that already reached the
spreadsheet are not appended twice. Failed batches stay queued.

Examples:
  assetcheck sync
  assetcheck sync --server http://tablet-hub:8484
  assetcheck sync --no-progress`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncNoProgress, "no-progress", false, "print the result instead of the progress UI")
}

// localJobs exposes the in-process job manager as a JobSource.
type localJobs struct {
	jobs *service.JobManager
}

func (l localJobs) GetJob(_ context.Context, id string) (*client.Job, error) {
	j := l.jobs.GetJob(id)
	if j == nil {
		return nil, nil
	}
	out := clientJob(j.Snapshot())
	return &out, nil
}

func clientJob(j service.Job) client.Job {
	out := client.Job{
		ID:          j.ID,
		Type:        j.Type,
		Status:      string(j.Status),
		Progress:    j.Progress,
		Total:       j.Total,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.Result != nil {
		out.Result = &client.DrainResult{
			Uploaded: j.Result.Uploaded,
			Failed:   j.Result.Failed,
			Skipped:  j.Result.Skipped,
		}
	}
	if j.Error != "" {
		msg := j.Error
		out.Error = &msg
	}
	return out
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if c := serverClient(); c != nil {
		job, err := c.StartSync(ctx)
		if err != nil {
			return fmt.Errorf("start sync: %w", err)
		}
		if syncNoProgress {
			fmt.Printf("Sync job %s started on %s\n", job.ID, c.Endpoint())
			return nil
		}
		hint := fmt.Sprintf("Sync %s continues on the server.\nUse 'assetcheck jobs %s' to check status.", job.ID, job.ID)
		return RunJobProgress(c, job, hint)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	n, err := a.Coordinator.Queue().Len(ctx)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	if n == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	job := a.Jobs.StartDrain(ctx, a.Coordinator)
	if syncNoProgress {
		a.Jobs.Wait()
		return printJobOutcome(clientJob(job.Snapshot()))
	}

	// Close waits for the drain, so leaving the UI only stops the display.
	return RunJobProgress(localJobs{jobs: a.Jobs}, ptr(clientJob(job.Snapshot())),
		"Finishing the current upload before exit.")
}

func printJobOutcome(job client.Job) error {
	if job.Error != nil {
		return fmt.Errorf("sync failed: %s", *job.Error)
	}
	if job.Result != nil {
		fmt.Fprint(os.Stdout, summarize(defaultTheme, *job.Result))
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
