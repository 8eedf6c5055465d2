package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/assetcheck/internal/client"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect sync jobs",
	Long: `List sync jobs or inspect a specific job by ID.

Examples:
  assetcheck jobs           # List all jobs
  assetcheck jobs abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

// fetchJobs lists jobs from the server or the local job history.
func fetchJobs(ctx context.Context) ([]client.Job, error) {
	if c := serverClient(); c != nil {
		return c.ListJobs(ctx)
	}
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	var out []client.Job
	for _, j := range a.Jobs.ListJobs() {
		out = append(out, clientJob(j.Snapshot()))
	}
	return out, nil
}

func fetchJob(ctx context.Context, id string) (*client.Job, error) {
	if c := serverClient(); c != nil {
		return c.GetJob(ctx, id)
	}
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	return localJobs{jobs: a.Jobs}.GetJob(ctx, id)
}

func listJobs(ctx context.Context) error {
	jobs, err := fetchJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-12s %-10s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "STARTED")
	fmt.Println("------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := ""
		if job.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress, job.Total)
		}
		started := job.StartedAt.Format("15:04:05")
		fmt.Printf("%-10s %-10s %-12s %-10s %s\n", job.ID, job.Type, job.Status, progress, started)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := fetchJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Type: %s\n", job.Type)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.Total > 0 {
		fmt.Printf("  Progress: %d/%d\n", job.Progress, job.Total)
	}
	fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.StartedAt)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Second))
	}

	if job.Error != nil && *job.Error != "" {
		fmt.Printf("  Error: %s\n", *job.Error)
	}

	if job.Result != nil {
		fmt.Println("\nResult:")
		fmt.Printf("  Uploaded: %d\n", job.Result.Uploaded)
		fmt.Printf("  Already present: %d\n", job.Result.Skipped)
		fmt.Printf("  Still queued: %d\n", job.Result.Failed)
	}

	return nil
}
