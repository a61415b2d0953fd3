package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"DocSage/backend/go/internal/models"

	"github.com/spf13/cobra"
)

var (
	jobWait      bool
	jobInterval  time.Duration
	reconcileAll bool
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect asynchronous ingestion jobs",
}

var getJobCmd = &cobra.Command{
	Use:   "get [job-id]",
	Short: "Show a job, optionally waiting until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		job, err := c.GetJob(ctx, args[0])
		for err == nil && jobWait && !job.Status.Terminal() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jobInterval):
			}
			job, err = c.GetJob(ctx, args[0])
		}
		if err != nil {
			return err
		}
		return printJob(cmd, job)
	},
}

func printJob(cmd *cobra.Command, job *models.IngestJob) error {
	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, job)
	}
	fmt.Fprintf(out, "job %s: %s (document %q, submitted %s)\n",
		job.ID, job.Status, job.Request.Name, job.SubmittedAt.Format(time.RFC3339))
	if job.Result != nil {
		fmt.Fprintf(out, "  %d chunks, %d stored, %d embedded\n", job.Result.Chunks, job.Result.Stored, job.Result.Embedded)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", job.Error)
	}
	return nil
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := c.CancelJob(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for %s\n", args[0])
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Embed chunks that were stored without a vector",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := companyID
		if reconcileAll {
			tenant = ""
		} else if err := requireCompany(); err != nil {
			return fmt.Errorf("%w (or pass --all)", err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		res, err := c.Reconcile(ctx, tenant)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, embedded %d, failed %d in %d rounds\n",
			res.Scanned, res.Embedded, res.Failed, res.Rounds)
		return nil
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the embedding credential pool",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		snap, err := c.Quota(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(cmd.OutOrStdout(), snap)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "circuit %s: %s, %d active credentials\n\n", snap.Circuit, snap.State, snap.Active)
		fmt.Fprintln(w, "CREDENTIAL\tSTATE\tFAILURES\tCOOLDOWN UNTIL")
		for _, cr := range snap.Credentials {
			until := "-"
			if cr.CooldownUntil != nil {
				until = cr.CooldownUntil.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%v\t%d\t%s\n", cr.ID, cr.State, cr.ConsecutiveFailures, until)
		}
		return w.Flush()
	},
}

func init() {
	getJobCmd.Flags().BoolVarP(&jobWait, "wait", "w", false, "poll until the job reaches a final status")
	getJobCmd.Flags().DurationVar(&jobInterval, "interval", time.Second, "poll interval with --wait")
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every tenant")

	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(getJobCmd)
	jobsCmd.AddCommand(cancelJobCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(quotaCmd)
}
