package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flockml/flock/pkg/fapi/schemas"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control federated training jobs",
}

var jobsStatusFilter string

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Run: func(cmd *cobra.Command, args []string) {
		cli, err := newClient(cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}

		jobs, err := cli.ListJobs(cmd.Context(), jobsStatusFilter)
		exitIfAPIError(err)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tMODEL\tSTRATEGY\tROUNDS\tCLIENTS\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				j.ID, j.Status, j.Model, j.Strategy, j.Rounds, len(j.ClientsInfo),
				j.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cli, err := newClient(cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}

		job, err := cli.GetJob(cmd.Context(), args[0])
		exitIfAPIError(err)

		enc, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(enc))
	},
}

var jobsCreateFile string

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job from a JSON file",
	Run: func(cmd *cobra.Command, args []string) {
		cli, err := newClient(cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}

		raw, err := os.ReadFile(jobsCreateFile)
		if err != nil {
			log.Fatalf("reading %s: %v", jobsCreateFile, err)
		}
		var req schemas.CreateJobRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Fatalf("parsing %s: %v", jobsCreateFile, err)
		}

		job, err := cli.CreateJob(cmd.Context(), req)
		exitIfAPIError(err)
		fmt.Printf("Created job %s\n", job.ID)
	},
}

var jobsStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Start a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cli, err := newClient(cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}

		res, err := cli.StartJob(cmd.Context(), args[0])
		exitIfAPIError(err)

		fmt.Printf("Server run: %s\n", res.ServerUUID)
		for i, cu := range res.ClientUUIDs {
			fmt.Printf("Client %d run: %s\n", i, cu)
		}
	},
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Stop a job (best effort)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cli, err := newClient(cmd)
		if err != nil {
			log.Fatalf("%v", err)
		}

		err = cli.StopJob(cmd.Context(), args[0])
		exitIfAPIError(err)
		fmt.Println("Stop requested; job is now terminal")
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatusFilter, "status", "", "Filter by status (NOT_STARTED, IN_PROGRESS, FINISHED_SUCCESSFULLY, FINISHED_WITH_ERROR)")
	jobsCreateCmd.Flags().StringVarP(&jobsCreateFile, "file", "f", "job.json", "Job definition JSON file")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsStartCmd)
	jobsCmd.AddCommand(jobsStopCmd)
	rootCmd.AddCommand(jobsCmd)
}
