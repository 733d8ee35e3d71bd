package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [job_id]",
	Short: "Trigger a dispatch of a job, as the scheduler would",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		secret := viper.GetString("secret")
		if secret == "" {
			cmd.Println("Internal secret not found. Please set it using the --secret flag or the SNAPOPS_SECRET environment variable")
			return
		}

		client := NewClient(viper.GetString("url"), secret, viper.GetString("agency"))
		resp, err := client.DispatchJob(jobID)
		if err != nil {
			cmd.Printf("Dispatch failed: %v\n", err)
			return
		}

		if resp.Skipped {
			cmd.Println("Job skipped (inactive job or expired subscription)")
			return
		}
		cmd.Printf("🚀 Execution dispatched!\nID: %s\n", resp.ExecutionID)
	},
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Trigger the daily workflow run",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		secret := viper.GetString("secret")
		if secret == "" {
			cmd.Println("Internal secret not found. Please set it using the --secret flag or the SNAPOPS_SECRET environment variable")
			return
		}

		client := NewClient(viper.GetString("url"), secret, "")
		if err := client.RunWorkflows(); err != nil {
			cmd.Printf("Workflow run failed: %v\n", err)
			return
		}
		cmd.Println("Workflows applied")
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Trigger the daily unlock of stale temporary locks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		secret := viper.GetString("secret")
		if secret == "" {
			cmd.Println("Internal secret not found. Please set it using the --secret flag or the SNAPOPS_SECRET environment variable")
			return
		}

		client := NewClient(viper.GetString("url"), secret, "")
		if err := client.UnlockAccounts(); err != nil {
			cmd.Printf("Unlock failed: %v\n", err)
			return
		}
		cmd.Println("Stale locks released")
	},
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(workflowsCmd)
	rootCmd.AddCommand(unlockCmd)
}
