package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	listStatus string
	listType   string
	listLimit  int
	listOffset int
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "List the agency's executions, newest first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		agencyID := viper.GetString("agency")
		if agencyID == "" {
			cmd.Println("Agency ID not found. Please set it using the --agency flag or the SNAPOPS_AGENCY environment variable")
			return
		}

		client := NewClient(viper.GetString("url"), viper.GetString("secret"), agencyID)
		executions, err := client.ListExecutions(listStatus, listType, listLimit, listOffset)
		if err != nil {
			cmd.Printf("Failed to list executions: %v\n", err)
			return
		}

		if len(executions) == 0 {
			cmd.Println("No executions found")
			return
		}

		for _, e := range executions {
			cmd.Printf("%s  %-28s %-12s %s\n",
				e.ID, e.Type, colorizeStatus(e.Status), e.StartTime.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	executionsCmd.Flags().StringVar(&listStatus, "status", "", "Filter by execution status")
	executionsCmd.Flags().StringVar(&listType, "type", "", "Filter by operation type")
	executionsCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum results")
	executionsCmd.Flags().IntVar(&listOffset, "offset", 0, "Result offset")

	rootCmd.AddCommand(executionsCmd)
}
