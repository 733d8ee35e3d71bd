package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "snapctl",
	Short: "Snapctl is a command line tool for the snapops orchestration engine",
	Long: `snapctl is the command-line interface for the snapops execution
orchestration engine.

Snapops runs bulk operations (quick adds, lead generation, conversation
checks, status checks) against the Snapchat accounts an agency manages.
Executions fan out into one work item per account and are processed by a
worker pool pulling from a durable Postgres queue.

Common workflows:

  Trigger a job dispatch (scheduler role):
    snapctl dispatch <job-id>

  Start an ad-hoc execution:
    snapctl adhoc --type QUICK_ADDS --accounts id1,id2 --config requests_per_account=10

  Check an execution:
    snapctl status <execution-id>

  List recent executions:
    snapctl executions --status DONE --limit 20

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    SNAPOPS_URL       Controller endpoint (default: http://localhost:6161)
    SNAPOPS_SECRET    Shared secret for the internal endpoints
    SNAPOPS_AGENCY    Agency ID for agency-scoped endpoints`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".snapctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".snapctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SNAPOPS_VARNAME"
	viper.SetEnvPrefix("SNAPOPS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.snapctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Snapops Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("secret", "s", "", "Shared secret for internal endpoints")
	viper.BindPFlag("secret", rootCmd.PersistentFlags().Lookup("secret"))

	rootCmd.PersistentFlags().StringP("agency", "a", "", "Agency ID for agency-scoped endpoints")
	viper.BindPFlag("agency", rootCmd.PersistentFlags().Lookup("agency"))
}
