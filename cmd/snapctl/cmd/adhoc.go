package cmd

import (
	"strconv"
	"strings"

	"snapops/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	adhocType     string
	adhocAccounts []string
	adhocConfig   []string
)

var adhocCmd = &cobra.Command{
	Use:   "adhoc",
	Short: "Start an ad-hoc execution outside any job definition",
	Long: `Start a one-off execution for the agency.

Plain operation types need an explicit account list; GENERATE_LEADS and
QUICK_ADDS_TOP_ACCOUNTS pick their own accounts by score and must be given
their configuration instead.

Examples:
  snapctl adhoc --type QUICK_ADDS --accounts id1,id2 --config requests_per_account=10
  snapctl adhoc --type GENERATE_LEADS --config target_lead_number=500,accounts_number=20`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		agencyID := viper.GetString("agency")
		if agencyID == "" {
			cmd.Println("Agency ID not found. Please set it using the --agency flag or the SNAPOPS_AGENCY environment variable")
			return
		}
		if adhocType == "" {
			cmd.Println("Operation type is required, use --type")
			return
		}

		req := api.CreateExecutionRequest{
			AgencyID:      agencyID,
			Type:          adhocType,
			AccountIDs:    adhocAccounts,
			Configuration: parseConfigPairs(adhocConfig),
		}

		client := NewClient(viper.GetString("url"), viper.GetString("secret"), agencyID)
		resp, err := client.CreateExecution(req)
		if err != nil {
			cmd.Printf("Failed to start execution: %v\n", err)
			return
		}

		cmd.Printf("🚀 Execution started!\nID: %s\n", resp.ExecutionID)
	},
}

// parseConfigPairs turns key=value pairs into a configuration map, keeping
// numbers numeric so the controller sees the same types a JSON body would
// carry.
func parseConfigPairs(pairs []string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	cfg := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			continue
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			cfg[key] = n
		} else if b, err := strconv.ParseBool(value); err == nil {
			cfg[key] = b
		} else {
			cfg[key] = value
		}
	}
	return cfg
}

func init() {
	adhocCmd.Flags().StringVar(&adhocType, "type", "", "Operation type (QUICK_ADDS, GENERATE_LEADS, ...)")
	adhocCmd.Flags().StringSliceVar(&adhocAccounts, "accounts", nil, "Comma-separated account IDs")
	adhocCmd.Flags().StringSliceVar(&adhocConfig, "config", nil, "Configuration key=value pairs")

	rootCmd.AddCommand(adhocCmd)
}
